// Package cmd defines and implements the CLI commands for the mediawatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/archive"
	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/config"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/server"
	"github.com/JakeFAU/mediawatch/internal/watchdog"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows tests to inject a fake app.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	CollectSocial(ctx context.Context, clientID string, opts social.Options) (social.Stats, error)
	Ground(ctx context.Context, clientID string, days int, trigger media.GroundingTrigger) (media.GroundingResult, error)
	Archive(ctx context.Context) (archive.Result, error)
	CheckLiveness(ctx context.Context) (watchdog.Status, error)
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediawatch",
		Short: "Media monitoring pipeline: collectors, mentions, alerts and grounding.",
		Long: `mediawatch polls news feeds, search APIs and social platforms for
articles about tracked clients, turns keyword hits into mentions, classifies
them with a language model and alerts the client's Telegram group.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application once flags are parsed, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.Background())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed MEDIAWATCH_ override it)")

	cmd.AddCommand(
		newServeCmd(),
		newCollectSocialCmd(),
		newGroundCmd(),
		newArchiveCmd(),
		newWatchdogCmd(),
	)

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mediawatch:", err)
		os.Exit(1)
	}
}
