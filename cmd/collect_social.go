package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/media"
)

func newCollectSocialCmd() *cobra.Command {
	var (
		clientID   string
		platforms  []string
		noHandles  bool
		noHashtags bool
		noKeywords bool
	)

	cmd := &cobra.Command{
		Use:   "collect-social",
		Short: "Sweep social platforms once for every enabled client, or one client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := social.Options{
				SkipHandles:  noHandles,
				SkipHashtags: noHashtags,
				SkipKeywords: noKeywords,
			}
			for _, p := range platforms {
				platform := media.Platform(strings.ToUpper(strings.TrimSpace(p)))
				if !platform.Valid() {
					return fmt.Errorf("unknown platform %q", p)
				}
				opts.Platforms = append(opts.Platforms, platform)
			}

			stats, err := appInstance.CollectSocial(cmd.Context(), clientID, opts)
			if err != nil {
				return fmt.Errorf("collect social: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "limit the sweep to one client id")
	cmd.Flags().StringSliceVar(&platforms, "platforms", nil, "platforms to sweep (TWITTER,INSTAGRAM,TIKTOK)")
	cmd.Flags().BoolVar(&noHandles, "no-handles", false, "skip the client's handles")
	cmd.Flags().BoolVar(&noHashtags, "no-hashtags", false, "skip the client's hashtags")
	cmd.Flags().BoolVar(&noKeywords, "no-keywords", false, "skip keyword searches")
	return cmd
}
