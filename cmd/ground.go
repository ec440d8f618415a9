package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mediawatch/internal/media"
)

func newGroundCmd() *cobra.Command {
	var (
		clientID string
		days     int
		trigger  string
	)

	cmd := &cobra.Command{
		Use:   "ground",
		Short: "Run a grounding search for one client and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}

			result, err := appInstance.Ground(cmd.Context(), clientID, days, media.GroundingTrigger(trigger))
			if err != nil {
				return fmt.Errorf("ground %s: %w", clientID, err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "client id to ground (required)")
	cmd.Flags().IntVar(&days, "days", 7, "how many days back to search")
	cmd.Flags().StringVar(&trigger, "trigger", string(media.TriggerManual), "trigger recorded on the result")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
