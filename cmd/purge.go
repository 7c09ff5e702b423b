package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	var (
		days      int
		artifacts bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop old retrieval records and, optionally, old strips.",
		Long: `Purge removes retrieval records older than --days (status.retention_days when
omitted). With --artifacts, strips older than retention.days are deleted too.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Purge(cmd.Context(), days, artifacts)
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&days, "days", -1, "record retention in days (default status.retention_days)")
	cmd.Flags().BoolVar(&artifacts, "artifacts", false, "also delete strips older than retention.days")
	return cmd
}
