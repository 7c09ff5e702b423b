package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newNavigateCmd() *cobra.Command {
	var rawDate string
	cmd := &cobra.Command{
		Use:   "navigate <series-id> <first|last|at|next|previous>",
		Short: "Resolve a navigation request against the local cache.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid series id %q: %w", args[0], err)
			}
			date, err := parseOptionalDate(rawDate)
			if err != nil {
				return err
			}
			result, err := appInstance.Navigate(cmd.Context(), id, args[1], date)
			if err != nil {
				return fmt.Errorf("navigate failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&rawDate, "date", "", "reference date (yyyy-MM-dd) for at, next and previous")
	return cmd
}
