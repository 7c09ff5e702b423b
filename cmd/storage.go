package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and manage the local strip cache.",
	}
	cmd.AddCommand(newStorageSizeCmd(), newStorageOrphansCmd(), newStorageDeleteCmd())
	return cmd
}

func newStorageSizeCmd() *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Report bytes on disk per series.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sizes, err := appInstance.StorageSize(ids)
			if err != nil {
				return fmt.Errorf("storage size failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sizes)
		},
	}
	cmd.Flags().IntSliceVar(&ids, "series", nil, "series ids (default all)")
	return cmd
}

func newStorageOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List cache directories that match no configured series.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dirs, err := appInstance.OrphanDirs()
			if err != nil {
				return fmt.Errorf("orphan scan failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), dirs)
		},
	}
}

type deleteReport struct {
	SeriesID int  `json:"seriesId"`
	Deleted  bool `json:"deleted"`
}

func newStorageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <series-id>",
		Short: "Remove every cached strip and the avatar of a series.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid series id %q: %w", args[0], err)
			}
			deleted, err := appInstance.DeleteSeries(id)
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), deleteReport{SeriesID: id, Deleted: deleted})
		},
	}
}
