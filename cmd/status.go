package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/status"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect retrieval records.",
	}
	cmd.AddCommand(newStatusListCmd(), newStatusGetCmd(), newStatusErrorsCmd(), newStatusSummaryCmd())
	return cmd
}

type filterFlags struct {
	series string
	status string
	from   string
	to     string
	limit  int
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.series, "series", "", "series name")
	cmd.Flags().StringVar(&f.status, "status", "", "retrieval status, e.g. SUCCESS")
	cmd.Flags().StringVar(&f.from, "from", "", "earliest strip date (yyyy-MM-dd)")
	cmd.Flags().StringVar(&f.to, "to", "", "latest strip date (yyyy-MM-dd)")
}

func (f *filterFlags) build() (status.Filter, error) {
	filter := status.Filter{SeriesName: f.series, Limit: f.limit}
	if f.status != "" {
		s, err := comic.ParseStatus(f.status)
		if err != nil {
			return filter, err
		}
		filter.Status = s
	}
	var err error
	if filter.From, err = parseOptionalDate(f.from); err != nil {
		return filter, err
	}
	if filter.To, err = parseOptionalDate(f.to); err != nil {
		return filter, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("--to %s is before --from %s", f.to, f.from)
	}
	return filter, nil
}

func newStatusListCmd() *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retrieval records, newest first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter, err := flags.build()
			if err != nil {
				return err
			}
			records := appInstance.Status().List(filter)
			if records == nil {
				records = []comic.RetrievalRecord{}
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&flags.limit, "limit", 100, "maximum records to return")
	return cmd
}

func newStatusGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <record-id>",
		Short: "Show one retrieval record, e.g. TestComic_2023-01-05.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rec, ok := appInstance.Status().Get(args[0])
			if !ok {
				return fmt.Errorf("retrieval record %q not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newStatusErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors <series-name>",
		Short: "Show the most recent failed retrievals of a series.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records := appInstance.Status().Errors(args[0])
			if records == nil {
				records = []comic.RetrievalRecord{}
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
}

type summaryLine struct {
	Status comic.RetrievalStatus `json:"status"`
	Count  int                   `json:"count"`
}

func newStatusSummaryCmd() *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count retrieval records per status.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter, err := flags.build()
			if err != nil {
				return err
			}
			counts := appInstance.Status().Summary(filter)
			lines := make([]summaryLine, 0, len(comic.AllStatuses()))
			for _, s := range comic.AllStatuses() {
				lines = append(lines, summaryLine{Status: s, Count: counts[s]})
			}
			return printJSON(cmd.OutOrStdout(), lines)
		},
	}
	flags.bind(cmd)
	return cmd
}
