package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tether-go/internal/analytics"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Roll visits up into daily analytics",
	Long: `Roll visits up into daily analytics. Without --owner every owner with
visits on the date is aggregated. The date defaults to today (UTC).`,
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().String("owner", "", "Only aggregate this owner (UUID)")
	aggregateCmd.Flags().String("date", "", "Date to aggregate, YYYY-MM-DD")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	date := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", raw, err)
		}
		date = parsed
	}

	var owner uuid.UUID
	if raw, _ := cmd.Flags().GetString("owner"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --owner %q: %w", raw, err)
		}
		owner = parsed
	}

	a, err := bootstrap(cmd.Context(), bootstrapOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	aggregator := analytics.NewAggregator(a.visits, analytics.NewPostgresRepository(a.db.DB))
	out := cmd.OutOrStdout()

	if owner != uuid.Nil {
		summary, err := aggregator.Aggregate(cmd.Context(), owner, date)
		if err != nil {
			return err
		}
		printSummary(cmd, summary)
		return nil
	}

	summaries, err := aggregator.AggregateAll(cmd.Context(), date)
	for _, s := range summaries {
		printSummary(cmd, s)
	}
	fmt.Fprintf(out, "Aggregated %s owners for %s\n", humanize.Comma(int64(len(summaries))), date.Format(time.DateOnly))
	return err
}

func printSummary(cmd *cobra.Command, s *analytics.Summary) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s visits  %s metrics  %s stale removed\n",
		s.Date.Format(time.DateOnly),
		s.OwnerID,
		humanize.Comma(int64(s.TotalVisits)),
		humanize.Comma(int64(len(s.Metrics))),
		humanize.Comma(s.Removed),
	)
}
