package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect recorded usage",
	Long: `Inspect the append-only usage ledger.

Examples:
  metergate usage summary --profile=<profile-id> --hours=24
  metergate usage recent --profile=<profile-id> --limit=20`,
}

var usageSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregated usage for a caller",
	RunE:  runUsageSummary,
}

var usageRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Recent calls for a caller, newest first",
	RunE:  runUsageRecent,
}

var (
	usageProfileID string
	usageHours     int
	usageLimit     int
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageSummaryCmd)
	usageCmd.AddCommand(usageRecentCmd)

	usageSummaryCmd.Flags().StringVar(&usageProfileID, "profile", "", "profile ID (required)")
	usageSummaryCmd.Flags().IntVar(&usageHours, "hours", 24, "trailing window in hours")
	usageSummaryCmd.MarkFlagRequired("profile")

	usageRecentCmd.Flags().StringVar(&usageProfileID, "profile", "", "profile ID (required)")
	usageRecentCmd.Flags().IntVar(&usageLimit, "limit", 20, "max records")
	usageRecentCmd.MarkFlagRequired("profile")
}

func runUsageSummary(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	to := time.Now().UTC()
	from := to.Add(-time.Duration(usageHours) * time.Hour)
	sum, err := s.ledger.Summary(context.Background(), usageProfileID, from, to)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}

	fmt.Printf("Usage for %s (%s to %s)\n\n", usageProfileID,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	fmt.Printf("  Total calls:    %d\n", sum.TotalCalls)
	fmt.Printf("  Credits spent:  %d\n", sum.CreditsSpent)
	fmt.Printf("  Avg latency:    %d ms (admitted calls)\n", sum.AvgLatencyMs)
	if len(sum.ByOutcome) > 0 {
		fmt.Println("  By outcome:")
		for outcome, n := range sum.ByOutcome {
			fmt.Printf("    %-22s %d\n", outcome, n)
		}
	}
	return nil
}

func runUsageRecent(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	records, err := s.ledger.Recent(context.Background(), usageProfileID, usageLimit)
	if err != nil {
		return fmt.Errorf("recent: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAPI\tOUTCOME\tSTATUS\tLATENCY\tCREDITS")
	fmt.Fprintln(w, "----\t---\t-------\t------\t-------\t-------")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%d\n",
			r.CreatedAt.Format(time.RFC3339), r.APIID, r.Outcome,
			r.StatusCode, r.LatencyMs, r.CreditsCharged)
	}
	return w.Flush()
}
