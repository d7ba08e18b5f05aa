package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var briefingDays int

func init() {
	briefingCmd.Flags().IntVar(&briefingDays, "days", 7, "window length in days ending now")
}

// BriefingSummary mirrors the fields of internal/briefing Summary that
// the CLI prints.
type BriefingSummary struct {
	ByStatus map[string]int `json:"by_status"`
	ByDomain map[string]int `json:"by_domain"`
	BySource map[string]int `json:"by_source"`
	Stale    []struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	} `json:"stale"`
	Failures []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"failures"`
	AuditEvents int `json:"audit_events"`
}

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Generate the weekly briefing",
	Long: `Run the weekly aggregator over a recent window. The daemon writes
the briefing document into the vault's Briefings directory and the
summary is printed here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary BriefingSummary
		req := map[string]int{"days": briefingDays}
		if err := postJSON("/api/v1/briefing", req, &summary); err != nil {
			return err
		}

		fmt.Printf("Briefing over the last %d days:\n", briefingDays)
		for _, status := range []string{"done", "failed", "needs_action", "in_progress", "new"} {
			if n := summary.ByStatus[status]; n > 0 {
				fmt.Printf("  %-13s %d\n", status, n)
			}
		}
		if len(summary.Stale) > 0 {
			fmt.Println("Stuck awaiting approval:")
			for _, s := range summary.Stale {
				fmt.Printf("  %s (%s)\n", s.ID, s.Source)
			}
		}
		if len(summary.Failures) > 0 {
			fmt.Println("Failures:")
			for _, f := range summary.Failures {
				fmt.Printf("  %s: %s\n", f.ID, f.Reason)
			}
		}
		fmt.Printf("%d audit events in period\n", summary.AuditEvents)
		return nil
	},
}
