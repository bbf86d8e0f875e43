package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	tickOrg  string
	tickDate string
)

func init() {
	tickCmd.Flags().StringVar(&tickOrg, "org", "", "organization to schedule (required)")
	tickCmd.Flags().StringVar(&tickDate, "date", "", "calendar date YYYY-MM-DD in the organization's zone (defaults to today)")
	_ = tickCmd.MarkFlagRequired("org")
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduling tick for an organization",
	Long: `Create today's pending check-ins for an organization and print the report.

Running a tick twice for the same day creates nothing new.

Examples:
  dotcheck tick --org org-1
  dotcheck tick --org org-1 --date 2026-10-19`,
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.scheduler.RunTickOn(cmd.Context(), tickOrg, tickDate)
	if err != nil {
		return fmt.Errorf("tick %s: %w", tickOrg, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
