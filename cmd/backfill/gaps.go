package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adsight/backfill/internal/gaps"
)

var (
	gapsProject string
	gapsSince   string
	gapsUntil   string
	gapsFix     bool
)

func newGapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Detect and repair holes in the daily metric series",
	}

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Scan for missing spans of daily data",
		Long: `Scan the daily series for contiguous missing spans long enough to count
as gaps. Without --project every active project is scanned. With --fix each
gap is re-imported through the regular retry discipline.`,
		Example: `  backfill gaps scan --project proj-1
  backfill gaps scan --since 2024-01-01 --until 2024-12-31 --fix`,
		RunE: gapsScanRun,
	}

	scan.Flags().StringVar(&gapsProject, "project", "", "project ID (all active projects when omitted)")
	scan.Flags().StringVar(&gapsSince, "since", "", "range start (YYYY-MM-DD)")
	scan.Flags().StringVar(&gapsUntil, "until", "", "range end (YYYY-MM-DD)")
	scan.Flags().BoolVar(&gapsFix, "fix", false, "re-import each detected gap")

	cmd.AddCommand(scan)
	return cmd
}

func gapsScanRun(cmd *cobra.Command, args []string) error {
	if err := initEngine(); err != nil {
		return err
	}

	rng, err := resolveRange(gapsSince, gapsUntil)
	if err != nil {
		return err
	}

	var reports []*gaps.Report
	if gapsProject != "" {
		project, err := globalStore.GetProject(gapsProject)
		if err != nil {
			return fmt.Errorf("project %s: %w", gapsProject, err)
		}
		report, err := globalScanner.Scan(cmd.Context(), project, rng, gapsFix)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = globalScanner.ScanAll(cmd.Context(), rng, gapsFix)
		if err != nil {
			return err
		}
	}

	for _, r := range reports {
		if r.GapsFound == 0 {
			fmt.Printf("%s: no gaps in %s\n", r.ProjectID, rng.String())
			continue
		}
		fmt.Printf("%s: %d gaps found", r.ProjectID, r.GapsFound)
		if gapsFix {
			fmt.Printf(", %d healed, %d records imported", r.GapsFixed, r.Records)
		}
		fmt.Println()
		for _, g := range r.Gaps {
			fmt.Printf("  %s (%d days)\n", g.Range().String(), g.Days)
		}
	}
	return nil
}
