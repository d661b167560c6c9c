package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset CODE",
	Short: "Restore a region to enrichment eligibility",
	Long: `Clears a region's attempt counter, backoff window, and error, and tags
it as placeholder again. This is the manual escape hatch for regions that
hit the attempt ceiling and were permanently skipped.

Example:
  enrich-cli reset DEU-BE --year 2024`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().Int("year", 0, "data year (required)")
	_ = resetCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("batch"); err != nil {
		return err
	}

	year, _ := cmd.Flags().GetInt("year")

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.ResetEnrichment(ctx, args[0], year); err != nil {
		return err
	}

	fmt.Printf("region %s/%d is eligible for enrichment again\n", args[0], year)
	return nil
}
