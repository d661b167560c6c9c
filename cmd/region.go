package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var regionCmd = &cobra.Command{
	Use:   "region CODE",
	Short: "Enrich a single region",
	Long: `Runs the full provider fallback chain for one region and upserts the
result, regardless of the region's position in the batch queue.

Examples:
  enrich-cli region DEU --year 2024
  enrich-cli region BGD-C --year 2023`,
	Args: cobra.ExactArgs(1),
	RunE: runRegion,
}

func init() {
	regionCmd.Flags().Int("year", 0, "data year (required)")
	_ = regionCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(regionCmd)
}

func runRegion(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("batch"); err != nil {
		return err
	}

	year, _ := cmd.Flags().GetInt("year")

	env, err := initEnrich(ctx, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Worker.EnrichOne(ctx, args[0], year)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
