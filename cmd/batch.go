package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/equiclimate/enrich-cli/internal/enrich"
	"github.com/equiclimate/enrich-cli/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one bounded enrichment batch window",
	Long: `Pulls the next window of regions still carrying placeholder data and
enriches them through the provider fallback chains. Each invocation does
bounded work and reports whether eligible regions remain; re-invocation
cadence belongs to the caller (cron, supervisor, or the supervise command).

Examples:
  # Enrich the next window of 2024 countries
  enrich-cli batch --year 2024 --type country

  # One of four parallel workers, each with its own starting offset
  enrich-cli batch --year 2024 --type subdivision --worker w2 --offset 20`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.Int("year", 0, "data year to enrich (required)")
	f.String("type", "country", "region type: country or subdivision")
	f.String("worker", "", "worker identifier (generated when empty)")
	f.Int("offset", 0, "starting offset into the eligible set")
	_ = batchCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(batchCmd)
}

func parseRegionType(s string) (model.RegionType, error) {
	rt := model.RegionType(s)
	switch rt {
	case model.RegionTypeCountry, model.RegionTypeSubdivision:
		return rt, nil
	default:
		return "", eris.Errorf("--type must be country or subdivision (got %q)", s)
	}
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("batch"); err != nil {
		return err
	}

	year, _ := cmd.Flags().GetInt("year")
	typeFlag, _ := cmd.Flags().GetString("type")
	workerID, _ := cmd.Flags().GetString("worker")
	offset, _ := cmd.Flags().GetInt("offset")

	rt, err := parseRegionType(typeFlag)
	if err != nil {
		return err
	}

	env, err := initEnrich(ctx, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Scheduler.RunBatch(ctx, enrich.BatchRequest{
		Year:       year,
		RegionType: rt,
		WorkerID:   workerID,
		Offset:     offset,
	})
	if err != nil {
		return eris.Wrap(err, "batch: run")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
