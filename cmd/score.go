package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/score"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute composite scores over enriched regions",
	Long: `Derives the component scores (climate risk, infrastructure gap,
socioeconomic vulnerability, air quality) from enriched measurements and
persists the weighted composite index per record.

With --aggregate, additionally rolls a country composite up from its
subdivision composites; --method picks the averaging rule.

Examples:
  # Score every enriched 2024 subdivision
  enrich-cli score --year 2024 --type subdivision

  # Score and report the population-weighted country roll-up
  enrich-cli score --year 2024 --type subdivision --aggregate BGD --method population`,
	RunE: runScoreCmd,
}

func init() {
	f := scoreCmd.Flags()
	f.Int("year", 0, "data year to score (required)")
	f.String("type", "country", "region type: country or subdivision")
	f.String("aggregate", "", "country code to aggregate subdivision composites for")
	f.String("method", "population", "aggregation method: population or simple")
	_ = scoreCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(scoreCmd)
}

func runScoreCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("batch"); err != nil {
		return err
	}

	year, _ := cmd.Flags().GetInt("year")
	typeFlag, _ := cmd.Flags().GetString("type")
	aggregate, _ := cmd.Flags().GetString("aggregate")
	methodFlag, _ := cmd.Flags().GetString("method")

	rt, err := parseRegionType(typeFlag)
	if err != nil {
		return err
	}

	var method score.AggregateMethod
	switch methodFlag {
	case "population":
		method = score.AggPopulationWeighted
	case "simple":
		method = score.AggSimpleMean
	default:
		return eris.Errorf("--method must be population or simple (got %q)", methodFlag)
	}

	env, err := initEnrich(ctx, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	summary, err := env.Scorer.ScorePartition(ctx, model.Partition{
		RegionType: rt,
		DataYear:   year,
	})
	if err != nil {
		return err
	}

	out := struct {
		score.Summary
		Aggregate *struct {
			Country string   `json:"country"`
			Method  string   `json:"method"`
			CII     *float64 `json:"cii_score"`
		} `json:"aggregate,omitempty"`
	}{Summary: summary}

	if aggregate != "" {
		cii, err := env.Scorer.CountryAggregate(ctx, aggregate, year, method)
		if err != nil {
			return err
		}
		out.Aggregate = &struct {
			Country string   `json:"country"`
			Method  string   `json:"method"`
			CII     *float64 `json:"cii_score"`
		}{Country: aggregate, Method: methodFlag, CII: cii}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
