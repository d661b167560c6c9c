package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/equiclimate/enrich-cli/internal/enrich"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Repeatedly invoke batch windows until a partition is done",
	Long: `Stands in for an external scheduler: invokes the bounded batch
operation, waits the configured interval, and repeats until no eligible
regions remain, the round limit is hit, or the process is interrupted.
The core stays call-and-return; only this command owns the cadence.

Example:
  enrich-cli supervise --year 2024 --type country --interval 30 --max-rounds 50`,
	RunE: runSupervise,
}

func init() {
	f := superviseCmd.Flags()
	f.Int("year", 0, "data year to enrich (required)")
	f.String("type", "country", "region type: country or subdivision")
	f.Int("interval", 0, "seconds between rounds (default from config)")
	f.Int("max-rounds", 0, "stop after this many rounds (0 = until done)")
	_ = superviseCmd.MarkFlagRequired("year")

	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("batch"); err != nil {
		return err
	}

	year, _ := cmd.Flags().GetInt("year")
	typeFlag, _ := cmd.Flags().GetString("type")
	intervalSecs, _ := cmd.Flags().GetInt("interval")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")

	rt, err := parseRegionType(typeFlag)
	if err != nil {
		return err
	}
	if intervalSecs == 0 {
		intervalSecs = cfg.Enrich.SuperviseInterval
	}
	interval := time.Duration(intervalSecs) * time.Second

	env, err := initEnrich(ctx, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	req := enrich.BatchRequest{Year: year, RegionType: rt}
	var last enrich.BatchResult

	for round := 1; ; round++ {
		last, err = env.Scheduler.RunBatch(ctx, req)
		if err != nil {
			return eris.Wrapf(err, "supervise: round %d", round)
		}
		// Keep one worker identity across rounds so logs correlate.
		req.WorkerID = last.WorkerID

		zap.L().Info("supervise: round complete",
			zap.Int("round", round),
			zap.Int("enriched", last.Enriched),
			zap.Int("attempted", last.Attempted),
			zap.Int("failed", last.Failed),
			zap.Int("remaining", last.Remaining),
		)

		if !last.ShouldContinue {
			break
		}
		if maxRounds > 0 && round >= maxRounds {
			zap.L().Warn("supervise: round limit reached",
				zap.Int("max_rounds", maxRounds),
				zap.Int("remaining", last.Remaining),
			)
			break
		}

		select {
		case <-ctx.Done():
			zap.L().Info("supervise: interrupted")
			return nil
		case <-time.After(interval):
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(last)
}
