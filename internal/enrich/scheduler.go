package enrich

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/observability"
	"github.com/equiclimate/enrich-cli/internal/store"
)

// BatchRequest asks for one bounded window of enrichment work. Offset is an
// explicit record offset into the eligible set; multi-worker deployments
// stride offsets by worker_count x page_size on the calling side.
type BatchRequest struct {
	Year       int              `json:"year"`
	RegionType model.RegionType `json:"region_type"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Offset     int              `json:"offset"`
}

// BatchResult reports what one invocation did and whether eligible work
// remains. The caller owns re-invocation cadence. Success is the nil error
// from RunBatch, not a field here; a batch is complete when Remaining is
// zero, which is also when ShouldContinue turns false.
type BatchResult struct {
	WorkerID       string `json:"worker_id"`
	Enriched       int    `json:"enriched"`
	Attempted      int    `json:"attempted"`
	Failed         int    `json:"failed"`
	Remaining      int    `json:"remaining"`
	ShouldContinue bool   `json:"should_continue"`
}

// Scheduler runs bounded batch windows. It holds no loop and no cross-call
// state; every invocation is a fresh window over the store.
type Scheduler struct {
	store       store.Store
	worker      *Worker
	metrics     *observability.Metrics
	clock       clockwork.Clock
	pageSize    int
	concurrency int
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithPageSize sets the number of regions per batch window.
func WithPageSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithConcurrency bounds parallel region workers within a window.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSchedulerClock injects the clock used for eligibility timestamps.
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSchedulerMetrics attaches batch metrics.
func WithSchedulerMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler over the given store and worker.
func NewScheduler(st store.Store, worker *Worker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:       st,
		worker:      worker,
		clock:       clockwork.NewRealClock(),
		pageSize:    10,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunBatch processes one offset window of the partition and returns. Regions
// already in flight when the context is cancelled finish and persist;
// unstarted regions in the window are not dispatched.
func (s *Scheduler) RunBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	result := BatchResult{WorkerID: req.WorkerID}
	if result.WorkerID == "" {
		result.WorkerID = uuid.New().String()
	}

	partition := model.Partition{RegionType: req.RegionType, DataYear: req.Year}
	filter := store.EnrichmentFilter{
		Partition:   partition,
		MaxAttempts: s.worker.MaxAttempts(),
		Now:         s.clock.Now().UTC(),
		Offset:      req.Offset,
		Limit:       s.pageSize,
	}

	start := s.clock.Now()
	recs, err := s.store.ListNeedingEnrichment(ctx, filter)
	if err != nil {
		return result, eris.Wrapf(err, "enrich: list window %s", partition)
	}

	zap.L().Info("enrich: batch window",
		zap.String("worker_id", result.WorkerID),
		zap.String("partition", partition.String()),
		zap.Int("offset", req.Offset),
		zap.Int("window", len(recs)),
	)

	var enriched, attempted, failed atomic.Int64

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.concurrency)
	for i := range recs {
		// Cancellation stops dispatch; regions already running finish.
		if ctx.Err() != nil {
			break
		}
		rec := recs[i]
		g.Go(func() error {
			// g.Go can block on a slot past the dispatch check, so a region
			// picked up before cancellation may only start after it. Skip
			// without touching the record or the counters.
			if ctx.Err() != nil {
				return nil
			}
			res, perr := s.worker.ProcessRegion(gctx, &rec)
			if perr != nil {
				zap.L().Warn("enrich: region invocation broke",
					zap.String("region", rec.RegionCode),
					zap.Error(perr),
				)
				failed.Add(1)
				return nil
			}
			switch res.Outcome {
			case OutcomeEnriched:
				enriched.Add(1)
			case OutcomeAttempted:
				attempted.Add(1)
			case OutcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Enriched = int(enriched.Load())
	result.Attempted = int(attempted.Load())
	result.Failed = int(failed.Load())

	// The count still runs after cancellation so the caller gets a complete
	// result for the work that did happen.
	filter.Now = s.clock.Now().UTC()
	filter.Offset = 0
	remaining, err := s.store.CountNeedingEnrichment(context.WithoutCancel(ctx), filter)
	if err != nil {
		return result, eris.Wrapf(err, "enrich: count remaining %s", partition)
	}
	result.Remaining = remaining
	result.ShouldContinue = remaining > 0 && ctx.Err() == nil

	s.metrics.RecordBatch(s.clock.Since(start).Seconds(), len(recs), remaining)
	return result, nil
}
