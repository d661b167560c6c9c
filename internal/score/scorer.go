package score

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/store"
)

// AggregateMethod names how a country composite is rolled up from its
// subdivisions. The caller must pick one explicitly.
type AggregateMethod string

const (
	AggPopulationWeighted AggregateMethod = "population"
	AggSimpleMean         AggregateMethod = "simple"
)

// Summary reports one ScorePartition run.
type Summary struct {
	Scored  int `json:"scored"`
	Skipped int `json:"skipped"`
}

// Scorer computes and persists composite scores over a store partition.
type Scorer struct {
	store store.Store
	clock clockwork.Clock
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithScorerClock injects the clock used for last_updated stamps.
func WithScorerClock(c clockwork.Clock) ScorerOption {
	return func(s *Scorer) { s.clock = c }
}

// NewScorer creates a Scorer over the given store.
func NewScorer(st store.Store, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		store: st,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScorePartition scores every enriched record in the partition and upserts
// the component and composite fields. Records with no scorable
// measurements are counted as skipped and left untouched.
func (s *Scorer) ScorePartition(ctx context.Context, p model.Partition) (Summary, error) {
	recs, err := s.store.ListEnriched(ctx, p)
	if err != nil {
		return Summary{}, eris.Wrap(err, "score: list enriched")
	}

	var sum Summary
	for i := range recs {
		rec := &recs[i]
		if ScoreRecord(rec) == nil {
			sum.Skipped++
			continue
		}
		rec.LastUpdated = s.clock.Now().UTC()
		if err := s.store.UpsertRegion(ctx, rec); err != nil {
			return sum, eris.Wrapf(err, "score: upsert %s/%d", rec.RegionCode, rec.DataYear)
		}
		sum.Scored++
	}

	zap.L().Info("score: partition scored",
		zap.String("partition", p.String()),
		zap.Int("scored", sum.Scored),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// CountryAggregate rolls up a country composite from its subdivision
// composites for one data year. AggSimpleMean averages every subdivision
// with a composite; AggPopulationWeighted weights by subdivision
// population and ignores subdivisions without one. Returns nil when no
// subdivision contributes.
func (s *Scorer) CountryAggregate(ctx context.Context, country string, year int, method AggregateMethod) (*float64, error) {
	subs, err := s.store.ListSubdivisions(ctx, country, year)
	if err != nil {
		return nil, eris.Wrapf(err, "score: list subdivisions for %s/%d", country, year)
	}

	switch method {
	case AggSimpleMean:
		sum := 0.0
		n := 0
		for i := range subs {
			if subs[i].CIIScore == nil {
				continue
			}
			sum += *subs[i].CIIScore
			n++
		}
		if n == 0 {
			return nil, nil
		}
		return ptr(clamp01(sum / float64(n))), nil

	case AggPopulationWeighted:
		weighted := 0.0
		total := 0.0
		for i := range subs {
			rec := &subs[i]
			if rec.CIIScore == nil || rec.Population == nil || *rec.Population <= 0 {
				continue
			}
			w := float64(*rec.Population)
			weighted += w * *rec.CIIScore
			total += w
		}
		if total == 0 {
			return nil, nil
		}
		return ptr(clamp01(weighted / total)), nil

	default:
		return nil, eris.Errorf("score: unknown aggregate method %q", string(method))
	}
}
