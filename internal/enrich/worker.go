// Package enrich runs the enrichment pipeline: the per-region worker state
// machine and the bounded batch scheduler over a placeholder partition.
package enrich

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/observability"
	"github.com/equiclimate/enrich-cli/internal/resilience"
	"github.com/equiclimate/enrich-cli/internal/store"
)

// Outcome is the terminal state of one region invocation.
type Outcome string

const (
	// OutcomeEnriched: at least one field got a real value.
	OutcomeEnriched Outcome = "enriched"
	// OutcomeAttempted: every provider answered but none had usable data.
	OutcomeAttempted Outcome = "attempted"
	// OutcomeFailed: an unexpected error; the region is postponed.
	OutcomeFailed Outcome = "failed"
)

// Resolver produces the merged measurements for one region. Provider-level
// failures are absorbed inside; only context cancellation surfaces.
type Resolver interface {
	Resolve(ctx context.Context, rec *model.RegionRecord) (model.Measurements, error)
}

// Result describes what one region invocation did.
type Result struct {
	Outcome       Outcome           `json:"outcome"`
	RegionCode    string            `json:"region_code"`
	FieldsUpdated []string          `json:"fields_updated,omitempty"`
	Sources       map[string]string `json:"sources,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// Worker advances one region through the enrichment state machine:
// Pending -> Fetching -> Enriched | Attempted | Failed. Each invocation
// performs exactly one store upsert.
type Worker struct {
	store       store.Store
	resolver    Resolver
	metrics     *observability.Metrics
	clock       clockwork.Clock
	maxAttempts int
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithWorkerClock injects the clock used for timestamps and backoff anchors.
func WithWorkerClock(c clockwork.Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

// WithWorkerMetrics attaches outcome metrics.
func WithWorkerMetrics(m *observability.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithMaxAttempts sets the region attempt ceiling.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// NewWorker creates a worker over the given store and resolver.
func NewWorker(st store.Store, resolver Resolver, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:       st,
		resolver:    resolver,
		clock:       clockwork.NewRealClock(),
		maxAttempts: resilience.DefaultMaxRegionAttempts,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MaxAttempts returns the configured region attempt ceiling.
func (w *Worker) MaxAttempts() int {
	return w.maxAttempts
}

// ProcessRegion runs the state machine for one record. The record is mutated
// in place to its terminal state and upserted once. A non-nil error is
// returned only when the invocation itself broke (context cancelled before
// any state change, or the single upsert failed); provider misses are data,
// not errors.
func (w *Worker) ProcessRegion(ctx context.Context, rec *model.RegionRecord) (Result, error) {
	res := Result{RegionCode: rec.RegionCode}

	m, err := w.resolver.Resolve(ctx, rec)
	if err != nil {
		// Only cancellation reaches here; no state change, no upsert.
		return res, eris.Wrapf(err, "enrich: resolve %s", rec.RegionCode)
	}

	// Snapshot before mutation: a failed upsert must persist the failure
	// state of the original record, not a half-applied one.
	orig := cloneRecord(rec)

	now := w.clock.Now().UTC()
	if m.IsEmpty() {
		w.applyAttempted(rec, now)
		res.Outcome = OutcomeAttempted
		res.Message = "providers had no usable data"
	} else {
		res.FieldsUpdated = w.applyEnriched(rec, m, now)
		res.Outcome = OutcomeEnriched
		res.Sources = m.Sources
	}

	if err := w.store.UpsertRegion(ctx, rec); err != nil {
		w.applyFailed(orig, err, now)
		*rec = *orig
		if uerr := w.store.UpsertRegion(ctx, rec); uerr != nil {
			// Even the failure record would not persist; surface as fatal.
			w.metrics.RecordRegion(string(OutcomeFailed))
			return Result{RegionCode: rec.RegionCode, Outcome: OutcomeFailed},
				eris.Wrapf(uerr, "enrich: persist failure state %s", rec.RegionCode)
		}
		zap.L().Warn("enrich: region failed",
			zap.String("region", rec.RegionCode),
			zap.Int("attempts", rec.EnrichmentAttempts),
			zap.Error(err),
		)
		w.metrics.RecordRegion(string(OutcomeFailed))
		return Result{
			RegionCode: rec.RegionCode,
			Outcome:    OutcomeFailed,
			Message:    rec.EnrichmentError,
		}, nil
	}

	w.metrics.RecordRegion(string(res.Outcome))
	zap.L().Info("enrich: region processed",
		zap.String("region", rec.RegionCode),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("fields", len(res.FieldsUpdated)),
	)
	return res, nil
}

// applyEnriched copies resolved fields onto the record and flips provenance
// from placeholder to real. Returns the names of the fields updated.
func (w *Worker) applyEnriched(rec *model.RegionRecord, m model.Measurements, now time.Time) []string {
	var updated []string
	set := func(field string, apply func()) {
		apply()
		updated = append(updated, field)
	}

	if m.Population != nil {
		set(model.FieldPopulation, func() { rec.Population = m.Population })
	}
	if m.GDPPerCapita != nil {
		set(model.FieldGDPPerCapita, func() { rec.GDPPerCapita = m.GDPPerCapita })
	}
	if m.UrbanPopulationPct != nil {
		set(model.FieldUrbanPct, func() { rec.UrbanPopulationPct = m.UrbanPopulationPct })
	}
	if m.AirQualityPM25 != nil {
		set(model.FieldPM25, func() { rec.AirQualityPM25 = m.AirQualityPM25 })
	}
	if m.AirQualityNO2 != nil {
		set(model.FieldNO2, func() { rec.AirQualityNO2 = m.AirQualityNO2 })
	}
	if m.TemperatureAvg != nil {
		set(model.FieldTemperature, func() { rec.TemperatureAvg = m.TemperatureAvg })
	}
	if m.PrecipitationAvg != nil {
		set(model.FieldPrecipitation, func() { rec.PrecipitationAvg = m.PrecipitationAvg })
	}
	if m.InternetSpeedDownload != nil {
		set(model.FieldInternetDownload, func() { rec.InternetSpeedDownload = m.InternetSpeedDownload })
	}
	if m.InternetSpeedUpload != nil {
		set(model.FieldInternetUpload, func() { rec.InternetSpeedUpload = m.InternetSpeedUpload })
	}

	rec.RemoveTag(model.TagSynthetic)
	rec.RemoveTag(model.TagAttemptedNoData)
	for _, provider := range orderedProviders(m.Sources) {
		rec.AddTag(model.RealTag(provider))
	}
	rec.EnrichmentAttempts = 0
	rec.NextRetryAt = nil
	rec.EnrichmentError = ""
	rec.LastUpdated = now
	return updated
}

// applyAttempted marks a region as visited with nothing found: placeholder
// tag gone, all measurement fields explicitly null. Real-data tags from an
// earlier enrichment are stripped too, so data_sources never claims values
// the record no longer holds.
func (w *Worker) applyAttempted(rec *model.RegionRecord, now time.Time) {
	rec.ClearMeasurements()

	rec.RemoveTag(model.TagSynthetic)
	rec.RemoveRealTags()
	rec.AddTag(model.TagAttemptedNoData)
	rec.NextRetryAt = nil
	rec.EnrichmentError = ""
	rec.LastUpdated = now
}

// applyFailed postpones the region; past the ceiling the retry window is
// cleared so only a manual reset revives it.
func (w *Worker) applyFailed(rec *model.RegionRecord, cause error, now time.Time) {
	rec.EnrichmentAttempts++
	rec.NextRetryAt = resilience.NextRetryAt(now, rec.EnrichmentAttempts, w.maxAttempts)
	rec.EnrichmentError = cause.Error()
	rec.LastUpdated = now
}

// cloneRecord copies a record deeply enough that tag mutations on one copy
// don't leak into the other.
func cloneRecord(rec *model.RegionRecord) *model.RegionRecord {
	out := *rec
	out.DataSources = append([]string(nil), rec.DataSources...)
	return &out
}

// orderedProviders returns the distinct providers in Sources, in canonical
// chain order so data_sources reads deterministically.
func orderedProviders(sources map[string]string) []string {
	canonical := []string{
		model.ProviderWorldBank,
		model.ProviderRESTCountries,
		model.ProviderGeoNames,
		model.ProviderOpenAQ,
		model.ProviderOpenMeteo,
		model.ProviderNASAPower,
		model.ProviderOokla,
	}
	present := make(map[string]bool, len(sources))
	for _, p := range sources {
		present[p] = true
	}
	var out []string
	for _, p := range canonical {
		if present[p] {
			out = append(out, p)
		}
	}
	return out
}
