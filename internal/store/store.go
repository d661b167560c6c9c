package store

import (
	"context"
	"errors"
	"time"

	"github.com/equiclimate/enrich-cli/internal/model"
)

// ErrNotFound is returned when a (region_code, data_year) key has no record.
var ErrNotFound = errors.New("region not found")

// EnrichmentFilter selects the records a batch window may process: still
// placeholder, attempts below the ceiling, and past their retry backoff.
type EnrichmentFilter struct {
	Partition   model.Partition
	MaxAttempts int
	Now         time.Time
	Offset      int
	Limit       int
}

// Store defines persistence for region records.
type Store interface {
	// UpsertRegion writes the full record keyed on (region_code,
	// data_year); all columns land or none do.
	UpsertRegion(ctx context.Context, rec *model.RegionRecord) error
	GetRegion(ctx context.Context, code string, year int) (*model.RegionRecord, error)

	// ListNeedingEnrichment returns one offset window of eligible records,
	// ordered by region_code so concurrent workers see stable windows.
	ListNeedingEnrichment(ctx context.Context, f EnrichmentFilter) ([]model.RegionRecord, error)
	CountNeedingEnrichment(ctx context.Context, f EnrichmentFilter) (int, error)

	// ListEnriched returns records the pipeline has already visited
	// (placeholder tag gone), for scoring.
	ListEnriched(ctx context.Context, p model.Partition) ([]model.RegionRecord, error)
	ListSubdivisions(ctx context.Context, country string, year int) ([]model.RegionRecord, error)

	// ResetEnrichment restores a region to placeholder eligibility:
	// attempts and error cleared, retry window cleared, synthetic tag back.
	ResetEnrichment(ctx context.Context, code string, year int) error

	// SeedRegions inserts placeholder records, leaving existing keys
	// untouched. Returns the number of rows actually inserted.
	SeedRegions(ctx context.Context, recs []model.RegionRecord) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// regionColumns is the canonical column order shared by both backends.
var regionColumns = []string{
	"region_code", "region_type", "country", "region_name", "data_year",
	"latitude", "longitude",
	"population", "gdp_per_capita", "urban_population_percent",
	"air_quality_pm25", "air_quality_no2",
	"temperature_avg", "precipitation_avg",
	"internet_speed_download", "internet_speed_upload",
	"cii_score", "climate_risk_score", "infrastructure_score", "socioeconomic_score",
	"data_sources", "enrichment_attempts", "next_retry_at", "enrichment_error",
	"last_updated",
}

// resetRecord applies the manual-reset mutation shared by both backends.
// The record returns to a true placeholder: real measurements, composite
// scores, and real-data tags all go, otherwise the synthetic tag would
// co-occur with real provenance and the upsert would reject the record.
func resetRecord(rec *model.RegionRecord, now time.Time) {
	rec.ClearMeasurements()
	rec.CIIScore = nil
	rec.ClimateRiskScore = nil
	rec.InfrastructureScore = nil
	rec.SocioeconomicScore = nil
	rec.EnrichmentAttempts = 0
	rec.NextRetryAt = nil
	rec.EnrichmentError = ""
	rec.RemoveTag(model.TagAttemptedNoData)
	rec.RemoveRealTags()
	rec.AddTag(model.TagSynthetic)
	rec.LastUpdated = now
}
