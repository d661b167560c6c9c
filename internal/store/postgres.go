package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/equiclimate/enrich-cli/internal/db"
	"github.com/equiclimate/enrich-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS climate_inequality_regions (
	region_code              TEXT NOT NULL,
	region_type              TEXT NOT NULL,
	country                  TEXT NOT NULL,
	region_name              TEXT NOT NULL,
	data_year                INTEGER NOT NULL,
	latitude                 DOUBLE PRECISION,
	longitude                DOUBLE PRECISION,
	population               BIGINT,
	gdp_per_capita           DOUBLE PRECISION,
	urban_population_percent DOUBLE PRECISION,
	air_quality_pm25         DOUBLE PRECISION,
	air_quality_no2          DOUBLE PRECISION,
	temperature_avg          DOUBLE PRECISION,
	precipitation_avg        DOUBLE PRECISION,
	internet_speed_download  DOUBLE PRECISION,
	internet_speed_upload    DOUBLE PRECISION,
	cii_score                DOUBLE PRECISION,
	climate_risk_score       DOUBLE PRECISION,
	infrastructure_score     DOUBLE PRECISION,
	socioeconomic_score      DOUBLE PRECISION,
	data_sources             JSONB NOT NULL DEFAULT '[]'::jsonb,
	enrichment_attempts      INTEGER NOT NULL DEFAULT 0,
	next_retry_at            TIMESTAMPTZ,
	enrichment_error         TEXT NOT NULL DEFAULT '',
	last_updated             TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (region_code, data_year)
);

CREATE INDEX IF NOT EXISTS idx_regions_partition
	ON climate_inequality_regions(region_type, data_year);
CREATE INDEX IF NOT EXISTS idx_regions_country
	ON climate_inequality_regions(country, data_year);
CREATE INDEX IF NOT EXISTS idx_regions_next_retry
	ON climate_inequality_regions(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_regions_sources
	ON climate_inequality_regions USING GIN (data_sources);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const postgresUpsert = `
INSERT INTO climate_inequality_regions (
	region_code, region_type, country, region_name, data_year,
	latitude, longitude,
	population, gdp_per_capita, urban_population_percent,
	air_quality_pm25, air_quality_no2,
	temperature_avg, precipitation_avg,
	internet_speed_download, internet_speed_upload,
	cii_score, climate_risk_score, infrastructure_score, socioeconomic_score,
	data_sources, enrichment_attempts, next_retry_at, enrichment_error,
	last_updated
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
ON CONFLICT (region_code, data_year) DO UPDATE SET
	region_type = EXCLUDED.region_type,
	country = EXCLUDED.country,
	region_name = EXCLUDED.region_name,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	population = EXCLUDED.population,
	gdp_per_capita = EXCLUDED.gdp_per_capita,
	urban_population_percent = EXCLUDED.urban_population_percent,
	air_quality_pm25 = EXCLUDED.air_quality_pm25,
	air_quality_no2 = EXCLUDED.air_quality_no2,
	temperature_avg = EXCLUDED.temperature_avg,
	precipitation_avg = EXCLUDED.precipitation_avg,
	internet_speed_download = EXCLUDED.internet_speed_download,
	internet_speed_upload = EXCLUDED.internet_speed_upload,
	cii_score = EXCLUDED.cii_score,
	climate_risk_score = EXCLUDED.climate_risk_score,
	infrastructure_score = EXCLUDED.infrastructure_score,
	socioeconomic_score = EXCLUDED.socioeconomic_score,
	data_sources = EXCLUDED.data_sources,
	enrichment_attempts = EXCLUDED.enrichment_attempts,
	next_retry_at = EXCLUDED.next_retry_at,
	enrichment_error = EXCLUDED.enrichment_error,
	last_updated = EXCLUDED.last_updated
`

func (s *PostgresStore) UpsertRegion(ctx context.Context, rec *model.RegionRecord) error {
	if err := rec.Validate(); err != nil {
		return eris.Wrapf(err, "postgres: upsert %s", rec.Key())
	}
	sourcesJSON, err := json.Marshal(rec.DataSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal data_sources")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, postgresUpsert,
		rec.RegionCode, string(rec.RegionType), rec.Country, rec.RegionName, rec.DataYear,
		rec.Latitude, rec.Longitude,
		rec.Population, rec.GDPPerCapita, rec.UrbanPopulationPct,
		rec.AirQualityPM25, rec.AirQualityNO2,
		rec.TemperatureAvg, rec.PrecipitationAvg,
		rec.InternetSpeedDownload, rec.InternetSpeedUpload,
		rec.CIIScore, rec.ClimateRiskScore, rec.InfrastructureScore, rec.SocioeconomicScore,
		sourcesJSON, rec.EnrichmentAttempts, rec.NextRetryAt, rec.EnrichmentError,
		rec.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: upsert %s", rec.Key())
}

const postgresSelect = `
SELECT region_code, region_type, country, region_name, data_year,
	latitude, longitude,
	population, gdp_per_capita, urban_population_percent,
	air_quality_pm25, air_quality_no2,
	temperature_avg, precipitation_avg,
	internet_speed_download, internet_speed_upload,
	cii_score, climate_risk_score, infrastructure_score, socioeconomic_score,
	data_sources, enrichment_attempts, next_retry_at, enrichment_error,
	last_updated
FROM climate_inequality_regions
`

func (s *PostgresStore) GetRegion(ctx context.Context, code string, year int) (*model.RegionRecord, error) {
	row := s.pool.QueryRow(ctx,
		postgresSelect+` WHERE region_code = $1 AND data_year = $2`,
		code, year,
	)
	rec, err := scanPostgresRegion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get region %s/%d", code, year)
	}
	return rec, nil
}

const postgresNeedsEnrichment = `
	region_type = $1 AND data_year = $2
	AND data_sources @> $3::jsonb
	AND enrichment_attempts < $4
	AND (next_retry_at IS NULL OR next_retry_at <= $5)
`

func syntheticTagJSON() []byte {
	b, _ := json.Marshal([]string{model.TagSynthetic})
	return b
}

func (s *PostgresStore) ListNeedingEnrichment(ctx context.Context, f EnrichmentFilter) ([]model.RegionRecord, error) {
	query := postgresSelect + ` WHERE ` + postgresNeedsEnrichment +
		` ORDER BY region_code LIMIT $6 OFFSET $7`
	rows, err := s.pool.Query(ctx, query,
		string(f.Partition.RegionType), f.Partition.DataYear,
		syntheticTagJSON(), f.MaxAttempts, f.Now.UTC(),
		f.Limit, f.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list needing enrichment")
	}
	defer rows.Close()
	return collectPostgresRegions(rows, "postgres: list needing enrichment")
}

func (s *PostgresStore) CountNeedingEnrichment(ctx context.Context, f EnrichmentFilter) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM climate_inequality_regions WHERE `+postgresNeedsEnrichment,
		string(f.Partition.RegionType), f.Partition.DataYear,
		syntheticTagJSON(), f.MaxAttempts, f.Now.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count needing enrichment")
}

func (s *PostgresStore) ListEnriched(ctx context.Context, p model.Partition) ([]model.RegionRecord, error) {
	query := postgresSelect + `
	WHERE region_type = $1 AND data_year = $2
	AND NOT data_sources @> $3::jsonb
	ORDER BY region_code`
	rows, err := s.pool.Query(ctx, query,
		string(p.RegionType), p.DataYear, syntheticTagJSON(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enriched")
	}
	defer rows.Close()
	return collectPostgresRegions(rows, "postgres: list enriched")
}

func (s *PostgresStore) ListSubdivisions(ctx context.Context, country string, year int) ([]model.RegionRecord, error) {
	query := postgresSelect + `
	WHERE region_type = $1 AND data_year = $2 AND region_code LIKE $3
	ORDER BY region_code`
	rows, err := s.pool.Query(ctx, query,
		string(model.RegionTypeSubdivision), year, country+"-%",
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list subdivisions %s", country)
	}
	defer rows.Close()
	return collectPostgresRegions(rows, "postgres: list subdivisions")
}

func (s *PostgresStore) ResetEnrichment(ctx context.Context, code string, year int) error {
	rec, err := s.GetRegion(ctx, code, year)
	if err != nil {
		return err
	}
	resetRecord(rec, time.Now().UTC())
	return s.UpsertRegion(ctx, rec)
}

func (s *PostgresStore) SeedRegions(ctx context.Context, recs []model.RegionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		if rec.LastUpdated.IsZero() {
			rec.LastUpdated = now
		}
		if err := rec.Validate(); err != nil {
			return 0, eris.Wrapf(err, "postgres: seed %s", rec.Key())
		}
		sourcesJSON, err := json.Marshal(rec.DataSources)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal data_sources")
		}
		rows = append(rows, []any{
			rec.RegionCode, string(rec.RegionType), rec.Country, rec.RegionName, rec.DataYear,
			rec.Latitude, rec.Longitude,
			rec.Population, rec.GDPPerCapita, rec.UrbanPopulationPct,
			rec.AirQualityPM25, rec.AirQualityNO2,
			rec.TemperatureAvg, rec.PrecipitationAvg,
			rec.InternetSpeedDownload, rec.InternetSpeedUpload,
			rec.CIIScore, rec.ClimateRiskScore, rec.InfrastructureScore, rec.SocioeconomicScore,
			sourcesJSON, rec.EnrichmentAttempts, rec.NextRetryAt, rec.EnrichmentError,
			rec.LastUpdated,
		})
	}

	n, err := db.BulkInsert(ctx, s.pool, db.BulkInsertConfig{
		Table:        "climate_inequality_regions",
		Columns:      regionColumns,
		ConflictKeys: []string{"region_code", "data_year"},
		SkipExisting: true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: seed regions")
	}
	return int(n), nil
}

// helpers

func scanPostgresRegion(row pgx.Row) (*model.RegionRecord, error) {
	var (
		rec         model.RegionRecord
		regionType  string
		sourcesJSON []byte
	)

	err := row.Scan(
		&rec.RegionCode, &regionType, &rec.Country, &rec.RegionName, &rec.DataYear,
		&rec.Latitude, &rec.Longitude,
		&rec.Population, &rec.GDPPerCapita, &rec.UrbanPopulationPct,
		&rec.AirQualityPM25, &rec.AirQualityNO2,
		&rec.TemperatureAvg, &rec.PrecipitationAvg,
		&rec.InternetSpeedDownload, &rec.InternetSpeedUpload,
		&rec.CIIScore, &rec.ClimateRiskScore, &rec.InfrastructureScore, &rec.SocioeconomicScore,
		&sourcesJSON, &rec.EnrichmentAttempts, &rec.NextRetryAt, &rec.EnrichmentError,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	rec.RegionType = model.RegionType(regionType)
	if err := json.Unmarshal(sourcesJSON, &rec.DataSources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal data_sources")
	}
	return &rec, nil
}

func collectPostgresRegions(rows pgx.Rows, op string) ([]model.RegionRecord, error) {
	var recs []model.RegionRecord
	for rows.Next() {
		rec, err := scanPostgresRegion(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrapf(rows.Err(), "%s iterate", op)
}
