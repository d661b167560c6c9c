package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/equiclimate/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS climate_inequality_regions (
	region_code              TEXT NOT NULL,
	region_type              TEXT NOT NULL,
	country                  TEXT NOT NULL,
	region_name              TEXT NOT NULL,
	data_year                INTEGER NOT NULL,
	latitude                 REAL,
	longitude                REAL,
	population               INTEGER,
	gdp_per_capita           REAL,
	urban_population_percent REAL,
	air_quality_pm25         REAL,
	air_quality_no2          REAL,
	temperature_avg          REAL,
	precipitation_avg        REAL,
	internet_speed_download  REAL,
	internet_speed_upload    REAL,
	cii_score                REAL,
	climate_risk_score       REAL,
	infrastructure_score     REAL,
	socioeconomic_score      REAL,
	data_sources             TEXT NOT NULL DEFAULT '[]',
	enrichment_attempts      INTEGER NOT NULL DEFAULT 0,
	next_retry_at            DATETIME,
	enrichment_error         TEXT NOT NULL DEFAULT '',
	last_updated             DATETIME NOT NULL,
	PRIMARY KEY (region_code, data_year)
);

CREATE INDEX IF NOT EXISTS idx_regions_partition
	ON climate_inequality_regions(region_type, data_year);
CREATE INDEX IF NOT EXISTS idx_regions_country
	ON climate_inequality_regions(country, data_year);
CREATE INDEX IF NOT EXISTS idx_regions_next_retry
	ON climate_inequality_regions(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsert = `
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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const sqliteUpsert = sqliteInsert + `
ON CONFLICT (region_code, data_year) DO UPDATE SET
	region_type = excluded.region_type,
	country = excluded.country,
	region_name = excluded.region_name,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	population = excluded.population,
	gdp_per_capita = excluded.gdp_per_capita,
	urban_population_percent = excluded.urban_population_percent,
	air_quality_pm25 = excluded.air_quality_pm25,
	air_quality_no2 = excluded.air_quality_no2,
	temperature_avg = excluded.temperature_avg,
	precipitation_avg = excluded.precipitation_avg,
	internet_speed_download = excluded.internet_speed_download,
	internet_speed_upload = excluded.internet_speed_upload,
	cii_score = excluded.cii_score,
	climate_risk_score = excluded.climate_risk_score,
	infrastructure_score = excluded.infrastructure_score,
	socioeconomic_score = excluded.socioeconomic_score,
	data_sources = excluded.data_sources,
	enrichment_attempts = excluded.enrichment_attempts,
	next_retry_at = excluded.next_retry_at,
	enrichment_error = excluded.enrichment_error,
	last_updated = excluded.last_updated
`

func (s *SQLiteStore) UpsertRegion(ctx context.Context, rec *model.RegionRecord) error {
	if err := rec.Validate(); err != nil {
		return eris.Wrapf(err, "sqlite: upsert %s", rec.Key())
	}
	sourcesJSON, err := json.Marshal(rec.DataSources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal data_sources")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		rec.RegionCode, string(rec.RegionType), rec.Country, rec.RegionName, rec.DataYear,
		rec.Latitude, rec.Longitude,
		rec.Population, rec.GDPPerCapita, rec.UrbanPopulationPct,
		rec.AirQualityPM25, rec.AirQualityNO2,
		rec.TemperatureAvg, rec.PrecipitationAvg,
		rec.InternetSpeedDownload, rec.InternetSpeedUpload,
		rec.CIIScore, rec.ClimateRiskScore, rec.InfrastructureScore, rec.SocioeconomicScore,
		string(sourcesJSON), rec.EnrichmentAttempts, rec.NextRetryAt, rec.EnrichmentError,
		rec.LastUpdated,
	)
	return eris.Wrapf(err, "sqlite: upsert %s", rec.Key())
}

const sqliteSelect = `
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

func (s *SQLiteStore) GetRegion(ctx context.Context, code string, year int) (*model.RegionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteSelect+` WHERE region_code = ? AND data_year = ?`,
		code, year,
	)
	rec, err := scanSQLiteRegion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get region %s/%d", code, year)
	}
	return rec, nil
}

// sqliteNeedsEnrichment matches records still carrying the placeholder tag,
// below the attempt ceiling, and past their backoff window.
const sqliteNeedsEnrichment = `
	region_type = ? AND data_year = ?
	AND EXISTS (SELECT 1 FROM json_each(data_sources) WHERE json_each.value = ?)
	AND enrichment_attempts < ?
	AND (next_retry_at IS NULL OR next_retry_at <= ?)
`

func (s *SQLiteStore) ListNeedingEnrichment(ctx context.Context, f EnrichmentFilter) ([]model.RegionRecord, error) {
	query := sqliteSelect + ` WHERE ` + sqliteNeedsEnrichment +
		` ORDER BY region_code LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query,
		string(f.Partition.RegionType), f.Partition.DataYear,
		model.TagSynthetic, f.MaxAttempts, f.Now.UTC(),
		f.Limit, f.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list needing enrichment")
	}
	defer rows.Close()
	return collectSQLiteRegions(rows, "sqlite: list needing enrichment")
}

func (s *SQLiteStore) CountNeedingEnrichment(ctx context.Context, f EnrichmentFilter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM climate_inequality_regions WHERE `+sqliteNeedsEnrichment,
		string(f.Partition.RegionType), f.Partition.DataYear,
		model.TagSynthetic, f.MaxAttempts, f.Now.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count needing enrichment")
}

func (s *SQLiteStore) ListEnriched(ctx context.Context, p model.Partition) ([]model.RegionRecord, error) {
	query := sqliteSelect + `
	WHERE region_type = ? AND data_year = ?
	AND NOT EXISTS (SELECT 1 FROM json_each(data_sources) WHERE json_each.value = ?)
	ORDER BY region_code`
	rows, err := s.db.QueryContext(ctx, query,
		string(p.RegionType), p.DataYear, model.TagSynthetic,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enriched")
	}
	defer rows.Close()
	return collectSQLiteRegions(rows, "sqlite: list enriched")
}

func (s *SQLiteStore) ListSubdivisions(ctx context.Context, country string, year int) ([]model.RegionRecord, error) {
	query := sqliteSelect + `
	WHERE region_type = ? AND data_year = ? AND region_code LIKE ?
	ORDER BY region_code`
	rows, err := s.db.QueryContext(ctx, query,
		string(model.RegionTypeSubdivision), year, country+"-%",
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list subdivisions %s", country)
	}
	defer rows.Close()
	return collectSQLiteRegions(rows, "sqlite: list subdivisions")
}

func (s *SQLiteStore) ResetEnrichment(ctx context.Context, code string, year int) error {
	rec, err := s.GetRegion(ctx, code, year)
	if err != nil {
		return err
	}
	resetRecord(rec, time.Now().UTC())
	return s.UpsertRegion(ctx, rec)
}

func (s *SQLiteStore) SeedRegions(ctx context.Context, recs []model.RegionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: seed begin tx")
	}
	defer tx.Rollback()

	// Conflicting keys are left untouched so re-seeding never clobbers
	// enriched records.
	insert := sqliteInsert + ` ON CONFLICT (region_code, data_year) DO NOTHING`
	inserted := 0
	now := time.Now().UTC()
	for i := range recs {
		rec := &recs[i]
		if rec.LastUpdated.IsZero() {
			rec.LastUpdated = now
		}
		if err := rec.Validate(); err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed %s", rec.Key())
		}
		sourcesJSON, err := json.Marshal(rec.DataSources)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal data_sources")
		}
		res, err := tx.ExecContext(ctx, insert,
			rec.RegionCode, string(rec.RegionType), rec.Country, rec.RegionName, rec.DataYear,
			rec.Latitude, rec.Longitude,
			rec.Population, rec.GDPPerCapita, rec.UrbanPopulationPct,
			rec.AirQualityPM25, rec.AirQualityNO2,
			rec.TemperatureAvg, rec.PrecipitationAvg,
			rec.InternetSpeedDownload, rec.InternetSpeedUpload,
			rec.CIIScore, rec.ClimateRiskScore, rec.InfrastructureScore, rec.SocioeconomicScore,
			string(sourcesJSON), rec.EnrichmentAttempts, rec.NextRetryAt, rec.EnrichmentError,
			rec.LastUpdated,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed %s", rec.Key())
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: seed commit")
	}
	return inserted, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRegion(row scannable) (*model.RegionRecord, error) {
	var (
		rec         model.RegionRecord
		regionType  string
		lat, lon    sql.NullFloat64
		pop         sql.NullInt64
		gdp, urban  sql.NullFloat64
		pm25, no2   sql.NullFloat64
		temp, prec  sql.NullFloat64
		down, up    sql.NullFloat64
		cii, crisk  sql.NullFloat64
		infra, soc  sql.NullFloat64
		sourcesJSON string
		nextRetry   sql.NullTime
	)

	err := row.Scan(
		&rec.RegionCode, &regionType, &rec.Country, &rec.RegionName, &rec.DataYear,
		&lat, &lon,
		&pop, &gdp, &urban,
		&pm25, &no2,
		&temp, &prec,
		&down, &up,
		&cii, &crisk, &infra, &soc,
		&sourcesJSON, &rec.EnrichmentAttempts, &nextRetry, &rec.EnrichmentError,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	rec.RegionType = model.RegionType(regionType)
	rec.Latitude = nullFloat(lat)
	rec.Longitude = nullFloat(lon)
	if pop.Valid {
		rec.Population = &pop.Int64
	}
	rec.GDPPerCapita = nullFloat(gdp)
	rec.UrbanPopulationPct = nullFloat(urban)
	rec.AirQualityPM25 = nullFloat(pm25)
	rec.AirQualityNO2 = nullFloat(no2)
	rec.TemperatureAvg = nullFloat(temp)
	rec.PrecipitationAvg = nullFloat(prec)
	rec.InternetSpeedDownload = nullFloat(down)
	rec.InternetSpeedUpload = nullFloat(up)
	rec.CIIScore = nullFloat(cii)
	rec.ClimateRiskScore = nullFloat(crisk)
	rec.InfrastructureScore = nullFloat(infra)
	rec.SocioeconomicScore = nullFloat(soc)
	if nextRetry.Valid {
		t := nextRetry.Time.UTC()
		rec.NextRetryAt = &t
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &rec.DataSources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal data_sources")
	}
	return &rec, nil
}

func collectSQLiteRegions(rows *sql.Rows, op string) ([]model.RegionRecord, error) {
	var recs []model.RegionRecord
	for rows.Next() {
		rec, err := scanSQLiteRegion(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrapf(rows.Err(), "%s iterate", op)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
