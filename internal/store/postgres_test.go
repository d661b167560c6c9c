package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiclimate/enrich-cli/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func regionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"region_code", "region_type", "country", "region_name", "data_year",
		"latitude", "longitude",
		"population", "gdp_per_capita", "urban_population_percent",
		"air_quality_pm25", "air_quality_no2",
		"temperature_avg", "precipitation_avg",
		"internet_speed_download", "internet_speed_upload",
		"cii_score", "climate_risk_score", "infrastructure_score", "socioeconomic_score",
		"data_sources", "enrichment_attempts", "next_retry_at", "enrichment_error",
		"last_updated",
	})
}

func mockRegionRow(code string, sources []string, pop *int64) []any {
	sourcesJSON, _ := json.Marshal(sources)
	return []any{
		code, "country", "Germany", code, 2024,
		(*float64)(nil), (*float64)(nil),
		pop, (*float64)(nil), (*float64)(nil),
		(*float64)(nil), (*float64)(nil),
		(*float64)(nil), (*float64)(nil),
		(*float64)(nil), (*float64)(nil),
		(*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil),
		sourcesJSON, 0, (*time.Time)(nil), "",
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPostgres_UpsertRegion(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO climate_inequality_regions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := placeholderRegion("DEU", model.RegionTypeCountry)
	err := st.UpsertRegion(context.Background(), &rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertRejectsInvalid(t *testing.T) {
	st, mock := newMockPostgres(t)

	rec := placeholderRegion("DEU", model.RegionTypeCountry)
	rec.Population = i64(-5)

	err := st.UpsertRegion(context.Background(), &rec)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRegion(t *testing.T) {
	st, mock := newMockPostgres(t)

	rows := regionRows().AddRow(mockRegionRow("DEU", []string{model.TagSynthetic}, i64(83_200_000))...)
	mock.ExpectQuery(`SELECT .+ FROM climate_inequality_regions .*WHERE region_code = \$1 AND data_year = \$2`).
		WithArgs("DEU", 2024).
		WillReturnRows(rows)

	got, err := st.GetRegion(context.Background(), "DEU", 2024)
	require.NoError(t, err)
	assert.Equal(t, "DEU", got.RegionCode)
	require.NotNil(t, got.Population)
	assert.Equal(t, int64(83_200_000), *got.Population)
	assert.True(t, got.IsPlaceholder())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRegion_NotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT .+ FROM climate_inequality_regions`).
		WithArgs("XXX", 2024).
		WillReturnRows(regionRows())

	_, err := st.GetRegion(context.Background(), "XXX", 2024)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListNeedingEnrichment(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := regionRows().
		AddRow(mockRegionRow("AUT", []string{model.TagSynthetic}, nil)...).
		AddRow(mockRegionRow("DEU", []string{model.TagSynthetic}, nil)...)
	mock.ExpectQuery(`SELECT .+ FROM climate_inequality_regions .*ORDER BY region_code LIMIT \$6 OFFSET \$7`).
		WithArgs("country", 2024, syntheticTagJSON(), 5, now, 10, 0).
		WillReturnRows(rows)

	recs, err := st.ListNeedingEnrichment(context.Background(), EnrichmentFilter{
		Partition:   model.Partition{RegionType: model.RegionTypeCountry, DataYear: 2024},
		MaxAttempts: 5,
		Now:         now,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AUT", recs[0].RegionCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountNeedingEnrichment(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM climate_inequality_regions`).
		WithArgs("country", 2024, syntheticTagJSON(), 5, now).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := st.CountNeedingEnrichment(context.Background(), EnrichmentFilter{
		Partition:   model.Partition{RegionType: model.RegionTypeCountry, DataYear: 2024},
		MaxAttempts: 5,
		Now:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS climate_inequality_regions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
