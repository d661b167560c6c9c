package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsert_EmptyRows(t *testing.T) {
	n, err := BulkInsert(context.Background(), nil, BulkInsertConfig{
		Table:        "climate_inequality_regions",
		Columns:      []string{"region_code", "data_year"},
		ConflictKeys: []string{"region_code", "data_year"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsert_MissingConfig(t *testing.T) {
	rows := [][]any{{"DEU", 2024}}

	_, err := BulkInsert(context.Background(), nil, BulkInsertConfig{
		Table:        "climate_inequality_regions",
		ConflictKeys: []string{"region_code"},
	}, rows)
	assert.Error(t, err)

	_, err = BulkInsert(context.Background(), nil, BulkInsertConfig{
		Table:   "climate_inequality_regions",
		Columns: []string{"region_code"},
	}, rows)
	assert.Error(t, err)
}

func TestBulkInsert_SkipExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE _tmp_bulk_climate_inequality_regions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"_tmp_bulk_climate_inequality_regions"},
		[]string{"region_code", "data_year", "region_name"},
	).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO climate_inequality_regions .+ ON CONFLICT \(region_code, data_year\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{
		{"DEU", 2024, "Germany"},
		{"FRA", 2024, "France"},
	}
	n, err := BulkInsert(context.Background(), mock, BulkInsertConfig{
		Table:        "climate_inequality_regions",
		Columns:      []string{"region_code", "data_year", "region_name"},
		ConflictKeys: []string{"region_code", "data_year"},
		SkipExisting: true,
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_UpdateOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"_tmp_bulk_climate_inequality_regions"},
		[]string{"region_code", "data_year", "region_name"},
	).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \(region_code, data_year\) DO UPDATE SET region_name = EXCLUDED.region_name`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{{"DEU", 2024, "Germany"}}
	n, err := BulkInsert(context.Background(), mock, BulkInsertConfig{
		Table:        "climate_inequality_regions",
		Columns:      []string{"region_code", "data_year", "region_name"},
		ConflictKeys: []string{"region_code", "data_year"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
