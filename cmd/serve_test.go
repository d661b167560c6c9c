package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiclimate/enrich-cli/internal/enrich"
	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/score"
	"github.com/equiclimate/enrich-cli/internal/store"
)

type resolverFunc func(ctx context.Context, rec *model.RegionRecord) (model.Measurements, error)

func (f resolverFunc) Resolve(ctx context.Context, rec *model.RegionRecord) (model.Measurements, error) {
	return f(ctx, rec)
}

func f64(v float64) *float64 { return &v }

// newTestEnv builds an appEnv over a temp sqlite store and a canned resolver.
func newTestEnv(t *testing.T) *appEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	resolver := resolverFunc(func(_ context.Context, _ *model.RegionRecord) (model.Measurements, error) {
		return model.Measurements{
			TemperatureAvg: f64(18.5),
			GDPPerCapita:   f64(31_000),
			Sources: map[string]string{
				model.FieldTemperature:  model.ProviderOpenMeteo,
				model.FieldGDPPerCapita: model.ProviderWorldBank,
			},
		}, nil
	})

	worker := enrich.NewWorker(st, resolver)
	return &appEnv{
		Store:     st,
		Worker:    worker,
		Scheduler: enrich.NewScheduler(st, worker),
		Scorer:    score.NewScorer(st),
	}
}

func seedTestRegion(t *testing.T, env *appEnv, code string) {
	t.Helper()
	rec := model.RegionRecord{
		RegionCode:  code,
		RegionType:  model.RegionTypeCountry,
		Country:     code,
		RegionName:  code,
		DataYear:    2024,
		DataSources: []string{model.TagSynthetic},
	}
	require.NoError(t, env.Store.UpsertRegion(context.Background(), &rec))
}

func TestServeMux_Health(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestServeMux_Batch(t *testing.T) {
	env := newTestEnv(t)
	seedTestRegion(t, env, "DEU")
	seedTestRegion(t, env, "FRA")
	mux := newServeMux(env)

	body := `{"year":2024,"region_type":"country"}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/enrich/batch", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var result enrich.BatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Enriched)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Remaining)
	assert.False(t, result.ShouldContinue)
}

func TestServeMux_BatchBadRequest(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"year":`},
		{"missing year", `{"region_type":"country"}`},
		{"bad region type", `{"year":2024,"region_type":"continent"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/enrich/batch", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestServeMux_Region(t *testing.T) {
	env := newTestEnv(t)
	seedTestRegion(t, env, "DEU")
	mux := newServeMux(env)

	body := `{"region_code":"DEU","year":2024}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/enrich/region", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var result enrich.RegionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "DEU", result.RegionCode)
}

func TestServeMux_RegionNotFound(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	body := `{"region_code":"ZZZ","year":2024}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/enrich/region", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var result enrich.RegionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.False(t, result.Success)
}

func TestServeMux_Score(t *testing.T) {
	env := newTestEnv(t)
	seedTestRegion(t, env, "DEU")
	mux := newServeMux(env)

	// Enrich first so scoring has something to work with.
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/enrich/batch",
		strings.NewReader(`{"year":2024,"region_type":"country"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/score",
		strings.NewReader(`{"year":2024,"region_type":"country"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	var summary score.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Scored)

	got, err := env.Store.GetRegion(context.Background(), "DEU", 2024)
	require.NoError(t, err)
	assert.NotNil(t, got.CIIScore)
}

func TestServeMux_AggregateBadRequest(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/score/aggregate?country=BGD", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParseRegionType(t *testing.T) {
	rt, err := parseRegionType("country")
	require.NoError(t, err)
	assert.Equal(t, model.RegionTypeCountry, rt)

	rt, err = parseRegionType("subdivision")
	require.NoError(t, err)
	assert.Equal(t, model.RegionTypeSubdivision, rt)

	_, err = parseRegionType("continent")
	assert.Error(t, err)
}
