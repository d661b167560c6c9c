package score

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/store"
)

func i64(v int64) *int64 { return &v }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func enrichedRegion(code string, rt model.RegionType) model.RegionRecord {
	return model.RegionRecord{
		RegionCode:       code,
		RegionType:       rt,
		Country:          code[:3],
		RegionName:       code,
		DataYear:         2024,
		TemperatureAvg:   f64(25),
		PrecipitationAvg: f64(600),
		GDPPerCapita:     f64(12_000),
		AirQualityPM25:   f64(20),
		DataSources: []string{
			model.RealTag(model.ProviderWorldBank),
			model.RealTag(model.ProviderOpenMeteo),
		},
	}
}

func TestScorePartition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := model.Partition{RegionType: model.RegionTypeCountry, DataYear: 2024}

	for _, code := range []string{"BGD", "KEN"} {
		rec := enrichedRegion(code, model.RegionTypeCountry)
		require.NoError(t, st.UpsertRegion(ctx, &rec))
	}

	// Attempted region with no measurements: visited but not scorable.
	bare := model.RegionRecord{
		RegionCode:  "TCD",
		RegionType:  model.RegionTypeCountry,
		Country:     "TCD",
		RegionName:  "TCD",
		DataYear:    2024,
		DataSources: []string{model.TagAttemptedNoData},
	}
	require.NoError(t, st.UpsertRegion(ctx, &bare))

	// Untouched placeholder stays out of scoring entirely.
	pending := model.RegionRecord{
		RegionCode:  "NER",
		RegionType:  model.RegionTypeCountry,
		Country:     "NER",
		RegionName:  "NER",
		DataYear:    2024,
		DataSources: []string{model.TagSynthetic},
	}
	require.NoError(t, st.UpsertRegion(ctx, &pending))

	s := NewScorer(st, WithScorerClock(clockwork.NewFakeClock()))
	sum, err := s.ScorePartition(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scored)
	assert.Equal(t, 1, sum.Skipped)

	got, err := st.GetRegion(ctx, "BGD", 2024)
	require.NoError(t, err)
	require.NotNil(t, got.CIIScore)
	assert.GreaterOrEqual(t, *got.CIIScore, 0.0)
	assert.LessOrEqual(t, *got.CIIScore, 1.0)
	require.NotNil(t, got.ClimateRiskScore)
	require.NotNil(t, got.SocioeconomicScore)

	skipped, err := st.GetRegion(ctx, "TCD", 2024)
	require.NoError(t, err)
	assert.Nil(t, skipped.CIIScore)

	untouched, err := st.GetRegion(ctx, "NER", 2024)
	require.NoError(t, err)
	assert.Nil(t, untouched.CIIScore)
}

func TestScorePartition_Rescoring(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := model.Partition{RegionType: model.RegionTypeCountry, DataYear: 2024}

	rec := enrichedRegion("BGD", model.RegionTypeCountry)
	require.NoError(t, st.UpsertRegion(ctx, &rec))

	s := NewScorer(st)
	_, err := s.ScorePartition(ctx, p)
	require.NoError(t, err)
	first, err := st.GetRegion(ctx, "BGD", 2024)
	require.NoError(t, err)

	// Scoring again with unchanged measurements converges.
	_, err = s.ScorePartition(ctx, p)
	require.NoError(t, err)
	second, err := st.GetRegion(ctx, "BGD", 2024)
	require.NoError(t, err)
	assert.Equal(t, *first.CIIScore, *second.CIIScore)
	assert.Equal(t, first.DataSources, second.DataSources)
}

func TestCountryAggregate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	subs := []struct {
		code string
		cii  float64
		pop  int64
	}{
		{"BGD-C", 0.8, 20_000_000},
		{"BGD-D", 0.4, 5_000_000},
	}
	for _, s := range subs {
		rec := enrichedRegion(s.code, model.RegionTypeSubdivision)
		rec.CIIScore = f64(s.cii)
		rec.Population = i64(s.pop)
		require.NoError(t, st.UpsertRegion(ctx, &rec))
	}

	// Unscored subdivision contributes to neither method.
	unscored := enrichedRegion("BGD-E", model.RegionTypeSubdivision)
	require.NoError(t, st.UpsertRegion(ctx, &unscored))

	s := NewScorer(st)

	simple, err := s.CountryAggregate(ctx, "BGD", 2024, AggSimpleMean)
	require.NoError(t, err)
	require.NotNil(t, simple)
	assert.InDelta(t, 0.6, *simple, 1e-9)

	weighted, err := s.CountryAggregate(ctx, "BGD", 2024, AggPopulationWeighted)
	require.NoError(t, err)
	require.NotNil(t, weighted)
	// (20M*0.8 + 5M*0.4) / 25M = 0.72
	assert.InDelta(t, 0.72, *weighted, 1e-9)
}

func TestCountryAggregate_NoData(t *testing.T) {
	st := newTestStore(t)
	s := NewScorer(st)

	got, err := s.CountryAggregate(context.Background(), "BGD", 2024, AggSimpleMean)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountryAggregate_UnknownMethod(t *testing.T) {
	st := newTestStore(t)
	s := NewScorer(st)

	_, err := s.CountryAggregate(context.Background(), "BGD", 2024, AggregateMethod("median"))
	assert.Error(t, err)
}
