package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func validRecord() RegionRecord {
	return RegionRecord{
		RegionCode:  "DEU",
		RegionType:  RegionTypeCountry,
		Country:     "Germany",
		RegionName:  "Germany",
		DataYear:    2024,
		DataSources: []string{TagSynthetic},
	}
}

func TestRegionRecord_Key(t *testing.T) {
	r := validRecord()
	assert.Equal(t, "DEU|2024", r.Key())
}

func TestRegionRecord_Codes(t *testing.T) {
	r := RegionRecord{RegionCode: "DEU-BE"}
	assert.Equal(t, "DEU", r.CountryCode())
	assert.Equal(t, "BE", r.SubdivisionCode())

	c := RegionRecord{RegionCode: "FRA"}
	assert.Equal(t, "FRA", c.CountryCode())
	assert.Empty(t, c.SubdivisionCode())
}

func TestRegionRecord_Tags(t *testing.T) {
	r := validRecord()
	require.True(t, r.IsPlaceholder())

	r.AddTag(RealTag(ProviderWorldBank))
	r.AddTag(RealTag(ProviderWorldBank)) // idempotent
	assert.Equal(t, []string{TagSynthetic, "real:worldbank"}, r.DataSources)

	r.RemoveTag(TagSynthetic)
	assert.False(t, r.IsPlaceholder())
	assert.True(t, r.HasRealData())
	assert.Equal(t, []string{"real:worldbank"}, r.DataSources)
}

func TestRegionRecord_RemoveRealTags(t *testing.T) {
	r := validRecord()
	r.AddTag(RealTag(ProviderWorldBank))
	r.AddTag(TagAttemptedNoData)
	r.AddTag(RealTag(ProviderOpenMeteo))

	r.RemoveRealTags()
	assert.Equal(t, []string{TagSynthetic, TagAttemptedNoData}, r.DataSources)
	assert.False(t, r.HasRealData())
}

func TestRegionRecord_ClearMeasurements(t *testing.T) {
	r := validRecord()
	r.Population = i64(83_200_000)
	r.GDPPerCapita = f64(48_700.0)
	r.TemperatureAvg = f64(9.8)
	r.CIIScore = f64(0.53)

	r.ClearMeasurements()
	assert.Nil(t, r.Population)
	assert.Nil(t, r.GDPPerCapita)
	assert.Nil(t, r.TemperatureAvg)
	// Scores and provenance are the caller's concern.
	assert.NotNil(t, r.CIIScore)
	assert.Equal(t, []string{TagSynthetic}, r.DataSources)
}

func TestRegionRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RegionRecord)
		wantErr string
	}{
		{"valid", func(r *RegionRecord) {}, ""},
		{"missing_code", func(r *RegionRecord) { r.RegionCode = "" }, "region_code"},
		{"bad_year", func(r *RegionRecord) { r.DataYear = 0 }, "data_year"},
		{"bad_type", func(r *RegionRecord) { r.RegionType = "city" }, "region_type"},
		{
			"synthetic_and_real",
			func(r *RegionRecord) { r.DataSources = []string{TagSynthetic, "real:openaq"} },
			"both synthetic and real",
		},
		{"population_zero", func(r *RegionRecord) { r.Population = i64(0) }, "population"},
		{"population_negative", func(r *RegionRecord) { r.Population = i64(-5) }, "population"},
		{"population_absurd", func(r *RegionRecord) { r.Population = i64(2_000_000_000) }, "population"},
		{"population_valid", func(r *RegionRecord) { r.Population = i64(83_000_000) }, ""},
		{"score_above_one", func(r *RegionRecord) { r.CIIScore = f64(1.2) }, "cii_score"},
		{"score_negative", func(r *RegionRecord) { r.ClimateRiskScore = f64(-0.1) }, "climate_risk_score"},
		{"score_valid", func(r *RegionRecord) { r.CIIScore = f64(0.53) }, ""},
		{"negative_attempts", func(r *RegionRecord) { r.EnrichmentAttempts = -1 }, "enrichment_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidPopulation(t *testing.T) {
	assert.False(t, ValidPopulation(0))
	assert.False(t, ValidPopulation(-1))
	assert.False(t, ValidPopulation(2_000_000_000))
	assert.True(t, ValidPopulation(1))
	assert.True(t, ValidPopulation(1_400_000_000))
}
