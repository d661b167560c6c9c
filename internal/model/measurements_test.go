package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeasurements_CountSet(t *testing.T) {
	var empty Measurements
	assert.True(t, empty.IsEmpty())
	assert.Zero(t, empty.CountSet())

	m := Measurements{
		Population:     i64(83_000_000),
		TemperatureAvg: f64(9.8),
	}
	assert.Equal(t, 2, m.CountSet())
	assert.False(t, m.IsEmpty())
}

func TestMerge_PrimaryWins(t *testing.T) {
	primary := Measurements{
		TemperatureAvg: f64(9.8),
		Sources:        map[string]string{FieldTemperature: ProviderOpenMeteo},
	}
	fallback := Measurements{
		TemperatureAvg:   f64(10.5),
		PrecipitationAvg: f64(700),
		Sources: map[string]string{
			FieldTemperature:   ProviderNASAPower,
			FieldPrecipitation: ProviderNASAPower,
		},
	}

	merged := Merge(primary, fallback)

	assert.Equal(t, 9.8, *merged.TemperatureAvg)
	assert.Equal(t, ProviderOpenMeteo, merged.Sources[FieldTemperature])
	assert.Equal(t, 700.0, *merged.PrecipitationAvg)
	assert.Equal(t, ProviderNASAPower, merged.Sources[FieldPrecipitation])
}

func TestMerge_FallbackFillsNilsOnly(t *testing.T) {
	primary := Measurements{
		GDPPerCapita: f64(48_700),
		Sources:      map[string]string{FieldGDPPerCapita: ProviderWorldBank},
	}
	fallback := Measurements{
		Population: i64(83_000_000),
		Sources:    map[string]string{FieldPopulation: ProviderRESTCountries},
	}

	merged := Merge(primary, fallback)

	assert.Equal(t, int64(83_000_000), *merged.Population)
	assert.Equal(t, ProviderRESTCountries, merged.Sources[FieldPopulation])
	assert.Equal(t, 48_700.0, *merged.GDPPerCapita)
	assert.Equal(t, 2, merged.CountSet())
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	primary := Measurements{Sources: map[string]string{}}
	fallback := Measurements{
		AirQualityPM25: f64(12.3),
		Sources:        map[string]string{FieldPM25: ProviderOpenAQ},
	}

	_ = Merge(primary, fallback)

	assert.Nil(t, primary.AirQualityPM25)
	assert.Empty(t, primary.Sources)
}
