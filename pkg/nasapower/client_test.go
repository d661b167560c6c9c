package nasapower

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiclimate/enrich-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}
}

func TestClimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "T2M,PRECTOTCORR", q.Get("parameters"))
		assert.Equal(t, "2023", q.Get("start"))

		fmt.Fprint(w, `{"properties":{"parameter":{
			"T2M":{"202301":-1.2,"202307":19.5,"2023ANN":9.7},
			"PRECTOTCORR":{"202301":1.5,"2023ANN":2.0}
		}}}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	got, err := c.Climate(context.Background(), 52.52, 13.405, 2023)
	require.NoError(t, err)

	require.NotNil(t, got.TemperatureAvg)
	assert.InDelta(t, 9.7, *got.TemperatureAvg, 1e-9)
	require.NotNil(t, got.PrecipitationAvg)
	assert.InDelta(t, 2.0*365.0/12.0, *got.PrecipitationAvg, 1e-9)
	assert.Equal(t, 2023, got.ResolvedYear)
}

func TestClimate_WalksBackOnFillValues(t *testing.T) {
	var years []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		year := r.URL.Query().Get("start")
		years = append(years, year)
		if year == "2024" {
			// Requested year only has fill values so far.
			fmt.Fprintf(w, `{"properties":{"parameter":{
				"T2M":{"%sANN":-999},
				"PRECTOTCORR":{"%sANN":-999}
			}}}`, year, year)
			return
		}
		fmt.Fprintf(w, `{"properties":{"parameter":{
			"T2M":{"%sANN":10.1},
			"PRECTOTCORR":{"%sANN":1.8}
		}}}`, year, year)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	got, err := c.Climate(context.Background(), 52.52, 13.405, 2024)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "2023"}, years)
	assert.Equal(t, 2023, got.ResolvedYear)
	require.NotNil(t, got.TemperatureAvg)
	assert.InDelta(t, 10.1, *got.TemperatureAvg, 1e-9)
}

func TestClimate_ExhaustsLookback(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"properties":{"parameter":{"T2M":{},"PRECTOTCORR":{}}}}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.Climate(context.Background(), 52.52, 13.405, 2024)
	require.Error(t, err)
	assert.True(t, resilience.IsNoData(err))
	assert.Equal(t, 3, calls)
}

func TestClimate_HardErrorStopsWalkback(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.Climate(context.Background(), 52.52, 13.405, 2024)
	require.Error(t, err)
	assert.False(t, resilience.IsNoData(err))
	assert.Equal(t, 1, calls)
}
