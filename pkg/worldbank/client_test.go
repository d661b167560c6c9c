package worldbank

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiclimate/enrich-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func envelope(obs string) string {
	return fmt.Sprintf(`[{"page":1,"pages":1,"per_page":6,"total":1},%s]`, obs)
}

func TestIndicators_WalksBackToLatestNonNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "2019:2024", r.URL.Query().Get("date"))

		switch {
		case strings.Contains(r.URL.Path, "SP.POP.TOTL"):
			// 2024 not published yet; 2023 has data.
			fmt.Fprint(w, envelope(`[
				{"date":"2024","value":null},
				{"date":"2023","value":83200000},
				{"date":"2022","value":83100000}
			]`))
		case strings.Contains(r.URL.Path, "NY.GDP.PCAP.CD"):
			fmt.Fprint(w, envelope(`[{"date":"2024","value":54343.2}]`))
		case strings.Contains(r.URL.Path, "SP.URB.TOTL.IN.ZS"):
			fmt.Fprint(w, envelope(`[{"date":"2024","value":null},{"date":"2023","value":null}]`))
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	got, err := c.Indicators(context.Background(), "DEU", 2024)
	require.NoError(t, err)

	require.NotNil(t, got.Population)
	assert.Equal(t, int64(83200000), *got.Population)
	assert.Equal(t, 2023, got.PopulationYear)

	require.NotNil(t, got.GDPPerCapita)
	assert.Equal(t, 54343.2, *got.GDPPerCapita)
	assert.Equal(t, 2024, got.GDPYear)

	assert.Nil(t, got.UrbanPopulationPct)
}

func TestIndicators_UnknownCountry_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The API returns a bare error envelope for unknown countries.
		fmt.Fprint(w, `[{"message":[{"id":"120","value":"Invalid value"}]}]`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.Indicators(context.Background(), "XXX", 2024)
	require.Error(t, err)
	assert.True(t, resilience.IsNoData(err))
}

func TestIndicators_RetriesTransient(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, envelope(`[{"date":"2024","value":1000}]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	got, err := c.Indicators(context.Background(), "DEU", 2024)
	require.NoError(t, err)
	require.NotNil(t, got.Population)
	assert.Equal(t, int64(1000), *got.Population)
}

func TestIndicators_MalformedResponse_NotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.Indicators(context.Background(), "DEU", 2024)
	require.Error(t, err)
	assert.False(t, resilience.IsNoData(err))
	// One call per indicator, no retries on malformed payloads.
	assert.Equal(t, int64(1), calls.Load())
}

func TestIndicators_IgnoresFutureYears(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "SP.POP.TOTL") {
			fmt.Fprint(w, envelope(`[{"date":"2026","value":99},{"date":"2022","value":42}]`))
			return
		}
		fmt.Fprint(w, envelope(`[]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetry(fastRetry()))
	got, err := c.Indicators(context.Background(), "DEU", 2024)
	require.NoError(t, err)
	require.NotNil(t, got.Population)
	assert.Equal(t, int64(42), *got.Population)
	assert.Equal(t, 2022, got.PopulationYear)
}
