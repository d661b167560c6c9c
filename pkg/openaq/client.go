// Package openaq fetches air-quality measurements (PM2.5, NO2) from the
// OpenAQ API and aggregates raw station samples with a trimmed mean to
// suppress sensor outliers.
package openaq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/equiclimate/enrich-cli/internal/resilience"
)

const (
	defaultBaseURL  = "https://api.openaq.org/v2"
	defaultDaysBack = 7
	maxSamples      = 10000

	ParameterPM25 = "pm25"
	ParameterNO2  = "no2"
)

// Averages holds the trimmed-mean pollutant readings for a country, in µg/m³.
// A nil field means no station reported that pollutant in the window.
type Averages struct {
	PM25 *float64
	NO2  *float64
}

// IsEmpty reports whether neither pollutant resolved.
func (a Averages) IsEmpty() bool {
	return a.PM25 == nil && a.NO2 == nil
}

// Client fetches air-quality averages.
type Client interface {
	// Averages returns trimmed-mean PM2.5 and NO2 for a country (ISO-3166
	// alpha-3) over the configured lookback window. The pollutants are
	// independent: one failing or missing leaves the other usable.
	Averages(ctx context.Context, countryISO3 string) (*Averages, error)
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithAPIKey sets the X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *client) { c.apiKey = key }
}

// WithDaysBack sets the measurement lookback window.
func WithDaysBack(days int) Option {
	return func(c *client) { c.daysBack = days }
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry overrides the per-call retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

// WithNow fixes the end of the lookback window, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *client) { c.now = now }
}

type client struct {
	baseURL    string
	apiKey     string
	daysBack   int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	now        func() time.Time
}

// NewClient creates an OpenAQ client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		daysBack:   defaultDaysBack,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(2, 1),
		retry:      resilience.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type measurementsResponse struct {
	Results []struct {
		Value *float64 `json:"value"`
	} `json:"results"`
}

func (c *client) Averages(ctx context.Context, countryISO3 string) (*Averages, error) {
	out := &Averages{}

	for _, parameter := range []string{ParameterPM25, ParameterNO2} {
		avg, err := c.parameterAverage(ctx, countryISO3, parameter)
		if err != nil {
			if resilience.IsNoData(err) {
				continue
			}
			// One pollutant failing must not poison the other.
			zap.L().Warn("openaq: parameter fetch failed",
				zap.String("country", countryISO3),
				zap.String("parameter", parameter),
				zap.Error(err),
			)
			continue
		}
		switch parameter {
		case ParameterPM25:
			out.PM25 = &avg
		case ParameterNO2:
			out.NO2 = &avg
		}
	}

	if out.IsEmpty() {
		return nil, eris.Wrapf(resilience.ErrNoData, "openaq: no measurements for %s", countryISO3)
	}
	return out, nil
}

func (c *client) parameterAverage(ctx context.Context, countryISO3, parameter string) (float64, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("openaq", parameter)
	}
	samples, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]float64, error) {
		return c.fetchMeasurements(ctx, countryISO3, parameter)
	})
	if err != nil {
		return 0, err
	}

	avg := TrimmedMean(samples)
	if avg == nil {
		return 0, resilience.ErrNoData
	}
	return *avg, nil
}

func (c *client) fetchMeasurements(ctx context.Context, countryISO3, parameter string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openaq: rate limit")
	}

	end := c.now().UTC()
	start := end.AddDate(0, 0, -c.daysBack)
	params := url.Values{
		"country":   {countryISO3},
		"parameter": {parameter},
		"date_from": {start.Format("2006-01-02")},
		"date_to":   {end.Format("2006-01-02")},
		"limit":     {fmt.Sprintf("%d", maxSamples)},
	}
	reqURL := c.baseURL + "/measurements?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openaq: build request")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "openaq: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("openaq: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("openaq: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "openaq: read body"), 0)
	}

	var mr measurementsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, eris.Wrap(err, "openaq: unmarshal response")
	}

	samples := make([]float64, 0, len(mr.Results))
	for _, r := range mr.Results {
		if r.Value != nil {
			samples = append(samples, *r.Value)
		}
	}
	return samples, nil
}
