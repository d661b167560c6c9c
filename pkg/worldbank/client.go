// Package worldbank fetches economic and demographic indicators from the
// World Bank Open Data API. The API frequently lags a year or two behind, so
// each indicator is queried over a bounded year range and the most recent
// non-null reading wins.
package worldbank

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
	defaultBaseURL = "https://api.worldbank.org/v2"

	// Indicator codes.
	indicatorPopulation   = "SP.POP.TOTL"
	indicatorGDPPerCapita = "NY.GDP.PCAP.CD"
	indicatorUrbanPct     = "SP.URB.TOTL.IN.ZS"

	// maxLookbackYears bounds the backward walk when the requested year has
	// no published value yet.
	maxLookbackYears = 5
)

// Indicators holds the resolved economic/demographic readings for a country.
// Nil fields had no published value inside the lookback window. The *Year
// fields record which year each value actually came from.
type Indicators struct {
	Population     *int64
	PopulationYear int

	GDPPerCapita *float64
	GDPYear      int

	UrbanPopulationPct *float64
	UrbanYear          int
}

// IsEmpty reports whether no indicator resolved.
func (i Indicators) IsEmpty() bool {
	return i.Population == nil && i.GDPPerCapita == nil && i.UrbanPopulationPct == nil
}

// Client fetches World Bank indicators.
type Client interface {
	// Indicators returns population, GDP per capita, and urbanization for a
	// country (ISO-3166 alpha-3), resolved at or before the requested year.
	Indicators(ctx context.Context, countryISO3 string, year int) (*Indicators, error)
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the API base URL (tests point this at httptest).
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry overrides the per-call retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a World Bank API client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(5, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// observation is one indicator reading in the API response.
type observation struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

func (c *client) Indicators(ctx context.Context, countryISO3 string, year int) (*Indicators, error) {
	out := &Indicators{}

	pop, popYear, err := c.resolveIndicator(ctx, countryISO3, indicatorPopulation, year)
	if err != nil && !resilience.IsNoData(err) {
		return nil, err
	}
	if pop != nil {
		p := int64(*pop)
		out.Population = &p
		out.PopulationYear = popYear
	}

	gdp, gdpYear, err := c.resolveIndicator(ctx, countryISO3, indicatorGDPPerCapita, year)
	if err != nil && !resilience.IsNoData(err) {
		return nil, err
	}
	if gdp != nil {
		out.GDPPerCapita = gdp
		out.GDPYear = gdpYear
	}

	urban, urbanYear, err := c.resolveIndicator(ctx, countryISO3, indicatorUrbanPct, year)
	if err != nil && !resilience.IsNoData(err) {
		return nil, err
	}
	if urban != nil {
		out.UrbanPopulationPct = urban
		out.UrbanYear = urbanYear
	}

	if out.IsEmpty() {
		return nil, eris.Wrapf(resilience.ErrNoData, "worldbank: no indicators for %s at or before %d", countryISO3, year)
	}
	return out, nil
}

// resolveIndicator queries one indicator over [year-maxLookbackYears, year]
// and returns the most recent non-null value and its year.
func (c *client) resolveIndicator(ctx context.Context, countryISO3, indicator string, year int) (*float64, int, error) {
	obs, err := resilience.DoVal(ctx, c.withLogging(indicator), func(ctx context.Context) ([]observation, error) {
		return c.fetchIndicator(ctx, countryISO3, indicator, year)
	})
	if err != nil {
		return nil, 0, err
	}

	// Responses are ordered newest first.
	for _, o := range obs {
		if o.Value == nil {
			continue
		}
		var y int
		if _, err := fmt.Sscanf(o.Date, "%d", &y); err != nil || y > year {
			continue
		}
		return o.Value, y, nil
	}
	return nil, 0, resilience.ErrNoData
}

func (c *client) withLogging(operation string) resilience.RetryConfig {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("worldbank", operation)
	}
	return cfg
}

func (c *client) fetchIndicator(ctx context.Context, countryISO3, indicator string, year int) ([]observation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "worldbank: rate limit")
	}

	params := url.Values{
		"format":   {"json"},
		"date":     {fmt.Sprintf("%d:%d", year-maxLookbackYears, year)},
		"per_page": {fmt.Sprintf("%d", maxLookbackYears+1)},
	}
	reqURL := fmt.Sprintf("%s/country/%s/indicator/%s?%s", c.baseURL, url.PathEscape(countryISO3), indicator, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "worldbank: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "worldbank: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("worldbank: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("worldbank: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "worldbank: read body"), 0)
	}

	// The API wraps results as [pagination, [observations]]. An unknown
	// country yields a one-element array with an error message.
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "worldbank: unmarshal envelope")
	}
	if len(envelope) < 2 {
		zap.L().Debug("worldbank: empty envelope",
			zap.String("country", countryISO3),
			zap.String("indicator", indicator),
		)
		return nil, resilience.ErrNoData
	}

	var obs []observation
	if err := json.Unmarshal(envelope[1], &obs); err != nil {
		return nil, eris.Wrap(err, "worldbank: unmarshal observations")
	}
	if len(obs) == 0 {
		return nil, resilience.ErrNoData
	}
	return obs, nil
}
