// Package nasapower fetches climate aggregates from the NASA POWER API as a
// supplemental source when the primary climate provider has gaps. POWER data
// trails the present by several months, so the client walks back through
// prior years until it finds a usable annual record.
package nasapower

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
	defaultBaseURL = "https://power.larc.nasa.gov/api"

	// fillValue marks missing data in POWER responses.
	fillValue = -999.0

	// maxLookbackYears bounds the backward walk.
	maxLookbackYears = 3

	// daysPerMonth converts POWER's mean daily precipitation (mm/day) into
	// a mean monthly total.
	daysPerMonth = 365.0 / 12.0
)

// Climate holds the annual aggregates for a point: mean 2m temperature in °C
// and mean monthly precipitation in mm.
type Climate struct {
	TemperatureAvg   *float64
	PrecipitationAvg *float64

	// ResolvedYear is the year the data actually came from; it may be
	// earlier than the requested year.
	ResolvedYear int
}

// IsEmpty reports whether neither field resolved.
func (c Climate) IsEmpty() bool {
	return c.TemperatureAvg == nil && c.PrecipitationAvg == nil
}

// Client fetches supplemental climate aggregates.
type Client interface {
	// Climate returns annual aggregates for a coordinate, starting at the
	// requested year and walking back when it is not yet published.
	Climate(ctx context.Context, lat, lon float64, year int) (*Climate, error)
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

// NewClient creates a NASA POWER client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(2, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type powerResponse struct {
	Properties struct {
		Parameter struct {
			T2M         map[string]float64 `json:"T2M"`
			PRECTOTCORR map[string]float64 `json:"PRECTOTCORR"`
		} `json:"parameter"`
	} `json:"properties"`
}

func (c *client) Climate(ctx context.Context, lat, lon float64, year int) (*Climate, error) {
	for y := year; y > year-maxLookbackYears; y-- {
		out, err := c.yearClimate(ctx, lat, lon, y)
		if err != nil {
			if resilience.IsNoData(err) {
				zap.L().Debug("nasapower: no data, walking back",
					zap.Float64("lat", lat),
					zap.Float64("lon", lon),
					zap.Int("year", y),
				)
				continue
			}
			return nil, err
		}
		out.ResolvedYear = y
		return out, nil
	}
	return nil, eris.Wrapf(resilience.ErrNoData, "nasapower: no data at %.3f,%.3f within %d years of %d", lat, lon, maxLookbackYears, year)
}

func (c *client) yearClimate(ctx context.Context, lat, lon float64, year int) (*Climate, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("nasapower", "monthly_point")
	}
	pr, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*powerResponse, error) {
		return c.fetchMonthly(ctx, lat, lon, year)
	})
	if err != nil {
		return nil, err
	}

	// The ANN key carries the annual aggregate; monthly keys are YYYYMM.
	annKey := fmt.Sprintf("%dANN", year)
	out := &Climate{}

	if t, ok := pr.Properties.Parameter.T2M[annKey]; ok && t != fillValue {
		out.TemperatureAvg = &t
	}
	if p, ok := pr.Properties.Parameter.PRECTOTCORR[annKey]; ok && p != fillValue {
		monthly := p * daysPerMonth
		out.PrecipitationAvg = &monthly
	}

	if out.IsEmpty() {
		return nil, resilience.ErrNoData
	}
	return out, nil
}

func (c *client) fetchMonthly(ctx context.Context, lat, lon float64, year int) (*powerResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nasapower: rate limit")
	}

	params := url.Values{
		"parameters": {"T2M,PRECTOTCORR"},
		"community":  {"AG"},
		"latitude":   {fmt.Sprintf("%.4f", lat)},
		"longitude":  {fmt.Sprintf("%.4f", lon)},
		"start":      {fmt.Sprintf("%d", year)},
		"end":        {fmt.Sprintf("%d", year)},
		"format":     {"JSON"},
	}
	reqURL := c.baseURL + "/temporal/monthly/point?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "nasapower: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nasapower: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("nasapower: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("nasapower: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nasapower: read body"), 0)
	}

	var pr powerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, eris.Wrap(err, "nasapower: unmarshal response")
	}
	return &pr, nil
}
