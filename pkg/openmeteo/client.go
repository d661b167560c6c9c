// Package openmeteo fetches historical climate normals from the Open-Meteo
// archive API. Lookups are point-based: callers pass the region centroid.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/equiclimate/enrich-cli/internal/resilience"
)

const defaultBaseURL = "https://archive-api.open-meteo.com/v1"

// Climate holds the yearly aggregates for a point. TemperatureAvg is the mean
// of daily 2m means in °C; PrecipitationAvg is the mean monthly precipitation
// in mm (annual total / 12).
type Climate struct {
	TemperatureAvg   *float64
	PrecipitationAvg *float64
}

// IsEmpty reports whether neither field resolved.
func (c Climate) IsEmpty() bool {
	return c.TemperatureAvg == nil && c.PrecipitationAvg == nil
}

// Client fetches climate aggregates.
type Client interface {
	// Climate returns yearly temperature and precipitation aggregates for a
	// coordinate and calendar year.
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

// NewClient creates an Open-Meteo archive client.
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

type archiveResponse struct {
	Daily struct {
		Temperature2MMean []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum  []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

func (c *client) Climate(ctx context.Context, lat, lon float64, year int) (*Climate, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("openmeteo", "archive")
	}
	ar, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*archiveResponse, error) {
		return c.fetchArchive(ctx, lat, lon, year)
	})
	if err != nil {
		return nil, err
	}

	out := &Climate{
		TemperatureAvg:   meanOf(ar.Daily.Temperature2MMean),
		PrecipitationAvg: monthlyMean(ar.Daily.PrecipitationSum),
	}
	if out.IsEmpty() {
		return nil, eris.Wrapf(resilience.ErrNoData, "openmeteo: no archive data at %.3f,%.3f for %d", lat, lon, year)
	}
	return out, nil
}

func (c *client) fetchArchive(ctx context.Context, lat, lon float64, year int) (*archiveResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openmeteo: rate limit")
	}

	params := url.Values{
		"latitude":   {fmt.Sprintf("%.4f", lat)},
		"longitude":  {fmt.Sprintf("%.4f", lon)},
		"start_date": {fmt.Sprintf("%d-01-01", year)},
		"end_date":   {fmt.Sprintf("%d-12-31", year)},
		"daily":      {"temperature_2m_mean,precipitation_sum"},
		"timezone":   {"UTC"},
	}
	reqURL := c.baseURL + "/archive?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openmeteo: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "openmeteo: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	// Open-Meteo reports bad coordinates and date ranges as 400 with a
	// reason field; neither is retryable nor fatal to the batch.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return nil, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("openmeteo: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("openmeteo: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "openmeteo: read body"), 0)
	}

	var ar archiveResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, eris.Wrap(err, "openmeteo: unmarshal response")
	}
	return &ar, nil
}

// meanOf averages non-null samples, nil when none are present.
func meanOf(samples []*float64) *float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// monthlyMean converts daily precipitation sums into a mean monthly total.
func monthlyMean(samples []*float64) *float64 {
	var total float64
	var n int
	for _, s := range samples {
		if s != nil {
			total += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	// Scale the observed total to a full year before dividing into months,
	// so partial years don't understate the monthly figure.
	annual := total * 365.0 / float64(n)
	monthly := annual / 12.0
	return &monthly
}
