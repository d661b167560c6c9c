// Package restcountries fetches national population aggregates from the
// REST Countries API. Used only when the World Bank has no population figure;
// the API serves a single current estimate, not a time series.
package restcountries

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/resilience"
)

const defaultBaseURL = "https://restcountries.com/v3.1"

// Client looks up national populations.
type Client interface {
	// Population returns the current population estimate for a country
	// (ISO-3166 alpha-3). Unknown countries and implausible values yield
	// resilience.ErrNoData.
	Population(ctx context.Context, countryISO3 string) (int64, error)
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

// NewClient creates a REST Countries client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(2, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type countryResponse struct {
	Population int64 `json:"population"`
}

func (c *client) Population(ctx context.Context, countryISO3 string) (int64, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("restcountries", "population")
	}
	pop, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		return c.fetchPopulation(ctx, countryISO3)
	})
	if err != nil {
		return 0, err
	}
	if !model.ValidPopulation(pop) {
		return 0, eris.Wrapf(resilience.ErrNoData, "restcountries: implausible population %d for %s", pop, countryISO3)
	}
	return pop, nil
}

func (c *client) fetchPopulation(ctx context.Context, countryISO3 string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "restcountries: rate limit")
	}

	reqURL := c.baseURL + "/alpha/" + url.PathEscape(countryISO3) + "?fields=population"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "restcountries: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "restcountries: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return 0, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return 0, resilience.NewTransientError(eris.Errorf("restcountries: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("restcountries: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "restcountries: read body"), 0)
	}

	var cr countryResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return 0, eris.Wrap(err, "restcountries: unmarshal response")
	}
	return cr.Population, nil
}
