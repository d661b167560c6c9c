// Package geonames looks up subdivision populations via the GeoNames search
// API. Subdivisions are addressed by ISO country code plus first-level
// administrative code, matching the COUNTRY-SUBDIVISION region code format.
package geonames

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/resilience"
)

const defaultBaseURL = "https://secure.geonames.org"

// Client looks up subdivision-level populations.
type Client interface {
	// SubdivisionPopulation returns the population of a first-level
	// administrative division, addressed by ISO-3166 alpha-2 country code
	// and admin1 code. Misses and implausible values yield
	// resilience.ErrNoData.
	SubdivisionPopulation(ctx context.Context, countryISO2, adminCode string) (int64, error)
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

// WithRateLimit sets the requests-per-second limit. GeoNames free accounts
// allow roughly 1 req/s sustained.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry overrides the per-call retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	baseURL    string
	username   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a GeoNames client. A registered username is required by
// the API on every call.
func NewClient(username string, opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		username:   username,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Geonames []struct {
		Name       string `json:"name"`
		AdminCode1 string `json:"adminCode1"`
		Population int64  `json:"population"`
		FCode      string `json:"fcode"`
	} `json:"geonames"`
	Status *struct {
		Message string `json:"message"`
		Value   int    `json:"value"`
	} `json:"status"`
}

func (c *client) SubdivisionPopulation(ctx context.Context, countryISO2, adminCode string) (int64, error) {
	if c.username == "" {
		return 0, eris.New("geonames: username not configured")
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("geonames", "subdivision_population")
	}
	sr, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*searchResponse, error) {
		return c.search(ctx, countryISO2, adminCode)
	})
	if err != nil {
		return 0, err
	}

	// Take the top-ranked ADM1 result matching the admin code.
	for _, g := range sr.Geonames {
		if g.AdminCode1 != adminCode {
			continue
		}
		if !model.ValidPopulation(g.Population) {
			zap.L().Debug("geonames: implausible population",
				zap.String("country", countryISO2),
				zap.String("admin_code", adminCode),
				zap.Int64("population", g.Population),
			)
			continue
		}
		return g.Population, nil
	}
	return 0, eris.Wrapf(resilience.ErrNoData, "geonames: no ADM1 match for %s-%s", countryISO2, adminCode)
}

func (c *client) search(ctx context.Context, countryISO2, adminCode string) (*searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geonames: rate limit")
	}

	params := url.Values{
		"country":     {countryISO2},
		"adminCode1":  {adminCode},
		"featureCode": {"ADM1"},
		"maxRows":     {"5"},
		"type":        {"json"},
		"username":    {c.username},
	}
	reqURL := c.baseURL + "/searchJSON?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geonames: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geonames: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("geonames: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geonames: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geonames: read body"), 0)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "geonames: unmarshal response")
	}

	// GeoNames reports quota and auth errors inside a 200 body. Code 19 is
	// the hourly quota limit, which is worth retrying after backoff.
	if sr.Status != nil {
		if sr.Status.Value == 19 {
			return nil, resilience.NewTransientError(eris.Errorf("geonames: %s", sr.Status.Message), 429)
		}
		return nil, eris.Errorf("geonames: api error %d: %s", sr.Status.Value, sr.Status.Message)
	}
	return &sr, nil
}
