package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/equiclimate/enrich-cli/internal/enrich"
	"github.com/equiclimate/enrich-cli/internal/fallback"
	"github.com/equiclimate/enrich-cli/internal/observability"
	"github.com/equiclimate/enrich-cli/internal/resilience"
	"github.com/equiclimate/enrich-cli/internal/score"
	"github.com/equiclimate/enrich-cli/internal/store"
	"github.com/equiclimate/enrich-cli/pkg/geonames"
	"github.com/equiclimate/enrich-cli/pkg/nasapower"
	"github.com/equiclimate/enrich-cli/pkg/ookla"
	"github.com/equiclimate/enrich-cli/pkg/openaq"
	"github.com/equiclimate/enrich-cli/pkg/openmeteo"
	"github.com/equiclimate/enrich-cli/pkg/restcountries"
	"github.com/equiclimate/enrich-cli/pkg/worldbank"
)

// appEnv bundles the wired pipeline components for one command invocation.
type appEnv struct {
	Store     store.Store
	Worker    *enrich.Worker
	Scheduler *enrich.Scheduler
	Scorer    *score.Scorer
	Metrics   *observability.Metrics
}

func (e *appEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func buildProviders() fallback.Providers {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffSecs) * time.Second

	p := cfg.Providers
	return fallback.Providers{
		WorldBank: worldbank.NewClient(
			worldbank.WithBaseURL(p.WorldBank.BaseURL),
			worldbank.WithRateLimit(p.WorldBank.RateLimitRPS),
			worldbank.WithRetry(retry),
		),
		RESTCountries: restcountries.NewClient(
			restcountries.WithBaseURL(p.RESTCountries.BaseURL),
			restcountries.WithRateLimit(p.RESTCountries.RateLimitRPS),
			restcountries.WithRetry(retry),
		),
		GeoNames: geonames.NewClient(p.GeoNames.Username,
			geonames.WithBaseURL(p.GeoNames.BaseURL),
			geonames.WithRateLimit(p.GeoNames.RateLimitRPS),
			geonames.WithRetry(retry),
		),
		OpenAQ: openaq.NewClient(
			openaq.WithBaseURL(p.OpenAQ.BaseURL),
			openaq.WithAPIKey(p.OpenAQ.APIKey),
			openaq.WithDaysBack(p.OpenAQ.DaysBack),
			openaq.WithRateLimit(p.OpenAQ.RateLimitRPS),
			openaq.WithRetry(retry),
		),
		OpenMeteo: openmeteo.NewClient(
			openmeteo.WithBaseURL(p.OpenMeteo.BaseURL),
			openmeteo.WithRateLimit(p.OpenMeteo.RateLimitRPS),
			openmeteo.WithRetry(retry),
		),
		NASAPower: nasapower.NewClient(
			nasapower.WithBaseURL(p.NASAPower.BaseURL),
			nasapower.WithRateLimit(p.NASAPower.RateLimitRPS),
			nasapower.WithRetry(retry),
		),
		Ookla: ookla.NewClient(p.Ookla.BaseURL,
			ookla.WithRateLimit(p.Ookla.RateLimitRPS),
			ookla.WithRetry(retry),
		),
	}
}

// regionAttemptCeiling honors the manual-reset contract by default; the
// retry_exhausted switch lets an operator re-run permanently failed
// regions without resetting them one by one.
func regionAttemptCeiling() int {
	if cfg.Enrich.RetryExhausted {
		return 1 << 30
	}
	return cfg.Enrich.MaxAttempts
}

// initEnrich wires the store, resolver, worker, scheduler, and scorer.
// Metrics may be nil for one-shot CLI invocations.
func initEnrich(ctx context.Context, metrics *observability.Metrics) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := fallback.NewLRUCache(cfg.Enrich.CacheSize, cfg.Enrich.CacheTTL(), nil)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init resolver cache")
	}

	resolver := fallback.NewResolver(buildProviders(),
		fallback.WithCache(cache),
		fallback.WithMetrics(metrics),
		fallback.WithInterCallDelay(cfg.Enrich.InterCallDelay()),
	)

	worker := enrich.NewWorker(st, resolver,
		enrich.WithWorkerMetrics(metrics),
		enrich.WithMaxAttempts(regionAttemptCeiling()),
	)

	scheduler := enrich.NewScheduler(st, worker,
		enrich.WithPageSize(cfg.Enrich.PageSize),
		enrich.WithConcurrency(cfg.Enrich.Concurrency),
		enrich.WithSchedulerMetrics(metrics),
	)

	return &appEnv{
		Store:     st,
		Worker:    worker,
		Scheduler: scheduler,
		Scorer:    score.NewScorer(st),
		Metrics:   metrics,
	}, nil
}
