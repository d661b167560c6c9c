// Package fallback resolves measurement fields for one region by consulting
// providers in a fixed priority order per field group and keeping the first
// non-null, range-valid value.
//
// Canonical provider order:
//
//	economic:      worldbank, then restcountries (country population only)
//	population:    geonames (subdivision records only)
//	air quality:   openaq
//	climate:       openmeteo, then nasapower for fields left null
//	connectivity:  ookla
//
// Field groups are independent and resolved concurrently within one region;
// the measurement sets they produce are disjoint by construction.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/equiclimate/enrich-cli/internal/model"
	"github.com/equiclimate/enrich-cli/internal/observability"
	"github.com/equiclimate/enrich-cli/internal/resilience"
	"github.com/equiclimate/enrich-cli/pkg/geonames"
	"github.com/equiclimate/enrich-cli/pkg/nasapower"
	"github.com/equiclimate/enrich-cli/pkg/ookla"
	"github.com/equiclimate/enrich-cli/pkg/openaq"
	"github.com/equiclimate/enrich-cli/pkg/openmeteo"
	"github.com/equiclimate/enrich-cli/pkg/restcountries"
	"github.com/equiclimate/enrich-cli/pkg/worldbank"
)

// Providers bundles the provider clients consulted by the resolver. A nil
// client disables its slot in the chain; the resolver degrades to the next
// provider or to "no data".
type Providers struct {
	WorldBank     worldbank.Client
	RESTCountries restcountries.Client
	GeoNames      geonames.Client
	OpenAQ        openaq.Client
	OpenMeteo     openmeteo.Client
	NASAPower     nasapower.Client
	Ookla         ookla.Client
}

// Resolver runs the fallback chains for a region. Provider and field-level
// failures are absorbed into "no data": only context cancellation surfaces
// as an error, so the caller can distinguish "providers had nothing" from
// "we were told to stop".
type Resolver struct {
	providers Providers
	cache     Cache
	metrics   *observability.Metrics
	clock     clockwork.Clock

	// interCallDelay spaces successive provider calls within one field
	// group to avoid bursting a single provider.
	interCallDelay time.Duration
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithCache sets the country-level lookup cache.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithMetrics attaches provider metrics recording.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock injects the clock used for inter-call delays.
func WithClock(c clockwork.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// WithInterCallDelay sets the courtesy delay between chained provider calls.
func WithInterCallDelay(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.interCallDelay = d }
}

// NewResolver creates a resolver over the given provider set.
func NewResolver(providers Providers, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers:      providers,
		cache:          nopCache{},
		clock:          clockwork.NewRealClock(),
		interCallDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches every field group for one region and merges the results.
func (r *Resolver) Resolve(ctx context.Context, rec *model.RegionRecord) (model.Measurements, error) {
	type groupResult struct {
		m model.Measurements
	}

	groups := []struct {
		name string
		fn   func(context.Context, *model.RegionRecord) model.Measurements
	}{
		{"economic", r.resolveEconomic},
		{"air_quality", r.resolveAirQuality},
		{"climate", r.resolveClimate},
		{"connectivity", r.resolveConnectivity},
	}

	results := make([]groupResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		g.Go(func() error {
			results[i] = groupResult{m: grp.fn(gctx, rec)}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return model.Measurements{}, err
	}

	merged := results[0].m
	for _, res := range results[1:] {
		merged = model.Merge(merged, res.m)
	}
	return merged, nil
}

// cacheKey builds the country-level cache key for a provider group.
func cacheKey(provider, country string, year int) string {
	return fmt.Sprintf("%s|%s|%d", provider, country, year)
}

// resolveEconomic fills population, GDP per capita, and urbanization.
// Country records take population from the World Bank chain with REST
// Countries as supplemental; subdivision records take population from
// GeoNames only, while GDP and urbanization still come from the national
// figures.
func (r *Resolver) resolveEconomic(ctx context.Context, rec *model.RegionRecord) model.Measurements {
	country := rec.CountryCode()
	national := r.nationalEconomic(ctx, country, rec.DataYear)

	if rec.RegionType == model.RegionTypeCountry {
		return national
	}

	// Subdivisions never inherit the national population.
	m := national
	m.Population = nil
	sources := make(map[string]string, len(national.Sources))
	for k, v := range national.Sources {
		if k != model.FieldPopulation {
			sources[k] = v
		}
	}
	m.Sources = sources

	if pop := r.subdivisionPopulation(ctx, rec); pop != nil {
		m.Population = pop
		m.SetSource(model.FieldPopulation, model.ProviderGeoNames)
	}
	return m
}

// nationalEconomic resolves the country-level economic group, cached per
// (country, year) so all subdivisions of a country share one fetch.
func (r *Resolver) nationalEconomic(ctx context.Context, country string, year int) model.Measurements {
	key := cacheKey(model.ProviderWorldBank, country, year)
	if m, ok := r.cache.Get(key); ok {
		r.metrics.RecordCache(true)
		return m
	}
	r.metrics.RecordCache(false)

	var m model.Measurements
	if r.providers.WorldBank != nil {
		ind, err := call(r, ctx, model.ProviderWorldBank, func() (*worldbank.Indicators, error) {
			return r.providers.WorldBank.Indicators(ctx, country, year)
		})
		if err == nil {
			if ind.Population != nil && model.ValidPopulation(*ind.Population) {
				m.Population = ind.Population
				m.SetSource(model.FieldPopulation, model.ProviderWorldBank)
			}
			if ind.GDPPerCapita != nil {
				m.GDPPerCapita = ind.GDPPerCapita
				m.SetSource(model.FieldGDPPerCapita, model.ProviderWorldBank)
			}
			if ind.UrbanPopulationPct != nil {
				m.UrbanPopulationPct = ind.UrbanPopulationPct
				m.SetSource(model.FieldUrbanPct, model.ProviderWorldBank)
			}
		}
	}

	// Supplemental national population, consulted only when the primary
	// left it null.
	if m.Population == nil && r.providers.RESTCountries != nil {
		r.pause(ctx)
		pop, err := call(r, ctx, model.ProviderRESTCountries, func() (int64, error) {
			return r.providers.RESTCountries.Population(ctx, country)
		})
		if err == nil && model.ValidPopulation(pop) {
			m.Population = &pop
			m.SetSource(model.FieldPopulation, model.ProviderRESTCountries)
		}
	}

	if !m.IsEmpty() {
		r.cache.Put(key, m)
	}
	return m
}

// subdivisionPopulation resolves population via the subdivision chain.
func (r *Resolver) subdivisionPopulation(ctx context.Context, rec *model.RegionRecord) *int64 {
	if r.providers.GeoNames == nil {
		return nil
	}
	iso2, ok := model.ISO2(rec.CountryCode())
	if !ok {
		zap.L().Debug("fallback: no alpha-2 mapping, skipping geonames",
			zap.String("region", rec.RegionCode),
		)
		return nil
	}
	pop, err := call(r, ctx, model.ProviderGeoNames, func() (int64, error) {
		return r.providers.GeoNames.SubdivisionPopulation(ctx, iso2, rec.SubdivisionCode())
	})
	if err != nil || !model.ValidPopulation(pop) {
		return nil
	}
	return &pop
}

// resolveAirQuality fills PM2.5 and NO2 from country-level station averages.
func (r *Resolver) resolveAirQuality(ctx context.Context, rec *model.RegionRecord) model.Measurements {
	if r.providers.OpenAQ == nil {
		return model.Measurements{}
	}
	country := rec.CountryCode()
	key := cacheKey(model.ProviderOpenAQ, country, rec.DataYear)
	if m, ok := r.cache.Get(key); ok {
		r.metrics.RecordCache(true)
		return m
	}
	r.metrics.RecordCache(false)

	var m model.Measurements
	avg, err := call(r, ctx, model.ProviderOpenAQ, func() (*openaq.Averages, error) {
		return r.providers.OpenAQ.Averages(ctx, country)
	})
	if err != nil {
		return m
	}
	if avg.PM25 != nil {
		m.AirQualityPM25 = avg.PM25
		m.SetSource(model.FieldPM25, model.ProviderOpenAQ)
	}
	if avg.NO2 != nil {
		m.AirQualityNO2 = avg.NO2
		m.SetSource(model.FieldNO2, model.ProviderOpenAQ)
	}
	if !m.IsEmpty() {
		r.cache.Put(key, m)
	}
	return m
}

// resolveClimate fills temperature and precipitation from the point-based
// chain. The supplemental provider is consulted only for fields the primary
// left null. Records without a centroid can't be resolved.
func (r *Resolver) resolveClimate(ctx context.Context, rec *model.RegionRecord) model.Measurements {
	var m model.Measurements
	if rec.Latitude == nil || rec.Longitude == nil {
		zap.L().Debug("fallback: no centroid, skipping climate",
			zap.String("region", rec.RegionCode),
		)
		return m
	}
	lat, lon := *rec.Latitude, *rec.Longitude

	if r.providers.OpenMeteo != nil {
		c, err := call(r, ctx, model.ProviderOpenMeteo, func() (*openmeteo.Climate, error) {
			return r.providers.OpenMeteo.Climate(ctx, lat, lon, rec.DataYear)
		})
		if err == nil {
			if c.TemperatureAvg != nil {
				m.TemperatureAvg = c.TemperatureAvg
				m.SetSource(model.FieldTemperature, model.ProviderOpenMeteo)
			}
			if c.PrecipitationAvg != nil {
				m.PrecipitationAvg = c.PrecipitationAvg
				m.SetSource(model.FieldPrecipitation, model.ProviderOpenMeteo)
			}
		}
	}

	if (m.TemperatureAvg == nil || m.PrecipitationAvg == nil) && r.providers.NASAPower != nil {
		r.pause(ctx)
		c, err := call(r, ctx, model.ProviderNASAPower, func() (*nasapower.Climate, error) {
			return r.providers.NASAPower.Climate(ctx, lat, lon, rec.DataYear)
		})
		if err == nil {
			if m.TemperatureAvg == nil && c.TemperatureAvg != nil {
				m.TemperatureAvg = c.TemperatureAvg
				m.SetSource(model.FieldTemperature, model.ProviderNASAPower)
			}
			if m.PrecipitationAvg == nil && c.PrecipitationAvg != nil {
				m.PrecipitationAvg = c.PrecipitationAvg
				m.SetSource(model.FieldPrecipitation, model.ProviderNASAPower)
			}
		}
	}
	return m
}

// resolveConnectivity fills download/upload estimates; optional enrichment.
func (r *Resolver) resolveConnectivity(ctx context.Context, rec *model.RegionRecord) model.Measurements {
	var m model.Measurements
	if r.providers.Ookla == nil {
		return m
	}
	iso2, ok := model.ISO2(rec.CountryCode())
	if !ok {
		return m
	}
	key := cacheKey(model.ProviderOokla, iso2, rec.DataYear)
	if cached, cok := r.cache.Get(key); cok {
		r.metrics.RecordCache(true)
		return cached
	}
	r.metrics.RecordCache(false)

	s, err := call(r, ctx, model.ProviderOokla, func() (*ookla.Speeds, error) {
		return r.providers.Ookla.Speeds(ctx, iso2)
	})
	if err != nil {
		return m
	}
	if s.DownloadMbps > 0 {
		d := s.DownloadMbps
		m.InternetSpeedDownload = &d
		m.SetSource(model.FieldInternetDownload, model.ProviderOokla)
	}
	if s.UploadMbps > 0 {
		u := s.UploadMbps
		m.InternetSpeedUpload = &u
		m.SetSource(model.FieldInternetUpload, model.ProviderOokla)
	}
	if !m.IsEmpty() {
		r.cache.Put(key, m)
	}
	return m
}

// call wraps one provider invocation with metrics and absorbed-error logging.
func call[T any](r *Resolver, ctx context.Context, provider string, fn func() (T, error)) (T, error) {
	start := r.clock.Now()
	val, err := fn()
	elapsed := r.clock.Since(start).Seconds()

	switch {
	case err == nil:
		r.metrics.RecordProvider(provider, "success", elapsed)
	case resilience.IsNoData(err):
		r.metrics.RecordProvider(provider, "no_data", elapsed)
	default:
		r.metrics.RecordProvider(provider, "error", elapsed)
		zap.L().Warn("fallback: provider call failed",
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
	return val, err
}

// pause inserts the courtesy delay between chained provider calls.
func (r *Resolver) pause(ctx context.Context) {
	if r.interCallDelay <= 0 {
		return
	}
	timer := r.clock.NewTimer(r.interCallDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.Chan():
	}
}
