package model

// Provenance tags stored in data_sources. A record carries TagSynthetic until
// its first enrichment pass; after that it carries either real-data tags or
// TagAttemptedNoData, never TagSynthetic alongside a real tag.
const (
	// TagSynthetic marks placeholder bootstrap values.
	TagSynthetic = "synthetic_data"

	// TagAttemptedNoData marks a record whose providers were all queried
	// successfully but returned nothing usable.
	TagAttemptedNoData = "attempted_no_data"

	// RealTagPrefix prefixes every real-data provider tag.
	RealTagPrefix = "real:"
)

// Provider identifiers. These appear in data_sources as "real:<provider>"
// and in logs and metrics as bare names.
const (
	ProviderWorldBank     = "worldbank"
	ProviderRESTCountries = "restcountries"
	ProviderGeoNames      = "geonames"
	ProviderOpenAQ        = "openaq"
	ProviderOpenMeteo     = "openmeteo"
	ProviderNASAPower     = "nasapower"
	ProviderOokla         = "ookla"
)

// RealTag returns the data_sources tag for a provider.
func RealTag(provider string) string {
	return RealTagPrefix + provider
}
