package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RegionType distinguishes national records from first-level subdivisions.
type RegionType string

const (
	RegionTypeCountry     RegionType = "country"
	RegionTypeSubdivision RegionType = "subdivision"
)

// MaxPopulation is the exclusive upper bound for a plausible regional
// population. Values at or above it are treated as provider garbage.
const MaxPopulation = 2_000_000_000

// RegionRecord holds one (region_code, data_year) row of the regions table.
// Measurement fields are nullable: nil means "no real value obtained yet".
type RegionRecord struct {
	RegionCode string     `json:"region_code"` // COUNTRY or COUNTRY-SUBDIVISION
	RegionType RegionType `json:"region_type"`
	Country    string     `json:"country"`
	RegionName string     `json:"region_name"`
	DataYear   int        `json:"data_year"`

	// Centroid used for point-based climate lookups.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Population            *int64   `json:"population,omitempty"`
	GDPPerCapita          *float64 `json:"gdp_per_capita,omitempty"`
	UrbanPopulationPct    *float64 `json:"urban_population_percent,omitempty"`
	AirQualityPM25        *float64 `json:"air_quality_pm25,omitempty"`
	AirQualityNO2         *float64 `json:"air_quality_no2,omitempty"`
	TemperatureAvg        *float64 `json:"temperature_avg,omitempty"`
	PrecipitationAvg      *float64 `json:"precipitation_avg,omitempty"`
	InternetSpeedDownload *float64 `json:"internet_speed_download,omitempty"`
	InternetSpeedUpload   *float64 `json:"internet_speed_upload,omitempty"`

	CIIScore            *float64 `json:"cii_score,omitempty"`
	ClimateRiskScore    *float64 `json:"climate_risk_score,omitempty"`
	InfrastructureScore *float64 `json:"infrastructure_score,omitempty"`
	SocioeconomicScore  *float64 `json:"socioeconomic_score,omitempty"`

	DataSources []string `json:"data_sources"`

	EnrichmentAttempts int        `json:"enrichment_attempts"`
	NextRetryAt        *time.Time `json:"next_retry_at,omitempty"`
	EnrichmentError    string     `json:"enrichment_error,omitempty"`
	LastUpdated        time.Time  `json:"last_updated"`
}

// Key returns the unique identity of the record.
func (r *RegionRecord) Key() string {
	return fmt.Sprintf("%s|%d", r.RegionCode, r.DataYear)
}

// CountryCode returns the ISO-3166 country portion of the region code.
func (r *RegionRecord) CountryCode() string {
	code, _, _ := strings.Cut(r.RegionCode, "-")
	return code
}

// SubdivisionCode returns the subdivision portion of the region code, or ""
// for country-level records.
func (r *RegionRecord) SubdivisionCode() string {
	_, sub, _ := strings.Cut(r.RegionCode, "-")
	return sub
}

// HasTag reports whether the data_sources list contains tag.
func (r *RegionRecord) HasTag(tag string) bool {
	for _, t := range r.DataSources {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag to data_sources if not already present. Order is
// preserved so provenance reads as "first provider consulted first".
func (r *RegionRecord) AddTag(tag string) {
	if tag == "" || r.HasTag(tag) {
		return
	}
	r.DataSources = append(r.DataSources, tag)
}

// RemoveTag deletes tag from data_sources, preserving order.
func (r *RegionRecord) RemoveTag(tag string) {
	out := r.DataSources[:0]
	for _, t := range r.DataSources {
		if t != tag {
			out = append(out, t)
		}
	}
	r.DataSources = out
}

// RemoveRealTags deletes every real-data provider tag, preserving the order
// of the remaining tags.
func (r *RegionRecord) RemoveRealTags() {
	out := r.DataSources[:0]
	for _, t := range r.DataSources {
		if !strings.HasPrefix(t, RealTagPrefix) {
			out = append(out, t)
		}
	}
	r.DataSources = out
}

// ClearMeasurements nulls every measurement field. Provenance tags and
// composite scores are left alone.
func (r *RegionRecord) ClearMeasurements() {
	r.Population = nil
	r.GDPPerCapita = nil
	r.UrbanPopulationPct = nil
	r.AirQualityPM25 = nil
	r.AirQualityNO2 = nil
	r.TemperatureAvg = nil
	r.PrecipitationAvg = nil
	r.InternetSpeedDownload = nil
	r.InternetSpeedUpload = nil
}

// IsPlaceholder reports whether the record still carries synthetic bootstrap
// values. Only placeholder records are eligible for enrichment scheduling.
func (r *RegionRecord) IsPlaceholder() bool {
	return r.HasTag(TagSynthetic)
}

// HasRealData reports whether any real-data provider tag is present.
func (r *RegionRecord) HasRealData() bool {
	for _, t := range r.DataSources {
		if strings.HasPrefix(t, RealTagPrefix) {
			return true
		}
	}
	return false
}

// Validate checks structural invariants. It is called before every upsert so
// a malformed record never reaches the store.
func (r *RegionRecord) Validate() error {
	if r.RegionCode == "" {
		return eris.New("model: region_code is required")
	}
	if r.DataYear <= 0 {
		return eris.Errorf("model: invalid data_year %d for %s", r.DataYear, r.RegionCode)
	}
	switch r.RegionType {
	case RegionTypeCountry, RegionTypeSubdivision:
	default:
		return eris.Errorf("model: unknown region_type %q for %s", r.RegionType, r.RegionCode)
	}
	if r.IsPlaceholder() && r.HasRealData() {
		return eris.Errorf("model: %s tagged both synthetic and real", r.RegionCode)
	}
	if r.Population != nil && (*r.Population <= 0 || *r.Population >= MaxPopulation) {
		return eris.Errorf("model: %s population %d out of range", r.RegionCode, *r.Population)
	}
	for name, score := range map[string]*float64{
		"cii_score":            r.CIIScore,
		"climate_risk_score":   r.ClimateRiskScore,
		"infrastructure_score": r.InfrastructureScore,
		"socioeconomic_score":  r.SocioeconomicScore,
	} {
		if score != nil && (*score < 0 || *score > 1) {
			return eris.Errorf("model: %s %s %.4f outside [0,1]", r.RegionCode, name, *score)
		}
	}
	if r.EnrichmentAttempts < 0 {
		return eris.Errorf("model: %s negative enrichment_attempts", r.RegionCode)
	}
	return nil
}

// ValidPopulation reports whether pop is inside the plausible range.
func ValidPopulation(pop int64) bool {
	return pop > 0 && pop < MaxPopulation
}

// Partition identifies one (region_type, data_year) slice of the regions
// table; batch scheduling operates over a single partition at a time.
type Partition struct {
	RegionType RegionType `json:"region_type"`
	DataYear   int        `json:"data_year"`
}

func (p Partition) String() string {
	return fmt.Sprintf("%s/%d", p.RegionType, p.DataYear)
}
