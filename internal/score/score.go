// Package score derives the composite climate inequality index from
// enriched region measurements. All component scores and the composite
// live in [0,1]; nil means the inputs needed to derive a value were
// absent, never a fabricated default.
package score

import (
	"math"

	"github.com/equiclimate/enrich-cli/internal/model"
)

// Fixed composite weights. They sum to 1.0 so a region with all four
// components present maps directly onto the weighted-sum formula.
const (
	WeightClimateRisk    = 0.30
	WeightInfrastructure = 0.25
	WeightSocioeconomic  = 0.25
	WeightAirQuality     = 0.20
)

// Normalization anchors for component derivation. Concentrations are
// annual means in ug/m3 against the 2021 WHO guideline values.
const (
	baselineTemperatureC    = 14.0
	temperatureRiskSpanC    = 15.0
	baselinePrecipitationMM = 1000.0

	targetDownloadMbps = 100.0
	targetUploadMbps   = 50.0

	referenceGDPPerCapita = 50_000.0

	whoGuidelinePM25 = 5.0
	whoGuidelineNO2  = 10.0

	// A concentration at guideline x10 saturates the component at 1.0.
	guidelineSpanFactor = 10.0
)

// Components holds the four normalized component scores feeding the
// composite. A nil component means its measurements were unavailable.
type Components struct {
	ClimateRisk    *float64 `json:"climate_risk,omitempty"`
	Infrastructure *float64 `json:"infrastructure,omitempty"`
	Socioeconomic  *float64 `json:"socioeconomic,omitempty"`
	AirQuality     *float64 `json:"air_quality,omitempty"`
}

// Composite returns the weighted composite index over the present
// components, clamped to [0,1]. Missing components contribute nothing;
// when every component is nil the composite is nil.
func Composite(c Components) *float64 {
	terms := []struct {
		weight float64
		value  *float64
	}{
		{WeightClimateRisk, c.ClimateRisk},
		{WeightInfrastructure, c.Infrastructure},
		{WeightSocioeconomic, c.Socioeconomic},
		{WeightAirQuality, c.AirQuality},
	}

	sum := 0.0
	present := false
	for _, t := range terms {
		if t.value == nil {
			continue
		}
		present = true
		sum += t.weight * *t.value
	}
	if !present {
		return nil
	}
	return ptr(clamp01(sum))
}

// ClimateRisk normalizes temperature and precipitation into a [0,1] risk
// score. Temperature risk grows linearly above the global-mean baseline;
// precipitation risk grows with deviation from the baseline in either
// direction (both drought and flood regimes raise exposure).
func ClimateRisk(temperatureAvg, precipitationAvg *float64) *float64 {
	var temp, precip *float64
	if temperatureAvg != nil {
		temp = ptr(clamp01((*temperatureAvg - baselineTemperatureC) / temperatureRiskSpanC))
	}
	if precipitationAvg != nil {
		precip = ptr(clamp01(math.Abs(*precipitationAvg-baselinePrecipitationMM) / baselinePrecipitationMM))
	}
	return meanPresent(temp, precip)
}

// InfrastructureGap scores connectivity shortfall against the target
// broadband speeds: 0 at or above target, 1 with no connectivity.
func InfrastructureGap(downloadMbps, uploadMbps *float64) *float64 {
	var down, up *float64
	if downloadMbps != nil {
		down = ptr(1 - clamp01(*downloadMbps/targetDownloadMbps))
	}
	if uploadMbps != nil {
		up = ptr(1 - clamp01(*uploadMbps/targetUploadMbps))
	}
	return meanPresent(down, up)
}

// SocioeconomicVulnerability scores economic exposure from GDP per capita
// and urbanization. Lower GDP and lower urban share both raise
// vulnerability (rural regions have thinner service coverage).
func SocioeconomicVulnerability(gdpPerCapita, urbanPct *float64) *float64 {
	var gdp, urban *float64
	if gdpPerCapita != nil {
		gdp = ptr(1 - clamp01(*gdpPerCapita/referenceGDPPerCapita))
	}
	if urbanPct != nil {
		urban = ptr(1 - clamp01(*urbanPct/100))
	}
	return meanPresent(gdp, urban)
}

// AirQuality scores pollution burden against WHO annual guidelines,
// saturating at ten times the guideline concentration.
func AirQuality(pm25, no2 *float64) *float64 {
	var p, n *float64
	if pm25 != nil {
		p = ptr(clamp01(*pm25 / (whoGuidelinePM25 * guidelineSpanFactor)))
	}
	if no2 != nil {
		n = ptr(clamp01(*no2 / (whoGuidelineNO2 * guidelineSpanFactor)))
	}
	return meanPresent(p, n)
}

// ComponentsFromRecord derives all four component scores from a record's
// measurement fields.
func ComponentsFromRecord(rec *model.RegionRecord) Components {
	return Components{
		ClimateRisk:    ClimateRisk(rec.TemperatureAvg, rec.PrecipitationAvg),
		Infrastructure: InfrastructureGap(rec.InternetSpeedDownload, rec.InternetSpeedUpload),
		Socioeconomic:  SocioeconomicVulnerability(rec.GDPPerCapita, rec.UrbanPopulationPct),
		AirQuality:     AirQuality(rec.AirQualityPM25, rec.AirQualityNO2),
	}
}

// ScoreRecord derives the component scores from rec's measurements, writes
// them onto rec along with the composite, and returns the composite. A
// record with no scorable measurements is left untouched and returns nil.
func ScoreRecord(rec *model.RegionRecord) *float64 {
	c := ComponentsFromRecord(rec)
	composite := Composite(c)
	if composite == nil {
		return nil
	}
	rec.ClimateRiskScore = c.ClimateRisk
	rec.InfrastructureScore = c.Infrastructure
	rec.SocioeconomicScore = c.Socioeconomic
	rec.CIIScore = composite
	return composite
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func ptr(v float64) *float64 { return &v }

// meanPresent averages the non-nil values, or returns nil when all are nil.
func meanPresent(vals ...*float64) *float64 {
	sum := 0.0
	n := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	return ptr(sum / float64(n))
}
