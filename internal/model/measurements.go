package model

// Measurements is the optional-field struct produced by provider fetchers and
// merged by the fallback resolver. A nil field means the provider(s) had no
// usable value; zero is a legitimate measurement and is never used as a
// sentinel.
type Measurements struct {
	Population            *int64
	GDPPerCapita          *float64
	UrbanPopulationPct    *float64
	AirQualityPM25        *float64
	AirQualityNO2         *float64
	TemperatureAvg        *float64
	PrecipitationAvg      *float64
	InternetSpeedDownload *float64
	InternetSpeedUpload   *float64

	// Sources maps each populated field to the provider that supplied it.
	Sources map[string]string
}

// Field names used as Sources keys and in logs.
const (
	FieldPopulation       = "population"
	FieldGDPPerCapita     = "gdp_per_capita"
	FieldUrbanPct         = "urban_population_percent"
	FieldPM25             = "air_quality_pm25"
	FieldNO2              = "air_quality_no2"
	FieldTemperature      = "temperature_avg"
	FieldPrecipitation    = "precipitation_avg"
	FieldInternetDownload = "internet_speed_download"
	FieldInternetUpload   = "internet_speed_upload"
)

// SetSource records the provider that supplied a field.
func (m *Measurements) SetSource(field, provider string) {
	if m.Sources == nil {
		m.Sources = make(map[string]string)
	}
	m.Sources[field] = provider
}

// CountSet returns the number of non-nil measurement fields.
func (m Measurements) CountSet() int {
	n := 0
	for _, p := range []*float64{
		m.GDPPerCapita, m.UrbanPopulationPct,
		m.AirQualityPM25, m.AirQualityNO2,
		m.TemperatureAvg, m.PrecipitationAvg,
		m.InternetSpeedDownload, m.InternetSpeedUpload,
	} {
		if p != nil {
			n++
		}
	}
	if m.Population != nil {
		n++
	}
	return n
}

// IsEmpty reports whether no measurement field is set.
func (m Measurements) IsEmpty() bool {
	return m.CountSet() == 0
}

// Merge combines two measurement sets field by field: primary wins, fallback
// fills only fields primary left nil. Source attribution follows the value.
// Both inputs are left unmodified.
func Merge(primary, fallback Measurements) Measurements {
	out := primary
	out.Sources = make(map[string]string, len(primary.Sources)+len(fallback.Sources))
	for k, v := range primary.Sources {
		out.Sources[k] = v
	}

	fill := func(dst **float64, src *float64, field string) {
		if *dst == nil && src != nil {
			*dst = src
			out.Sources[field] = fallback.Sources[field]
		}
	}

	if out.Population == nil && fallback.Population != nil {
		out.Population = fallback.Population
		out.Sources[FieldPopulation] = fallback.Sources[FieldPopulation]
	}
	fill(&out.GDPPerCapita, fallback.GDPPerCapita, FieldGDPPerCapita)
	fill(&out.UrbanPopulationPct, fallback.UrbanPopulationPct, FieldUrbanPct)
	fill(&out.AirQualityPM25, fallback.AirQualityPM25, FieldPM25)
	fill(&out.AirQualityNO2, fallback.AirQualityNO2, FieldNO2)
	fill(&out.TemperatureAvg, fallback.TemperatureAvg, FieldTemperature)
	fill(&out.PrecipitationAvg, fallback.PrecipitationAvg, FieldPrecipitation)
	fill(&out.InternetSpeedDownload, fallback.InternetSpeedDownload, FieldInternetDownload)
	fill(&out.InternetSpeedUpload, fallback.InternetSpeedUpload, FieldInternetUpload)

	return out
}
