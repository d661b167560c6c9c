package model

// iso3to2 maps ISO-3166 alpha-3 country codes to alpha-2. Region codes use
// alpha-3; GeoNames and the connectivity aggregates are addressed by alpha-2.
var iso3to2 = map[string]string{
	"ALB": "AL", "AND": "AD", "ARG": "AR", "ARM": "AM", "AUS": "AU",
	"AUT": "AT", "AZE": "AZ", "BEL": "BE", "BGD": "BD", "BGR": "BG",
	"BIH": "BA", "BLR": "BY", "BRA": "BR", "CAN": "CA", "CHE": "CH",
	"CHL": "CL", "CHN": "CN", "COL": "CO", "CRI": "CR", "CYP": "CY",
	"CZE": "CZ", "DEU": "DE", "DNK": "DK", "DZA": "DZ", "ECU": "EC",
	"EGY": "EG", "ESP": "ES", "EST": "EE", "ETH": "ET", "FIN": "FI",
	"FRA": "FR", "GBR": "GB", "GEO": "GE", "GHA": "GH", "GRC": "GR",
	"HRV": "HR", "HUN": "HU", "IDN": "ID", "IND": "IN", "IRL": "IE",
	"IRN": "IR", "IRQ": "IQ", "ISL": "IS", "ISR": "IL", "ITA": "IT",
	"JOR": "JO", "JPN": "JP", "KAZ": "KZ", "KEN": "KE", "KOR": "KR",
	"LBN": "LB", "LIE": "LI", "LTU": "LT", "LUX": "LU", "LVA": "LV",
	"MAR": "MA", "MDA": "MD", "MEX": "MX", "MKD": "MK", "MLT": "MT",
	"MNE": "ME", "MYS": "MY", "NGA": "NG", "NLD": "NL", "NOR": "NO",
	"NZL": "NZ", "PAK": "PK", "PER": "PE", "PHL": "PH", "POL": "PL",
	"PRT": "PT", "ROU": "RO", "RUS": "RU", "SAU": "SA", "SGP": "SG",
	"SRB": "RS", "SVK": "SK", "SVN": "SI", "SWE": "SE", "THA": "TH",
	"TUN": "TN", "TUR": "TR", "TWN": "TW", "UKR": "UA", "URY": "UY",
	"USA": "US", "VEN": "VE", "VNM": "VN", "ZAF": "ZA", "ZWE": "ZW",
}

// ISO2 converts an ISO-3166 alpha-3 country code to alpha-2. ok is false for
// unknown codes; callers skip alpha-2-addressed providers in that case.
func ISO2(iso3 string) (string, bool) {
	code, ok := iso3to2[iso3]
	return code, ok
}
