package normalize

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var caProvinces = map[string]string{
	"AB": "AB", "ALBERTA": "AB",
	"BC": "BC", "BRITISH COLUMBIA": "BC",
	"MB": "MB", "MANITOBA": "MB",
	"NB": "NB", "NEW BRUNSWICK": "NB",
	"NL": "NL", "NEWFOUNDLAND AND LABRADOR": "NL",
	"NS": "NS", "NOVA SCOTIA": "NS",
	"NT": "NT", "NORTHWEST TERRITORIES": "NT",
	"NU": "NU", "NUNAVUT": "NU",
	"ON": "ON", "ONTARIO": "ON",
	"PE": "PE", "PRINCE EDWARD ISLAND": "PE",
	"QC": "QC", "QUEBEC": "QC", "QUÉBEC": "QC",
	"SK": "SK", "SASKATCHEWAN": "SK",
	"YT": "YT", "YUKON": "YT",
}

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true,
	"DE": true, "DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true,
	"IN": true, "IA": true, "KS": true, "KY": true, "LA": true, "ME": true, "MD": true,
	"MA": true, "MI": true, "MN": true, "MS": true, "MO": true, "MT": true, "NE": true,
	"NV": true, "NH": true, "NJ": true, "NM": true, "NY": true, "NC": true, "ND": true,
	"OH": true, "OK": true, "OR": true, "PA": true, "PR": true, "RI": true, "SC": true,
	"SD": true, "TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true,
}

var currencies = map[string]string{
	"CA": "CAD",
	"US": "USD",
}

// countryForRegion guesses the ISO country from a province or state code or
// a Canadian province name. Unknown regions yield "".
func countryForRegion(region string) string {
	key := strings.ToUpper(strings.TrimSpace(region))
	if key == "" {
		return ""
	}
	if _, ok := caProvinces[key]; ok {
		return "CA"
	}
	if usStates[key] {
		return "US"
	}
	return ""
}

// canonicalRegion maps Canadian province names to their postal codes and
// upper-cases everything else.
func canonicalRegion(region string) string {
	key := strings.ToUpper(strings.TrimSpace(region))
	if code, ok := caProvinces[key]; ok {
		return code
	}
	return key
}

func currencyFor(country string) string {
	return currencies[strings.ToUpper(country)]
}

var displayPrinter = message.NewPrinter(language.English)

// priceDisplay formats a whole-unit price with digit grouping, e.g.
// "$1,250,000".
func priceDisplay(price int64) string {
	return displayPrinter.Sprintf("$%d", price)
}
