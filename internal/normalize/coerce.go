package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	numberRe    = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	magnitudeRe = regexp.MustCompile(`(?i)^\s*\$?\s*(\d+(?:\.\d+)?)\s*(millions|million|mil|mm|m|thousand|k)\b`)

	// A small decimal followed by a word carries a scale we do not know.
	unknownScaleRe = regexp.MustCompile(`(?i)^\s*\$?\s*\d{1,3}\.\d+\s*[a-z]`)
)

// amount coerces a JSON price to a positive integer. Numbers are rounded;
// strings like "$1,250,000" or "1.2M" are parsed. Anything non-positive,
// non-numeric or non-finite yields nil.
func amount(r gjson.Result) *int64 {
	switch r.Type {
	case gjson.Number:
		return finitePositive(r.Float())
	case gjson.String:
		return parseAmount(r.Str)
	}
	return nil
}

// measure coerces an area such as 1800 or "1,800 sqft". A range like
// "1,800-2,000" keeps its lower bound.
func measure(r gjson.Result) *int64 {
	switch r.Type {
	case gjson.Number:
		return finitePositive(r.Float())
	case gjson.String:
		return parsePlain(r.Str)
	}
	return nil
}

// parseAmount extracts the first number in s. A "k", "thousand", "m", "mm",
// "mil" or "million" suffix scales it; "2.5 bn" and similar yield nil.
func parseAmount(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if m := magnitudeRe.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		switch strings.ToLower(m[2]) {
		case "k", "thousand":
			v *= 1_000
		default:
			v *= 1_000_000
		}
		return finitePositive(v)
	}
	if unknownScaleRe.MatchString(s) {
		return nil
	}
	return parsePlain(s)
}

func parsePlain(s string) *int64 {
	if strings.HasPrefix(strings.TrimSpace(s), "-") {
		return nil
	}
	match := numberRe.FindString(s)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return nil
	}
	return finitePositive(v)
}

// roomCount coerces bed/bath counts. "3+1" (above plus below grade) sums to
// 4; fractional counts keep the whole part.
func roomCount(r gjson.Result) *int {
	var v *int64
	if r.Type == gjson.String && strings.Contains(r.Str, "+") {
		var total int64
		for _, part := range strings.Split(r.Str, "+") {
			if n := parseWhole(part); n != nil {
				total += *n
			}
		}
		if total > 0 {
			v = &total
		}
	} else if r.Type == gjson.Number {
		v = finitePositive(math.Floor(r.Float()))
	} else if r.Type == gjson.String {
		v = parseWhole(r.Str)
	}
	return toInt(v)
}

func parseWhole(s string) *int64 {
	match := numberRe.FindString(s)
	if match == "" || strings.HasPrefix(strings.TrimSpace(s), "-") {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return nil
	}
	return finitePositive(math.Floor(v))
}

func finitePositive(v float64) *int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > math.MaxInt64/2 {
		return nil
	}
	n := int64(math.Round(v))
	if n <= 0 {
		return nil
	}
	return &n
}

func toInt(v *int64) *int {
	if v == nil || *v > math.MaxInt32 {
		return nil
	}
	n := int(*v)
	return &n
}

// coordinate parses a latitude or longitude. Non-finite values yield ok=false.
func coordinate(r gjson.Result) (float64, bool) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// text returns a trimmed string form of a scalar JSON value.
func text(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return strings.TrimSpace(r.String())
	}
	return ""
}
