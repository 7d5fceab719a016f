package labparse

import (
	"regexp"
	"strconv"
	"strings"
)

// numberShape accepts an optional minus sign and digit groups joined by
// single '.' or ',' separators.
var numberShape = regexp.MustCompile(`^-?(?:\d+(?:[.,]\d+)*|\d*[.,]\d+)$`)

// censorMarkers may prefix a result ("<0.5", ">= 90").
const censorMarkers = "<>=≤≥ \t"

// ParseNumeric parses a result or bound as written on a report. The returned
// text is the trimmed input, unchanged, so the original notation survives for
// display. The value is nil when the text is not a number.
//
// A single ',' is a decimal comma. Repeated occurrences of one separator are
// thousands grouping ("5.490.000" is 5490000). When both separators appear,
// the last one is the decimal point ("1.234,5" is 1234.5).
func ParseNumeric(text string) (string, *float64) {
	raw := strings.TrimSpace(text)
	s := strings.TrimSpace(strings.TrimLeft(raw, censorMarkers))
	if !numberShape.MatchString(s) {
		return raw, nil
	}
	v, err := strconv.ParseFloat(normalizeSeparators(s), 64)
	if err != nil {
		return raw, nil
	}
	return raw, &v
}

// ParseGroupedNumeric parses values from layouts that print '.' as a
// thousands separator and ',' as the decimal comma ("5.490.000", "7.200",
// "14,2"). Dots count as grouping only when every group after the first has
// three digits and the first group has no leading zero; otherwise the value
// is read like ParseNumeric would ("88.5").
func ParseGroupedNumeric(text string) (string, *float64) {
	raw := strings.TrimSpace(text)
	s := strings.TrimSpace(strings.TrimLeft(raw, censorMarkers))
	if !numberShape.MatchString(s) {
		return raw, nil
	}
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasComma := strings.Cut(s, ",")
	if dotGrouped(whole) && !strings.Contains(frac, ",") {
		s = strings.ReplaceAll(whole, ".", "")
		if hasComma {
			s += "." + frac
		}
	} else {
		s = normalizeSeparators(s)
	}
	v, err := strconv.ParseFloat(sign+s, 64)
	if err != nil {
		return raw, nil
	}
	return raw, &v
}

func dotGrouped(s string) bool {
	groups := strings.Split(s, ".")
	if len(groups) < 2 {
		return false
	}
	lead := groups[0]
	if lead == "" || len(lead) > 3 || lead[0] == '0' {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func normalizeSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		last := strings.LastIndexAny(s, ".,")
		whole := strings.NewReplacer(".", "", ",", "").Replace(s[:last])
		return whole + "." + s[last+1:]
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		return strings.Replace(s, ",", ".", 1)
	}
	return s
}

func ptr(v float64) *float64 {
	return &v
}
