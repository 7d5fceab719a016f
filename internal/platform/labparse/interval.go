package labparse

import (
	"regexp"
	"strings"
)

// Interval is a reference range. Either bound may be absent ("< 5" has no
// lower bound). Text keeps the range as printed.
type Interval struct {
	Min  *float64
	Max  *float64
	Text string
}

// Bounded reports whether at least one bound was recognised.
func (iv Interval) Bounded() bool {
	return iv.Min != nil || iv.Max != nil
}

// numberExpr is a number as printed, with an optional minus sign glued to it.
const numberExpr = `-?\d+(?:[.,]\d+)*`

var (
	bracketRange = regexp.MustCompile(`\[\s*([<>]?\s*` + numberExpr + `)\s*[-–]\s*([<>]?\s*` + numberExpr + `)\s*\]`)
	parenRange   = regexp.MustCompile(`\(\s*(` + numberExpr + `)\s*[-–]\s*(` + numberExpr + `)\s*\)`)
	bareRange    = regexp.MustCompile(`(` + numberExpr + `)\s*[-–]\s*(` + numberExpr + `)`)
	upperOnly    = regexp.MustCompile(`(?:<=?|≤)\s*(` + numberExpr + `)`)
	lowerOnly    = regexp.MustCompile(`(?:>=?|≥)\s*(` + numberExpr + `)`)
)

// ParseInterval recognises, first match wins: "[a - b]", "(a - b)", bare
// "a - b", "< a" (upper bound only) and "> a" (lower bound only). Dots in a
// parenthesized range are thousands grouping only when a bound carries more
// than one of them ("(4.300.000 - 5.750.000)"); "(1.015 - 1.025)" stays
// decimal. Unrecognised text comes back with both bounds nil.
func ParseInterval(text string) Interval {
	iv, _, _ := locateInterval(text, false)
	iv.Text = strings.TrimSpace(text)
	return iv
}

// ParseGroupedInterval is ParseInterval for layouts that always print '.' as
// a thousands separator: parenthesized bounds are read with
// ParseGroupedNumeric ("(4.000 - 10.000)" is 4000 to 10000).
func ParseGroupedInterval(text string) Interval {
	iv, _, _ := locateInterval(text, true)
	iv.Text = strings.TrimSpace(text)
	return iv
}

// locateInterval finds the first interval form in text and returns it with
// the byte span it occupies. The span is empty when nothing matched.
func locateInterval(text string, grouped bool) (Interval, int, int) {
	if m := bracketRange.FindStringSubmatchIndex(text); m != nil {
		_, lo := ParseNumeric(text[m[2]:m[3]])
		_, hi := ParseNumeric(text[m[4]:m[5]])
		return Interval{Min: lo, Max: hi, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	if m := parenRange.FindStringSubmatchIndex(text); m != nil {
		loText, hiText := text[m[2]:m[3]], text[m[4]:m[5]]
		parse := ParseNumeric
		if grouped || strings.Count(loText, ".") > 1 || strings.Count(hiText, ".") > 1 {
			parse = ParseGroupedNumeric
		}
		_, lo := parse(loText)
		_, hi := parse(hiText)
		return Interval{Min: lo, Max: hi, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	if iv, start, end := locateBareRange(text); end > start {
		return iv, start, end
	}
	if m := upperOnly.FindStringSubmatchIndex(text); m != nil {
		_, hi := ParseNumeric(text[m[2]:m[3]])
		return Interval{Max: hi, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	if m := lowerOnly.FindStringSubmatchIndex(text); m != nil {
		_, lo := ParseNumeric(text[m[2]:m[3]])
		return Interval{Min: lo, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	return Interval{}, 0, 0
}

// locateBareRange finds the first "a - b" span whose numbers are not glued to
// letters or other digits.
func locateBareRange(text string) (Interval, int, int) {
	for _, m := range bareRange.FindAllStringSubmatchIndex(text, -1) {
		if !freeStanding(text, m[0], m[1]) {
			continue
		}
		_, lo := ParseNumeric(text[m[2]:m[3]])
		_, hi := ParseNumeric(text[m[4]:m[5]])
		return Interval{Min: lo, Max: hi, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	return Interval{}, 0, 0
}

// locateUpperBound finds a "< a" span.
func locateUpperBound(text string) (Interval, int, int) {
	if m := upperOnly.FindStringSubmatchIndex(text); m != nil {
		_, hi := ParseNumeric(text[m[2]:m[3]])
		return Interval{Max: hi, Text: text[m[0]:m[1]]}, m[0], m[1]
	}
	return Interval{}, 0, 0
}
