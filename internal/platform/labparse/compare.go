package labparse

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Trend summarises how an analyte moved between two reports.
type Trend string

const (
	TrendStable       Trend = "stable"
	TrendImproved     Trend = "improved"
	TrendWorsened     Trend = "worsened"
	TrendIncreased    Trend = "increased"
	TrendDecreased    Trend = "decreased"
	TrendUndetermined Trend = "undetermined"
)

// stableTolerance is the relative change, in percent, still reported stable.
const stableTolerance = 2.0

// Comparison pairs one analyte of an earlier report with the same analyte of
// a later one. Either side is nil when the analyte appears in one report only.
type Comparison struct {
	Category      string         `json:"category"`
	Name          string         `json:"name"`
	Unit          string         `json:"unit,omitempty"`
	ReferenceText string         `json:"reference_text,omitempty"`
	Previous      *AnalyteRecord `json:"previous,omitempty"`
	Current       *AnalyteRecord `json:"current,omitempty"`
	Difference    *float64       `json:"difference,omitempty"`
	// ChangePercent is rounded to one decimal; nil when the previous value is 0.
	ChangePercent *float64 `json:"change_percent,omitempty"`
	Trend         Trend    `json:"trend"`
}

var parenthesised = regexp.MustCompile(`\s*\([^)]+\)\s*`)

// Compare matches the records of two reports and classifies each change.
// Names are matched with codes and case ignored, then by keyword (the code
// or the first word longer than three characters). The result is sorted by
// category, uncategorised last, then by name.
func Compare(previous, current []AnalyteRecord) []Comparison {
	out := make([]Comparison, 0, len(previous)+len(current))
	used := make([]bool, len(current))
	for _, prev := range previous {
		j := matchRecord(prev.Name, current, used)
		var cur *AnalyteRecord
		if j >= 0 {
			used[j] = true
			rec := current[j]
			cur = &rec
		}
		out = append(out, compareOne(&prev, cur))
	}
	for j, rec := range current {
		if !used[j] {
			out = append(out, compareOne(nil, &rec))
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ca, cb := out[a].Category, out[b].Category
		if ca != cb {
			if ca == "" || cb == "" {
				return cb == ""
			}
			return ca < cb
		}
		return out[a].Name < out[b].Name
	})
	return out
}

func normalizeName(name string) string {
	return collapseSpace(strings.ToLower(parenthesised.ReplaceAllString(name, " ")))
}

func keywords(name string) []string {
	var kw []string
	if code := extractCode(name); code != "" {
		kw = append(kw, strings.ToLower(code))
	}
	for _, w := range strings.Fields(name) {
		if runeLen(w) > 3 && !strings.HasPrefix(w, "(") {
			kw = append(kw, strings.ToLower(w))
			break
		}
	}
	return kw
}

func matchRecord(name string, candidates []AnalyteRecord, used []bool) int {
	want := normalizeName(name)
	for j := range candidates {
		if !used[j] && normalizeName(candidates[j].Name) == want {
			return j
		}
	}
	kw := keywords(name)
	for j := range candidates {
		if used[j] {
			continue
		}
		lower := strings.ToLower(candidates[j].Name)
		for _, k := range kw {
			if strings.Contains(lower, k) {
				return j
			}
		}
	}
	return -1
}

func compareOne(prev, cur *AnalyteRecord) Comparison {
	ref := cur
	if ref == nil {
		ref = prev
	}
	c := Comparison{
		Category:      ref.Category,
		Name:          ref.Name,
		Unit:          ref.Unit,
		ReferenceText: ref.ReferenceText,
		Previous:      prev,
		Current:       cur,
		Trend:         TrendUndetermined,
	}
	if prev == nil || cur == nil {
		return c
	}

	if prev.NumericResult == nil || cur.NumericResult == nil {
		c.Trend = qualitativeTrend(prev, cur)
		return c
	}

	p, q := *prev.NumericResult, *cur.NumericResult
	diff := q - p
	c.Difference = &diff
	stable := diff == 0
	if p != 0 {
		change := math.Round(diff/p*1000) / 10
		c.ChangePercent = &change
		stable = math.Abs(change) <= stableTolerance
	}
	switch {
	case stable:
		c.Trend = TrendStable
	case prev.IsAbnormal && !cur.IsAbnormal:
		c.Trend = TrendImproved
	case !prev.IsAbnormal && cur.IsAbnormal:
		c.Trend = TrendWorsened
	case q > p:
		c.Trend = TrendIncreased
	default:
		c.Trend = TrendDecreased
	}
	return c
}

func qualitativeTrend(prev, cur *AnalyteRecord) Trend {
	a, b := strings.ToLower(prev.RawResult), strings.ToLower(cur.RawResult)
	switch {
	case a == "" || b == "":
		return TrendUndetermined
	case a == b:
		return TrendStable
	case prev.IsAbnormal && !cur.IsAbnormal:
		return TrendImproved
	case !prev.IsAbnormal && cur.IsAbnormal:
		return TrendWorsened
	case strings.Contains(a, "pozitiv") && strings.Contains(b, "negativ"),
		strings.Contains(a, "frecvent") && strings.Contains(b, "rar"):
		return TrendImproved
	case strings.Contains(a, "negativ") && strings.Contains(b, "pozitiv"),
		strings.Contains(a, "rar") && strings.Contains(b, "frecvent"):
		return TrendWorsened
	}
	return TrendUndetermined
}
