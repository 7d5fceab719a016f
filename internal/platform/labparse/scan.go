package labparse

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var codePattern = regexp.MustCompile(`\(([A-Z0-9]{2,10}%?)\)`)

// extractCode returns the short analyte code embedded in a name, if any.
func extractCode(name string) string {
	if m := codePattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

type term struct {
	canonical string
	folded    string
}

// lexicon is a Vocabulary prepared for matching.
type lexicon struct {
	vocab      *Vocabulary
	categories []term
	skips      []string
}

func newLexicon(v *Vocabulary) *lexicon {
	lx := &lexicon{vocab: v}
	for _, c := range v.Categories {
		if f := fold(c); f != "" {
			lx.categories = append(lx.categories, term{canonical: c, folded: f})
		}
	}
	for _, p := range v.SkipPatterns {
		if f := fold(p); f != "" {
			lx.skips = append(lx.skips, f)
		}
	}
	return lx
}

// category returns the panel heading named by a short line.
func (lx *lexicon) category(line string, maxLen int) (string, bool) {
	if line == "" || runeLen(line) >= maxLen {
		return "", false
	}
	f := fold(line)
	for _, t := range lx.categories {
		if indexToken(f, t.folded) >= 0 {
			return t.canonical, true
		}
	}
	return "", false
}

// skip reports whether a short line looks like page furniture.
func (lx *lexicon) skip(line string, maxLen int) bool {
	if runeLen(line) >= maxLen {
		return false
	}
	f := fold(line)
	for _, p := range lx.skips {
		if strings.Contains(f, p) {
			return true
		}
	}
	return false
}

// stripMarker removes an abnormality marker prefix such as "23 ".
func (lx *lexicon) stripMarker(line string) (string, bool) {
	for _, m := range lx.vocab.AbnormalMarkers {
		rest, ok := strings.CutPrefix(line, m)
		if ok && rest != "" && unicode.IsSpace(rune(rest[0])) {
			return strings.TrimSpace(rest), true
		}
	}
	return line, false
}

// candidate is a record before validation.
type candidate struct {
	name     string
	code     string
	raw      string
	value    *float64
	unit     string
	interval Interval
	// marked is set when the laboratory flagged the row itself.
	marked bool
}

// scanner is the state one strategy run threads through the lines.
type scanner struct {
	lines    []string
	lex      *lexicon
	opts     Options
	category string
	records  []AnalyteRecord
	warnings []string
}

func newScanner(lines []string, lex *lexicon, opts Options) *scanner {
	return &scanner{lines: lines, lex: lex, opts: opts, category: DefaultCategory}
}

// fork returns a fresh scanner over the same input.
func (s *scanner) fork() *scanner {
	return newScanner(s.lines, s.lex, s.opts)
}

func (s *scanner) line(i int) string {
	return strings.TrimSpace(s.lines[i])
}

func (s *scanner) observeCategory(line string) {
	if c, ok := s.lex.category(line, s.opts.CategoryMaxLineLength); ok {
		s.category = c
	}
}

func (s *scanner) warnf(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// ahead looks at up to window lines after index i and returns the first one
// match accepts, with its offset from i. A line accepted by stop ends the
// search. Offset 0 means nothing was found.
func (s *scanner) ahead(i, window int, stop, match func(string) bool) (string, int) {
	for k := 1; k <= window && i+k < len(s.lines); k++ {
		l := s.line(i + k)
		if stop != nil && stop(l) {
			break
		}
		if match(l) {
			return l, k
		}
	}
	return "", 0
}

func (s *scanner) validName(name string) bool {
	if runeLen(name) < s.opts.MinNameLength {
		return false
	}
	return strings.IndexFunc(name, unicode.IsLetter) >= 0
}

// emit validates c and appends it as a record. lineNo is 1-based and only
// used in warnings.
func (s *scanner) emit(lineNo int, c candidate) bool {
	name := collapseSpace(c.name)
	raw := strings.TrimSpace(c.raw)
	if !s.validName(name) || raw == "" {
		return false
	}
	code := c.code
	if code == "" {
		code = extractCode(name)
	}
	iv := c.interval
	if iv.Text != "" && !iv.Bounded() {
		s.warnf("line %d: reference interval %q not understood", lineNo, iv.Text)
	}

	abnormal, dir := ClassifyAbnormal(c.value, iv.Min, iv.Max)
	if c.marked && c.value != nil && !abnormal {
		if d, ok := markedDirection(c.value, iv.Min, iv.Max); ok {
			abnormal, dir = true, d
		} else {
			s.warnf("line %d: %s is flagged abnormal by the laboratory but has no reference interval, flag dropped", lineNo, name)
		}
	}

	s.records = append(s.records, AnalyteRecord{
		Category:          s.category,
		Name:              name,
		Code:              code,
		RawResult:         raw,
		NumericResult:     c.value,
		Unit:              c.unit,
		ReferenceMin:      iv.Min,
		ReferenceMax:      iv.Max,
		ReferenceText:     iv.Text,
		IsAbnormal:        abnormal,
		AbnormalDirection: dir,
	})
	return true
}

var leadingValue = regexp.MustCompile(`^((?:[<>]=?\s*)?` + numberExpr + `)\s*(.*)$`)

// splitValueUnit reads "value unit" text. Text that does not start with a
// number is a qualitative result and is returned whole.
func (s *scanner) splitValueUnit(text string) (string, *float64, string) {
	text = strings.TrimSpace(text)
	m := leadingValue.FindStringSubmatch(text)
	if m == nil {
		return text, nil, ""
	}
	raw, value := ParseNumeric(m[1])
	return raw, value, s.lex.vocab.ResolveUnit(m[2])
}
