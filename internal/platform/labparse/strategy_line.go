package labparse

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	valueExpr = `(?:[<>]=?\s*)?` + numberExpr
	rangeExpr = numberExpr + `\s*[-–]\s*` + numberExpr
	// unitExpr is a unit column: a token that does not start with a digit.
	unitExpr = `[^\s\d]\S*`
)

var (
	tabularRow  = regexp.MustCompile(`^(.+?)\s+(` + valueExpr + `)\s+(` + unitExpr + `)\s+(` + rangeExpr + `)`)
	numberedRow = regexp.MustCompile(`^\d+\.?\s+(.+?)\s+(` + valueExpr + `)\s+(` + unitExpr + `)\s+(` + rangeExpr + `)`)
	groupedRow  = regexp.MustCompile(`^(.+?)\s+(` + valueExpr + `)\s*(/?[^\s(\d][^\s(]*)?\s*(\([^)]*\))?`)
	valueToken  = regexp.MustCompile(`(?:[<>]=?\s*)?(` + numberExpr + `)`)
)

// markedCaptions are column headings of the marked layout's result table.
var markedCaptions = []string{"denumire", "rezultat", "interval", "pagina"}

func scanInlineEquals(s *scanner) {
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		if !strings.Contains(line, "=") {
			continue
		}
		if c, ok := s.decodeInlineEquals(line); ok {
			s.emit(i+1, c)
		}
	}
}

// decodeInlineEquals reads "Name (CODE) = value unit [min - max]".
func (s *scanner) decodeInlineEquals(line string) (candidate, bool) {
	name, rest, ok := strings.Cut(line, "=")
	if !ok {
		return candidate{}, false
	}
	c := candidate{name: strings.TrimSpace(name)}
	if open := strings.IndexByte(rest, '['); open >= 0 {
		text := rest[open:]
		if end := strings.IndexByte(text, ']'); end >= 0 {
			text = text[:end+1]
		}
		c.interval = ParseInterval(text)
		rest = rest[:open]
	}
	c.raw, c.value, c.unit = s.splitValueUnit(rest)
	return c, c.raw != ""
}

func scanNumberedTabular(s *scanner) {
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		if c, ok := s.decodeRow(numberedRow, line); ok {
			s.emit(i+1, c)
		}
	}
}

// decodeRow reads "Name value unit min - max" with one of the row patterns.
func (s *scanner) decodeRow(re *regexp.Regexp, line string) (candidate, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return candidate{}, false
	}
	c := candidate{
		name:     m[1],
		unit:     s.lex.vocab.ResolveUnit(m[3]),
		interval: ParseInterval(m[4]),
	}
	c.raw, c.value = ParseNumeric(m[2])
	return c, true
}

func scanUnitAnchored(s *scanner) {
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		if c, ok := s.decodeUnitAnchored(line, false); ok {
			s.emit(i+1, c)
		}
	}
}

func scanUnitAnchoredMarked(s *scanner) {
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		if runeLen(line) < s.opts.MinMarkedLineLength || isCaption(line) {
			continue
		}
		rest, marked := s.lex.stripMarker(line)
		c, ok := s.decodeUnitAnchored(rest, true)
		if !ok {
			continue
		}
		c.marked = marked
		s.emit(i+1, c)
	}
}

func isCaption(line string) bool {
	f := fold(line)
	for _, c := range markedCaptions {
		if strings.Contains(f, c) {
			return true
		}
	}
	return false
}

// decodeUnitAnchored takes the first free-standing number as the value, the
// text before it as the name and requires a vocabulary unit after it. The
// interval is the first range after the value; with upperFirst a "< a"
// bound wins over "a - b".
func (s *scanner) decodeUnitAnchored(line string, upperFirst bool) (candidate, bool) {
	for _, m := range valueToken.FindAllStringSubmatchIndex(line, -1) {
		if !freeStanding(line, m[2], m[3]) {
			continue
		}
		name := strings.TrimSpace(line[:m[0]])
		if !startsWithLetter(name) {
			return candidate{}, false
		}
		rest := line[m[1]:]
		unit := s.lex.vocab.ResolveUnit(rest)
		if unit == "" {
			return candidate{}, false
		}
		c := candidate{name: name, unit: unit}
		c.raw, c.value = ParseNumeric(line[m[0]:m[1]])
		if upperFirst {
			if iv, start, end := locateUpperBound(rest); end > start {
				c.interval = iv
				return c, true
			}
		}
		if iv, start, end := locateBareRange(rest); end > start {
			c.interval = iv
		}
		return c, true
	}
	return candidate{}, false
}

func startsWithLetter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}

func scanGroupedValue(s *scanner) {
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		m := groupedRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		unit := strings.TrimPrefix(s.lex.vocab.ResolveUnit(m[3]), "/")
		if unit == "" && m[4] == "" {
			continue
		}
		c := candidate{name: m[1], unit: unit}
		c.raw, c.value = ParseGroupedNumeric(m[2])
		if m[4] != "" {
			c.interval = ParseGroupedInterval(m[4])
		}
		s.emit(i+1, c)
	}
}
