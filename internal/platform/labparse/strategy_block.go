package labparse

import (
	"regexp"
	"strings"
)

var (
	// blockName is a "Name (CODE)" line standing alone.
	blockName  = regexp.MustCompile(`^\pL[^()=\[\]]*\(([A-Za-z0-9%\-]{2,12})\)$`)
	bareValue  = regexp.MustCompile(`^` + valueExpr + `$`)
	codedName  = regexp.MustCompile(`^\(([A-Z0-9]{2,10}%?)\)\s+(.+)$`)
	codedValue = regexp.MustCompile(`^(` + valueExpr + `)(?:\s+(.+))?$`)
	equalsLine = regexp.MustCompile(`^=\s*(.+)$`)
)

func isBlockName(line string) bool {
	return blockName.MatchString(line)
}

// verticalBlock is what the vertical window collected for one name line.
type verticalBlock struct {
	interval Interval
	unit     string
	raw      string
	value    *float64
}

// collectVertical gathers interval, unit and value from the lines following
// a name line, in any order. It stops at the value or at the next name line
// and returns the number of lines consumed; 0 means no value was found.
func (s *scanner) collectVertical(i int) (verticalBlock, int) {
	var b verticalBlock
	haveInterval := false
	for k := 1; k <= s.opts.VerticalWindow && i+k < len(s.lines); k++ {
		l := s.line(i + k)
		switch {
		case l == "":
			continue
		case isBlockName(l):
			return b, 0
		case !haveInterval && strings.HasPrefix(l, "["):
			text, tail := l, ""
			if end := strings.IndexByte(l, ']'); end >= 0 {
				text, tail = l[:end+1], l[end+1:]
			}
			b.interval = ParseInterval(text)
			haveInterval = true
			if b.unit == "" {
				b.unit = s.lex.vocab.ResolveUnit(tail)
			}
		case b.unit == "" && !bareValue.MatchString(l) && s.lex.vocab.ResolveUnit(l) != "":
			b.unit = s.lex.vocab.ResolveUnit(l)
		case bareValue.MatchString(l):
			b.raw, b.value = ParseNumeric(l)
			return b, k
		}
	}
	return b, 0
}

func scanVerticalBlock(s *scanner) {
	for i := 0; i < len(s.lines); i++ {
		line := s.line(i)
		s.observeCategory(line)
		if !isBlockName(line) {
			continue
		}
		b, consumed := s.collectVertical(i)
		if consumed == 0 {
			continue
		}
		s.emit(i+1, candidate{
			name:     line,
			raw:      b.raw,
			value:    b.value,
			unit:     b.unit,
			interval: b.interval,
		})
		i += consumed
	}
}

func scanCodedBlock(s *scanner) {
	for i := 0; i < len(s.lines); i++ {
		line := s.line(i)
		s.observeCategory(line)
		m := codedName.FindStringSubmatch(line)
		if m == nil || i+1 >= len(s.lines) {
			continue
		}
		v := codedValue.FindStringSubmatch(s.line(i + 1))
		if v == nil {
			continue
		}
		c := candidate{
			name: strings.TrimSpace(m[2]) + " (" + m[1] + ")",
			code: m[1],
			unit: s.lex.vocab.ResolveUnit(v[2]),
		}
		c.raw, c.value = ParseNumeric(v[1])
		consumed := 1
		if i+2 < len(s.lines) {
			next := s.line(i + 2)
			if iv, start, end := locateInterval(next, false); end > start && start == 0 {
				c.interval = iv
				consumed = 2
			}
		}
		s.emit(i+1, c)
		i += consumed
	}
}

// isEqualsName is a name line of the equals block: it carries parentheses
// but no value or interval.
func isEqualsName(line string) bool {
	return startsWithLetter(line) &&
		strings.Contains(line, "(") && strings.Contains(line, ")") &&
		!strings.ContainsAny(line, "=[")
}

func scanEqualsBlock(s *scanner) {
	for i := 0; i < len(s.lines); i++ {
		line := s.line(i)
		s.observeCategory(line)
		if !isEqualsName(line) {
			continue
		}
		valueLine, vOff := s.ahead(i, s.opts.ValueWindow, isEqualsName, equalsLine.MatchString)
		if vOff == 0 {
			continue
		}
		c := candidate{name: line}
		c.raw, c.value, c.unit = s.splitValueUnit(equalsLine.FindStringSubmatch(valueLine)[1])
		consumed := vOff

		stop := func(l string) bool { return isEqualsName(l) || strings.HasPrefix(l, "=") }
		hasBracket := func(l string) bool { return bracketRange.MatchString(l) }
		if ivLine, iOff := s.ahead(i+vOff, s.opts.IntervalWindow, stop, hasBracket); iOff > 0 {
			loc := bracketRange.FindStringIndex(ivLine)
			c.interval = ParseInterval(ivLine[loc[0]:loc[1]])
			tail := strings.TrimPrefix(strings.TrimSpace(ivLine[loc[1]:]), "/")
			if u := s.lex.vocab.ResolveUnit(tail); u != "" {
				c.unit = u
			}
			consumed = vOff + iOff
		}
		s.emit(i+1, c)
		i += consumed
	}
}
