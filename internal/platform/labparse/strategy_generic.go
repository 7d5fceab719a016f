package labparse

import (
	"regexp"
	"strings"
)

var leadingOrdinal = regexp.MustCompile(`^\d+\.\s*`)

// cleanName drops a leading "12." ordinal and trailing asterisks.
func cleanName(name string) string {
	name = collapseSpace(name)
	name = leadingOrdinal.ReplaceAllString(name, "")
	return strings.TrimSpace(strings.TrimRight(name, "*"))
}

// scanGeneric is the fallback for unrecognised laboratories. A vertical block
// scan runs first; if it finds nothing, each line is tried as a table row, an
// inline "=" row and a unit-anchored row, skipping page furniture and
// repeated name/result pairs.
func scanGeneric(s *scanner) {
	block := s.fork()
	scanVerticalBlock(block)
	if len(block.records) > 0 {
		s.records = append(s.records, block.records...)
		s.warnings = append(s.warnings, block.warnings...)
		return
	}

	seen := make(map[string]bool)
	for i := range s.lines {
		line := s.line(i)
		s.observeCategory(line)
		if line == "" || s.lex.skip(line, s.opts.HeaderFooterMaxLength) {
			continue
		}
		body := leadingOrdinal.ReplaceAllString(line, "")
		c, ok := s.decodeRow(tabularRow, body)
		if !ok && strings.Contains(body, "=") {
			c, ok = s.decodeInlineEquals(body)
		}
		if !ok {
			c, ok = s.decodeUnitAnchored(body, false)
		}
		if !ok {
			continue
		}
		c.name = cleanName(c.name)
		key := c.name + "_" + strings.TrimSpace(c.raw)
		if seen[key] {
			continue
		}
		if s.emit(i+1, c) {
			seen[key] = true
		}
	}
}
