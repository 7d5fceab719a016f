package labparse

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ResolveUnit returns the first built-in unit spelling found in text, or "".
func ResolveUnit(text string) string {
	return builtin.ResolveUnit(text)
}

// ResolveUnit returns the first unit of the vocabulary, in vocabulary order,
// that occurs in text without being glued to neighbouring letters.
func (v *Vocabulary) ResolveUnit(text string) string {
	unit, _ := v.locateUnit(text)
	return unit
}

// locateUnit is ResolveUnit plus the byte offset of the hit, -1 when absent.
func (v *Vocabulary) locateUnit(text string) (string, int) {
	for _, u := range v.Units {
		if at := indexToken(text, u); at >= 0 {
			return u, at
		}
	}
	return "", -1
}

// indexToken finds token in text where the token's alphanumeric edges do not
// run into letters ("g/dL" is not inside "mg/dL", "s" is not inside "sec").
func indexToken(text, token string) int {
	if token == "" {
		return -1
	}
	first, _ := utf8.DecodeRuneInString(token)
	last, _ := utf8.DecodeLastRuneInString(token)
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], token)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(token)
		if edgeClear(first, prevRune(text, start)) && edgeClear(last, nextRune(text, end)) {
			return start
		}
		_, w := utf8.DecodeRuneInString(text[start:])
		from = start + w
	}
	return -1
}

func edgeClear(edge, neighbour rune) bool {
	if !unicode.IsLetter(edge) && !unicode.IsDigit(edge) {
		return true
	}
	return !unicode.IsLetter(neighbour)
}

// freeStanding reports whether text[start:end] is not glued to letters or
// digits on either side.
func freeStanding(text string, start, end int) bool {
	p, n := prevRune(text, start), nextRune(text, end)
	if unicode.IsLetter(p) || unicode.IsDigit(p) || p == '.' || p == ',' {
		return false
	}
	return !unicode.IsLetter(n) && !unicode.IsDigit(n)
}

func prevRune(text string, at int) rune {
	if at <= 0 {
		return ' '
	}
	r, _ := utf8.DecodeLastRuneInString(text[:at])
	return r
}

func nextRune(text string, at int) rune {
	if at >= len(text) {
		return ' '
	}
	r, _ := utf8.DecodeRuneInString(text[at:])
	return r
}
