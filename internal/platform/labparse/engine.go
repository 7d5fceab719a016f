package labparse

import (
	"fmt"
	"strings"
)

// Engine extracts reports. It holds only data fixed at construction and is
// safe for concurrent use.
type Engine struct {
	opts     Options
	lex      *lexicon
	registry *Registry
}

// New returns an engine using opts (zero fields take their defaults) and
// vocab (nil means DefaultVocabulary).
func New(opts Options, vocab *Vocabulary) *Engine {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Engine{
		opts:     opts.withDefaults(),
		lex:      newLexicon(vocab),
		registry: NewRegistry(vocab.Laboratories),
	}
}

// Options returns the thresholds in effect.
func (e *Engine) Options() Options {
	return e.opts
}

// Laboratories lists the supported laboratories in detection order.
func (e *Engine) Laboratories() []LaboratoryInfo {
	return e.registry.Directory()
}

// Detect returns the laboratory key recognised in text, or UnknownLaboratory.
func (e *Engine) Detect(text string) string {
	return e.registry.Detect(text)
}

// Extract splits text into lines and calls ExtractLines.
func (e *Engine) Extract(text, laboratory string) ReportResult {
	return e.ExtractLines(SplitLines(text), laboratory)
}

// ExtractLines decodes one report. laboratory optionally names the issuing
// laboratory; when empty or unknown the laboratory is detected from the text.
// Problems are reported in Warnings; the result is always well formed.
func (e *Engine) ExtractLines(lines []string, laboratory string) ReportResult {
	res := ReportResult{
		Laboratory: UnknownLaboratory,
		Format:     FormatGeneric,
		Records:    []AnalyteRecord{},
		Warnings:   []string{},
	}
	if isBlank(lines) {
		res.Warnings = append(res.Warnings, "document contains no text")
		return res
	}

	lab, ok := e.resolve(lines, laboratory, &res.Warnings)
	if ok {
		res.Laboratory = lab.Key
		res.LaboratoryName = lab.Name
		res.Format = lab.Format
	} else {
		res.Warnings = append(res.Warnings, "laboratory not recognised; generic layout used")
	}

	h := ExtractHeader(lines)
	res.ReportNumber = h.ReportNumber
	res.CollectionDate = h.CollectionDate
	res.ReportDate = h.ReportDate
	res.PatientName = h.PatientName
	res.PatientID = h.PatientID
	res.PatientSex = h.PatientSex
	res.ReferringPhysician = h.ReferringPhysician
	res.CollectionSite = h.CollectionSite

	scan, found := strategies[res.Format]
	if !found {
		scan = scanGeneric
	}
	s := newScanner(lines, e.lex, e.opts)
	scan(s)
	res.Records = append(res.Records, s.records...)
	res.Warnings = append(res.Warnings, s.warnings...)
	if len(res.Records) == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"no analyte records recognised in %d lines; check the laboratory selection", len(lines)))
	}
	return res
}

func (e *Engine) resolve(lines []string, key string, warnings *[]string) (Laboratory, bool) {
	if key = strings.TrimSpace(key); key != "" {
		if lab, ok := e.registry.Lookup(key); ok {
			return lab, true
		}
		*warnings = append(*warnings, fmt.Sprintf("unknown laboratory %q; detecting from text", key))
	}
	return e.registry.Lookup(e.registry.Detect(strings.Join(lines, "\n")))
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// SplitLines splits text on "\n", "\r\n" and "\r".
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}
