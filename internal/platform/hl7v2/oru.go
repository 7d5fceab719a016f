package hl7v2

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labextract/labextract/internal/platform/labparse"
)

// ORUOptions fills the MSH header of generated result messages. A zero
// Timestamp means now; an empty ControlID is derived from the timestamp.
type ORUOptions struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
	Timestamp         time.Time
	ControlID         string
}

var reportDate = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})`)

// GenerateORU renders an extraction result as an ORU^R01 v2.5.1 message:
// MSH, PID, OBR, one NTE per warning and one OBX per analyte record.
func GenerateORU(result labparse.ReportResult, opts ORUOptions) []byte {
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	controlID := opts.ControlID
	if controlID == "" {
		controlID = "LAB" + ts.Format("20060102150405.000")
	}

	segments := []string{
		fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||ORU^R01^ORU_R01|%s|P|2.5.1",
			escapeHL7(opts.SendingApp), escapeHL7(opts.SendingFacility),
			escapeHL7(opts.ReceivingApp), escapeHL7(opts.ReceivingFacility),
			ts.Format("20060102150405"), escapeHL7(controlID)),
		buildPID(result),
		buildOBR(result),
	}
	for i, w := range result.Warnings {
		segments = append(segments, fmt.Sprintf("NTE|%d|L|%s", i+1, escapeHL7(w)))
	}
	for i, rec := range result.Records {
		segments = append(segments, buildOBX(i+1, rec))
	}
	return []byte(strings.Join(segments, "\r"))
}

// buildPID writes PID-3 (CNP), PID-5 (family^given) and PID-8 (sex).
func buildPID(result labparse.ReportResult) string {
	id := ""
	if result.PatientID != "" {
		id = escapeHL7(result.PatientID) + "^^^^NN"
	}
	name := ""
	if fields := strings.Fields(result.PatientName); len(fields) > 0 {
		name = escapeHL7(fields[0]) + "^" + escapeHL7(strings.Join(fields[1:], " "))
	}
	sex := result.PatientSex
	if sex == "" {
		sex = "U"
	}
	return fmt.Sprintf("PID|1||%s||%s|||%s", id, name, sex)
}

// buildOBR writes the filler order number (report number), the universal
// service id, the observation date (OBR-7), the ordering provider (OBR-16)
// and the result status (OBR-25).
func buildOBR(result labparse.ReportResult) string {
	service := "LAB^" + escapeHL7(orDefault(result.LaboratoryName, "Laboratory report")) + "^L"
	return fmt.Sprintf("OBR|1||%s|%s|||%s|||||||||%s|||||||||F",
		escapeHL7(result.ReportNumber), service, hl7Date(result.CollectionDate),
		escapeHL7(result.ReferringPhysician))
}

func buildOBX(setID int, rec labparse.AnalyteRecord) string {
	valueType, value := "ST", escapeHL7(rec.RawResult)
	if rec.NumericResult != nil {
		valueType, value = "NM", formatFloat(*rec.NumericResult)
		if c := censorComparator(rec.RawResult); c != "" {
			valueType, value = "SN", c+"^"+value
		}
	}
	identifier := escapeHL7(rec.Code) + "^" + escapeHL7(rec.Name) + "^L"

	return fmt.Sprintf("OBX|%d|%s|%s||%s|%s|%s|%s|||F",
		setID, valueType, identifier, value, escapeHL7(rec.Unit),
		referenceRange(rec), abnormalFlag(rec))
}

// censorComparator returns the SN comparator of a censored result ("<0.5",
// ">= 90", "≤1"), or "" for a plain value.
func censorComparator(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, c := range []struct{ prefix, comparator string }{
		{"<=", "<="}, {">=", ">="}, {"≤", "<="}, {"≥", ">="}, {"<", "<"}, {">", ">"},
	} {
		if strings.HasPrefix(raw, c.prefix) {
			return c.comparator
		}
	}
	return ""
}

func referenceRange(rec labparse.AnalyteRecord) string {
	switch {
	case rec.ReferenceMin != nil && rec.ReferenceMax != nil:
		return formatFloat(*rec.ReferenceMin) + "-" + formatFloat(*rec.ReferenceMax)
	case rec.ReferenceMax != nil:
		return "<" + formatFloat(*rec.ReferenceMax)
	case rec.ReferenceMin != nil:
		return ">" + formatFloat(*rec.ReferenceMin)
	}
	return ""
}

func abnormalFlag(rec labparse.AnalyteRecord) string {
	switch rec.AbnormalDirection {
	case labparse.DirectionHigh:
		return "H"
	case labparse.DirectionLow:
		return "L"
	}
	return "N"
}

// hl7Date converts dd.mm.yyyy (also / or - separated) to YYYYMMDD.
func hl7Date(s string) string {
	m := reportDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s%02d%02d", m[3], month, day)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// escapeHL7 escapes the HL7 delimiters:
//
//	\F\ = |  \S\ = ^  \R\ = ~  \E\ = \  \T\ = &
func escapeHL7(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
