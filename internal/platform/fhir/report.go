package fhir

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/labextract/labextract/internal/platform/labparse"
)

const (
	systemDiagnosticService = "http://terminology.hl7.org/CodeSystem/v2-0074"
	systemObservationCat    = "http://terminology.hl7.org/CodeSystem/observation-category"
	systemInterpretation    = "http://terminology.hl7.org/CodeSystem/v3-ObservationInterpretation"

	// SystemReportNumber identifies laboratory report numbers.
	SystemReportNumber = "urn:labextract:report-number"
	// SystemAnalyteCode identifies the analyte codes printed on reports.
	SystemAnalyteCode = "urn:labextract:analyte-code"
	// SystemCNP identifies Romanian personal numeric codes.
	SystemCNP = "urn:labextract:cnp"
)

var collectionDate = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})`)

// ReportBundle maps an extraction result to a collection Bundle holding one
// DiagnosticReport, one Observation per analyte record and, when the
// extraction produced warnings, an OperationOutcome listing them. Resource
// ids are derived from reportID so the same report always yields the same
// bundle.
func ReportBundle(reportID uuid.UUID, result labparse.ReportResult) (*Bundle, error) {
	subject := patientReference(result)
	effective := fhirDate(result.CollectionDate)

	var (
		urls      []string
		resources []interface{}
		refs      []Reference
	)
	for i, rec := range result.Records {
		id := uuid.NewSHA1(reportID, []byte(fmt.Sprintf("observation/%d", i))).String()
		urls = append(urls, "urn:uuid:"+id)
		resources = append(resources, observation(id, rec, subject, effective))
		refs = append(refs, Reference{Reference: "urn:uuid:" + id, Display: rec.Name})
	}

	report := DiagnosticReport{
		ResourceType: "DiagnosticReport",
		ID:           uuid.NewSHA1(reportID, []byte("diagnostic-report")).String(),
		Status:       "final",
		Category: []CodeableConcept{{
			Coding: []Coding{{System: systemDiagnosticService, Code: "LAB", Display: "Laboratory"}},
		}},
		Code:              CodeableConcept{Text: "Laboratory report"},
		Subject:           subject,
		EffectiveDateTime: effective,
		Result:            refs,
	}
	if result.ReportNumber != "" {
		report.Identifier = []Identifier{{System: SystemReportNumber, Value: result.ReportNumber}}
	}
	if result.LaboratoryName != "" {
		report.Performer = []Reference{{Type: "Organization", Display: result.LaboratoryName}}
	}
	if n := result.AbnormalCount(); n > 0 {
		report.Conclusion = fmt.Sprintf("%d of %d results outside the reference interval", n, len(result.Records))
	}

	urls = append([]string{"urn:uuid:" + report.ID}, urls...)
	resources = append([]interface{}{report}, resources...)

	if len(result.Warnings) > 0 {
		outcome := &OperationOutcome{
			ResourceType: "OperationOutcome",
			ID:           uuid.NewSHA1(reportID, []byte("extraction-warnings")).String(),
		}
		for _, w := range result.Warnings {
			outcome.Issue = append(outcome.Issue, OperationOutcomeIssue{
				Severity: "warning", Code: "informational", Diagnostics: w,
			})
		}
		urls = append(urls, "urn:uuid:"+outcome.ID)
		resources = append(resources, outcome)
	}

	return NewCollectionBundle(reportID.String(), urls, resources)
}

func observation(id string, rec labparse.AnalyteRecord, subject *Reference, effective string) Observation {
	obs := Observation{
		ResourceType: "Observation",
		ID:           id,
		Status:       "final",
		Category: []CodeableConcept{{
			Coding: []Coding{{System: systemObservationCat, Code: "laboratory", Display: "Laboratory"}},
		}},
		Code:              CodeableConcept{Text: rec.Name},
		Subject:           subject,
		EffectiveDateTime: effective,
	}
	if rec.Code != "" {
		obs.Code.Coding = []Coding{{System: SystemAnalyteCode, Code: rec.Code, Display: rec.Name}}
	}

	if rec.NumericResult != nil {
		obs.ValueQuantity = &Quantity{Value: rec.NumericResult, Unit: rec.Unit}
		if c := comparator(rec.RawResult); c != "" {
			obs.ValueQuantity.Comparator = c
		}
		obs.Interpretation = []CodeableConcept{interpretation(rec)}
	} else {
		obs.ValueString = rec.RawResult
	}

	if rec.ReferenceMin != nil || rec.ReferenceMax != nil || rec.ReferenceText != "" {
		rr := ObservationReferenceRange{Text: rec.ReferenceText}
		if rec.ReferenceMin != nil {
			rr.Low = &Quantity{Value: rec.ReferenceMin, Unit: rec.Unit}
		}
		if rec.ReferenceMax != nil {
			rr.High = &Quantity{Value: rec.ReferenceMax, Unit: rec.Unit}
		}
		obs.ReferenceRange = []ObservationReferenceRange{rr}
	}
	return obs
}

func interpretation(rec labparse.AnalyteRecord) CodeableConcept {
	code, display := "N", "Normal"
	switch rec.AbnormalDirection {
	case labparse.DirectionHigh:
		code, display = "H", "High"
	case labparse.DirectionLow:
		code, display = "L", "Low"
	}
	return CodeableConcept{Coding: []Coding{{System: systemInterpretation, Code: code, Display: display}}}
}

// comparator returns the FHIR comparator of a censored result such as "<5".
func comparator(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, c := range []string{"<=", ">=", "<", ">"} {
		if strings.HasPrefix(raw, c) {
			return c
		}
	}
	switch {
	case strings.HasPrefix(raw, "≤"):
		return "<="
	case strings.HasPrefix(raw, "≥"):
		return ">="
	}
	return ""
}

func patientReference(result labparse.ReportResult) *Reference {
	if result.PatientID == "" && result.PatientName == "" {
		return nil
	}
	ref := &Reference{Type: "Patient", Display: result.PatientName}
	if result.PatientID != "" {
		ref.Identifier = &Identifier{System: SystemCNP, Value: result.PatientID}
	}
	return ref
}

// fhirDate converts dd.mm.yyyy (also / or - separated) to YYYY-MM-DD.
func fhirDate(s string) string {
	m := collectionDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return ""
	}
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
}
