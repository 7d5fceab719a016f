package fhir

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/labextract/labextract/internal/platform/labparse"
)

func f64(v float64) *float64 { return &v }

var testReportID = uuid.MustParse("6f1c2a9e-3b4d-4c5e-9f60-718293a4b5c6")

func testResult() labparse.ReportResult {
	return labparse.ReportResult{
		Laboratory:     "clinica_sante",
		LaboratoryName: "Clinica Sante",
		ReportNumber:   "240315-0042",
		CollectionDate: "12.03.2024",
		PatientName:    "POPESCU MARIA",
		PatientID:      "2850312123456",
		Records: []labparse.AnalyteRecord{
			{
				Name: "Hemoglobina (HGB)", Code: "HGB", RawResult: "10.6", NumericResult: f64(10.6),
				Unit: "g/dL", ReferenceMin: f64(11.5), ReferenceMax: f64(16), ReferenceText: "[11.5 - 16]",
				IsAbnormal: true, AbnormalDirection: labparse.DirectionLow,
			},
			{Name: "Proteina C reactiva", RawResult: "<0.5", NumericResult: f64(0.5), Unit: "mg/L", ReferenceMax: f64(5)},
			{Name: "Antigen HBs", RawResult: "Negativ"},
		},
		Warnings: []string{"line 12: reference interval \"vezi nota\" not understood"},
	}
}

func decodeEntry(t *testing.T, b *Bundle, i int, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(b.Entry[i].Resource, v); err != nil {
		t.Fatalf("entry %d: %v", i, err)
	}
}

// =========== Report Bundle Tests ===========

func TestReportBundle_Structure(t *testing.T) {
	b, err := ReportBundle(testReportID, testResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ResourceType != "Bundle" || b.Type != "collection" || b.ID != testReportID.String() {
		t.Errorf("unexpected bundle header: %+v", b)
	}
	// report, three observations, warnings
	if len(b.Entry) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(b.Entry))
	}

	var report DiagnosticReport
	decodeEntry(t, b, 0, &report)
	if report.ResourceType != "DiagnosticReport" || report.Status != "final" {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Identifier) != 1 || report.Identifier[0].Value != "240315-0042" {
		t.Errorf("expected report number identifier, got %+v", report.Identifier)
	}
	if report.EffectiveDateTime != "2024-03-12" {
		t.Errorf("expected effective 2024-03-12, got %q", report.EffectiveDateTime)
	}
	if report.Category[0].Coding[0].Code != "LAB" {
		t.Errorf("expected LAB category, got %+v", report.Category)
	}
	if report.Subject == nil || report.Subject.Identifier.Value != "2850312123456" {
		t.Errorf("expected CNP subject identifier, got %+v", report.Subject)
	}
	if len(report.Result) != 3 || report.Result[0].Reference != b.Entry[1].FullURL {
		t.Errorf("expected result references to observation entries, got %+v", report.Result)
	}
	if report.Conclusion != "1 of 3 results outside the reference interval" {
		t.Errorf("unexpected conclusion %q", report.Conclusion)
	}

	var outcome OperationOutcome
	decodeEntry(t, b, 4, &outcome)
	if outcome.ResourceType != "OperationOutcome" || len(outcome.Issue) != 1 || outcome.Issue[0].Severity != "warning" {
		t.Errorf("expected warnings outcome, got %+v", outcome)
	}
}

func TestReportBundle_Observations(t *testing.T) {
	b, err := ReportBundle(testReportID, testResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var hgb Observation
	decodeEntry(t, b, 1, &hgb)
	if hgb.Code.Coding[0].Code != "HGB" || hgb.Code.Text != "Hemoglobina (HGB)" {
		t.Errorf("unexpected code: %+v", hgb.Code)
	}
	if hgb.ValueQuantity == nil || *hgb.ValueQuantity.Value != 10.6 || hgb.ValueQuantity.Unit != "g/dL" {
		t.Errorf("unexpected value: %+v", hgb.ValueQuantity)
	}
	if hgb.Interpretation[0].Coding[0].Code != "L" {
		t.Errorf("expected interpretation L, got %+v", hgb.Interpretation)
	}
	rr := hgb.ReferenceRange[0]
	if *rr.Low.Value != 11.5 || *rr.High.Value != 16 || rr.Text != "[11.5 - 16]" {
		t.Errorf("unexpected reference range: %+v", rr)
	}

	var crp Observation
	decodeEntry(t, b, 2, &crp)
	if crp.ValueQuantity.Comparator != "<" {
		t.Errorf("expected comparator <, got %q", crp.ValueQuantity.Comparator)
	}
	if crp.Interpretation[0].Coding[0].Code != "N" {
		t.Errorf("expected interpretation N, got %+v", crp.Interpretation)
	}
	if crp.ReferenceRange[0].Low != nil {
		t.Error("expected no low bound")
	}

	var hbs Observation
	decodeEntry(t, b, 3, &hbs)
	if hbs.ValueString != "Negativ" || hbs.ValueQuantity != nil || hbs.Interpretation != nil {
		t.Errorf("unexpected qualitative observation: %+v", hbs)
	}
	if len(hbs.Code.Coding) != 0 {
		t.Errorf("expected text-only code without analyte code, got %+v", hbs.Code)
	}
}

func TestReportBundle_Deterministic(t *testing.T) {
	a, _ := ReportBundle(testReportID, testResult())
	b, _ := ReportBundle(testReportID, testResult())
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Error("expected identical bundles for the same report id")
	}

	c, _ := ReportBundle(uuid.New(), testResult())
	if c.Entry[0].FullURL == a.Entry[0].FullURL {
		t.Error("expected different ids for a different report")
	}
}

func TestReportBundle_Minimal(t *testing.T) {
	b, err := ReportBundle(testReportID, labparse.ReportResult{Laboratory: labparse.UnknownLaboratory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Entry) != 1 {
		t.Fatalf("expected only the report entry, got %d", len(b.Entry))
	}
	var report DiagnosticReport
	decodeEntry(t, b, 0, &report)
	if report.Subject != nil || report.Identifier != nil || report.Performer != nil || report.Conclusion != "" {
		t.Errorf("expected empty optional fields, got %+v", report)
	}
}

func TestFHIRDate(t *testing.T) {
	tests := map[string]string{
		"12.03.2024":       "2024-03-12",
		"1/3/2024 08:00":   "2024-03-01",
		"32.01.2024":       "",
		"data necunoscuta": "",
	}
	for in, want := range tests {
		if got := fhirDate(in); got != want {
			t.Errorf("fhirDate(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestNewCollectionBundle_Mismatch(t *testing.T) {
	if _, err := NewCollectionBundle("x", []string{"a"}, nil); err == nil {
		t.Error("expected an error for mismatched entries")
	}
}
