package labparse

import (
	"testing"
)

func TestExtractHeader(t *testing.T) {
	h := ExtractHeader([]string{
		"Buletin nr. 240315-0042",
		"Nume: POPESCU MARIA CNP: 2850312123456 Varsta: 38 ani",
		"Data recoltare: 12.03.2024 08:30",
		"Data raportului: 13.03.2024",
		"Medic trimitator: Dr. Ionescu Andrei",
		"Recoltat la: Punct recoltare Floreasca",
	})

	tests := []struct {
		field, got, want string
	}{
		{"ReportNumber", h.ReportNumber, "240315-0042"},
		{"PatientName", h.PatientName, "POPESCU MARIA"},
		{"PatientID", h.PatientID, "2850312123456"},
		{"PatientSex", h.PatientSex, "F"},
		{"CollectionDate", h.CollectionDate, "12.03.2024"},
		{"ReportDate", h.ReportDate, "13.03.2024"},
		{"ReferringPhysician", h.ReferringPhysician, "Dr. Ionescu Andrei"},
		{"CollectionSite", h.CollectionSite, "Punct recoltare Floreasca"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.field, tt.want, tt.got)
		}
	}
}

func TestExtractHeader_ReportNumberPriority(t *testing.T) {
	tests := []struct {
		lines []string
		want  string
	}{
		{[]string{"Nr. cerere: 77881", "Buletin nr: 99001"}, "99001"},
		{[]string{"Nr. proba: A12345"}, "A12345"},
		{[]string{"Nr: 1234567"}, "1234567"},
		{[]string{"Nr. crt"}, ""},
	}
	for _, tt := range tests {
		if got := ExtractHeader(tt.lines).ReportNumber; got != tt.want {
			t.Errorf("%v: expected %q, got %q", tt.lines, tt.want, got)
		}
	}
}

func TestExtractHeader_GivenNameLabelIsNotSurname(t *testing.T) {
	h := ExtractHeader([]string{"Prenume: ION", "Nume: POPESCU"})
	if h.PatientName != "POPESCU" {
		t.Errorf("expected PatientName %q, got %q", "POPESCU", h.PatientName)
	}
}

func TestExtractHeader_UnlabelledCNP(t *testing.T) {
	h := ExtractHeader([]string{"POPESCU ION 1790101123456"})
	if h.PatientID != "1790101123456" {
		t.Errorf("expected bare 13-digit run, got %q", h.PatientID)
	}
	if h.PatientSex != "M" {
		t.Errorf("expected sex M from CNP, got %q", h.PatientSex)
	}
}

func TestExtractHeader_ExplicitSexWins(t *testing.T) {
	h := ExtractHeader([]string{"CNP: 2850312123456", "Sex: Masculin"})
	if h.PatientSex != "M" {
		t.Errorf("expected labelled sex to win over CNP, got %q", h.PatientSex)
	}
}

func TestExtractHeader_Empty(t *testing.T) {
	if h := ExtractHeader(nil); h != (Header{}) {
		t.Errorf("expected empty header, got %+v", h)
	}
}

func TestSexFromCNP(t *testing.T) {
	tests := map[string]string{
		"1790101123456": "M",
		"2850312123456": "F",
		"5010101123456": "M",
		"6010101123456": "F",
		"9010101123456": "",
		"123":           "",
	}
	for cnp, want := range tests {
		if got := SexFromCNP(cnp); got != want {
			t.Errorf("SexFromCNP(%q): expected %q, got %q", cnp, want, got)
		}
	}
}
