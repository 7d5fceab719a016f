package labparse

import (
	"strings"
	"testing"
)

func TestRegistry_Detect(t *testing.T) {
	r := NewRegistry(defaultLaboratories())
	tests := []struct {
		text, want string
	}{
		{"Laborator SYNEVO Romania", "synevo"},
		{"rezultate www.medlife.ro", "medlife"},
		{"CLINICA   SANTÉ\nBuletin", "clinica_sante"},
		{"Analizor Sysmex XT-4000i", "smartlabs"},
		{"Acreditat SR EN ISO 15189", "elite_medical"},
		{"Regina Maria, partener synevo.ro", "regina_maria"},
		{"un text oarecare", UnknownLaboratory},
		{"", UnknownLaboratory},
	}
	for _, tt := range tests {
		if got := r.Detect(tt.text); got != tt.want {
			t.Errorf("Detect(%q): expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(defaultLaboratories())
	lab, ok := r.Lookup("promed")
	if !ok {
		t.Fatal("expected promed to be registered")
	}
	if lab.Format != FormatNumberedTabular {
		t.Errorf("expected numbered_tabular, got %q", lab.Format)
	}
	if _, ok := r.Lookup("unknown"); ok {
		t.Error("expected lookup of unknown key to fail")
	}
}

func TestRegistry_Directory(t *testing.T) {
	dir := NewRegistry(defaultLaboratories()).Directory()
	if len(dir) != 10 {
		t.Fatalf("expected 10 laboratories, got %d", len(dir))
	}
	if dir[0].Key != "regina_maria" || dir[9].Key != "promed" {
		t.Errorf("expected detection order, got first %q last %q", dir[0].Key, dir[9].Key)
	}
	for _, info := range dir {
		if info.Name == "" || info.Description == "" || !info.Format.Valid() {
			t.Errorf("incomplete directory entry: %+v", info)
		}
	}
}

func TestFormat_Valid(t *testing.T) {
	if !FormatEqualsBlock.Valid() {
		t.Error("expected equals_block to be valid")
	}
	if Format("pdf_table").Valid() {
		t.Error("expected unknown format to be invalid")
	}
}

// =========== Vocabulary ===========

const extraVocabulary = `
units:
  - mUI/mL
categories:
  - TOXICOLOGIE
laboratories:
  - key: synevo
    name: Synevo Nou
    description: Synevo replaced
    format: generic
    signatures: [synevo]
  - key: medcenter
    name: MedCenter
    description: Name = value unit [min - max]
    format: inline_equals
    signatures: [medcenter.ro]
`

func TestLoadVocabulary_ExtendsBuiltin(t *testing.T) {
	v, err := LoadVocabulary(strings.NewReader(extraVocabulary))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	builtinUnits := len(DefaultVocabulary().Units)
	if len(v.Units) != builtinUnits+1 || v.Units[builtinUnits] != "mUI/mL" {
		t.Errorf("expected unit appended, got %v", v.Units[builtinUnits:])
	}
	if len(v.Laboratories) != 11 {
		t.Fatalf("expected 11 laboratories, got %d", len(v.Laboratories))
	}
	if v.Laboratories[1].Key != "synevo" || v.Laboratories[1].Name != "Synevo Nou" {
		t.Errorf("expected synevo replaced in place, got %+v", v.Laboratories[1])
	}
	if v.Laboratories[10].Key != "medcenter" {
		t.Errorf("expected medcenter appended, got %q", v.Laboratories[10].Key)
	}

	e := New(DefaultOptions(), v)
	if got := e.Detect("www.medcenter.ro"); got != "medcenter" {
		t.Errorf("expected loaded signature to be detected, got %q", got)
	}
	res := e.Extract("TOXICOLOGIE\nPlumb = 2 mUI/mL [0 - 5]", "medcenter")
	if len(res.Records) != 1 || res.Records[0].Unit != "mUI/mL" || res.Records[0].Category != "TOXICOLOGIE" {
		t.Errorf("expected loaded unit and category to be used, got %+v", res.Records)
	}
}

func TestLoadVocabulary_Empty(t *testing.T) {
	v, err := LoadVocabulary(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Laboratories) != 10 {
		t.Errorf("expected builtin laboratories, got %d", len(v.Laboratories))
	}
}

func TestLoadVocabulary_Errors(t *testing.T) {
	tests := map[string]string{
		"bad format":    "laboratories:\n  - key: x\n    name: X\n    format: pdf_table\n    signatures: [x]\n",
		"no signatures": "laboratories:\n  - key: x\n    name: X\n    format: generic\n",
		"unknown field": "colors: [red]\n",
		"not yaml":      "units: [a\n",
	}
	for name, doc := range tests {
		if _, err := LoadVocabulary(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
