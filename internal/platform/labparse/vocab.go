package labparse

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the static word lists the strategies match against. It is
// built once at startup and only read afterwards.
type Vocabulary struct {
	// Units in match order; the first spelling found in a line wins.
	Units []string `yaml:"units"`
	// Categories are panel headings that switch the current category.
	Categories []string `yaml:"categories"`
	// SkipPatterns mark header/footer lines for the generic layout.
	SkipPatterns []string `yaml:"skip_patterns"`
	// AbnormalMarkers are line prefixes a laboratory prints on flagged rows.
	AbnormalMarkers []string     `yaml:"abnormal_markers"`
	Laboratories    []Laboratory `yaml:"laboratories"`
}

var builtin = DefaultVocabulary()

// DefaultVocabulary returns a fresh copy of the built-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Units: []string{
			"g/dL", "g/dl", "g/L", "mg/dL", "mg/dl", "mg/L",
			"µg/dL", "ng/mL", "pg/mL", "pg/ml", "ng/ml",
			"mmol/L", "mmol/l", "µmol/L", "nmol/L", "pmol/L",
			"mU/L", "U/L", "U/l", "IU/L", "mIU/mL", "µIU/mL",
			"mil./µL", "mii/µL", "x10^6/µl", "x10^3/µl",
			"*10^6/µl", "*10^6/µL", "x10^9/L", "x10^12/L",
			"/mm³", "/mm3", "mm/h", "sec", "s",
			"%", "fl", "fL", "pg", "µm³", "µm^3",
			"mEq/L", "mg%", "UI/mL",
		},
		Categories: []string{
			"HEMATOLOGIE", "BIOCHIMIE", "IMUNOLOGIE", "SEROLOGIE",
			"COAGULARE", "HORMONI", "ENDOCRINOLOGIE", "MARKERI TUMORALI",
			"ANALIZE DE URINA", "SUMAR URINA", "EXAMEN URINĂ", "URINA", "VSH",
		},
		SkipPatterns: []string{
			"pagina", "page", "data:", "ora:", "validat", "semnat",
			"laborator", "adresa:", "telefon:", "fax:", "email:",
			"www.", "http", ".ro", ".com", "copyright",
			"rezultat", "unitate", "interval", "referință", "valoare",
			"medic", "doctor", "asistent",
		},
		AbnormalMarkers: []string{"23"},
		Laboratories:    defaultLaboratories(),
	}
}

// LoadVocabulary reads a YAML vocabulary and returns the built-in vocabulary
// extended with it. List entries are appended; a laboratory whose key already
// exists replaces the built-in one in place.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	var extra Vocabulary
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&extra); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding vocabulary: %w", err)
	}
	for i, lab := range extra.Laboratories {
		if err := lab.validate(); err != nil {
			return nil, fmt.Errorf("vocabulary laboratory %d: %w", i+1, err)
		}
	}
	v := DefaultVocabulary()
	v.Units = append(v.Units, extra.Units...)
	v.Categories = append(v.Categories, extra.Categories...)
	v.SkipPatterns = append(v.SkipPatterns, extra.SkipPatterns...)
	v.AbnormalMarkers = append(v.AbnormalMarkers, extra.AbnormalMarkers...)
	for _, lab := range extra.Laboratories {
		replaced := false
		for i := range v.Laboratories {
			if v.Laboratories[i].Key == lab.Key {
				v.Laboratories[i] = lab
				replaced = true
				break
			}
		}
		if !replaced {
			v.Laboratories = append(v.Laboratories, lab)
		}
	}
	return v, nil
}
