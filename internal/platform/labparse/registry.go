package labparse

import (
	"errors"
	"fmt"
	"strings"
)

// Laboratory describes one issuing laboratory: how to recognise its reports
// and which layout they use.
type Laboratory struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Format      Format   `yaml:"format" json:"format"`
	Signatures  []string `yaml:"signatures" json:"signatures"`
}

func (l Laboratory) validate() error {
	switch {
	case strings.TrimSpace(l.Key) == "":
		return errors.New("key is required")
	case strings.TrimSpace(l.Name) == "":
		return fmt.Errorf("%s: name is required", l.Key)
	case !l.Format.Valid():
		return fmt.Errorf("%s: unknown format %q", l.Key, l.Format)
	case len(l.Signatures) == 0:
		return fmt.Errorf("%s: at least one signature is required", l.Key)
	}
	return nil
}

// LaboratoryInfo is the directory entry shown to users picking a laboratory.
type LaboratoryInfo struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      Format `json:"format"`
}

func defaultLaboratories() []Laboratory {
	return []Laboratory{
		{Key: "regina_maria", Name: "Regina Maria", Format: FormatInlineEquals,
			Description: "Name (CODE) = value unit [min - max] on one line",
			Signatures:  []string{"Regina Maria", "reginamaria.ro"}},
		{Key: "synevo", Name: "Synevo", Format: FormatUnitAnchoredMarked,
			Description: "Name value unit interval, flagged rows prefixed with 23",
			Signatures:  []string{"SYNEVO", "synevo.ro"}},
		{Key: "medlife", Name: "MedLife", Format: FormatUnitAnchored,
			Description: "Name value unit min - max unit",
			Signatures:  []string{"MedLife", "medlife.ro"}},
		{Key: "bioclinica", Name: "Bioclinica", Format: FormatGroupedValue,
			Description: "Name value /unit (min - max), dots group thousands",
			Signatures:  []string{"Bioclinica", "bioclinica.ro"}},
		{Key: "clinica_sante", Name: "Clinica Sante", Format: FormatVerticalBlock,
			Description: "Name (CODE), then [min - max], unit and value on separate lines",
			Signatures:  []string{"Clinica Sante", "clinica-sante.ro", "analizeonline.ro"}},
		{Key: "smartlabs", Name: "SmartLabs", Format: FormatCodedBlock,
			Description: "(CODE) Name, then value unit, then min - max",
			Signatures:  []string{"SmartLabs", "erpos", "Sysmex XT", "Konelab"}},
		{Key: "elite_medical", Name: "Elite Medical", Format: FormatEqualsBlock,
			Description: "Name (CODE), then = value unit, then [min - max] / unit",
			Signatures:  []string{"Elite Medical", "poliana.ro", "Poliana", "SR EN ISO 15189"}},
		{Key: "gral_medical", Name: "Gral Medical", Format: FormatGeneric,
			Description: "Mixed table layout, decoded with the generic scan",
			Signatures:  []string{"Gral Medical", "gfrg.ro"}},
		{Key: "sanador", Name: "Sanador", Format: FormatGeneric,
			Description: "Mixed table layout, decoded with the generic scan",
			Signatures:  []string{"Sanador", "sanador.ro"}},
		{Key: "promed", Name: "ProMed", Format: FormatNumberedTabular,
			Description: "Nr. | Name | value | unit | min - max",
			Signatures:  []string{"ProMed", "promed.ro"}},
	}
}

// Registry detects the issuing laboratory from document text. Signatures are
// tried in laboratory order and the first hit wins.
type Registry struct {
	labs       []Laboratory
	signatures [][]string
}

// NewRegistry builds a registry over labs, keeping their order.
func NewRegistry(labs []Laboratory) *Registry {
	r := &Registry{
		labs:       append([]Laboratory(nil), labs...),
		signatures: make([][]string, len(labs)),
	}
	for i, lab := range labs {
		for _, sig := range lab.Signatures {
			if f := fold(sig); f != "" {
				r.signatures[i] = append(r.signatures[i], f)
			}
		}
	}
	return r
}

// Detect returns the key of the first laboratory with a signature anywhere
// in text, ignoring case, diacritics and whitespace runs. It returns
// UnknownLaboratory when nothing matches.
func (r *Registry) Detect(text string) string {
	folded := fold(text)
	for i, sigs := range r.signatures {
		for _, sig := range sigs {
			if strings.Contains(folded, sig) {
				return r.labs[i].Key
			}
		}
	}
	return UnknownLaboratory
}

// Lookup returns the laboratory registered under key.
func (r *Registry) Lookup(key string) (Laboratory, bool) {
	for _, lab := range r.labs {
		if lab.Key == key {
			return lab, true
		}
	}
	return Laboratory{}, false
}

// Directory lists the laboratories in detection order.
func (r *Registry) Directory() []LaboratoryInfo {
	out := make([]LaboratoryInfo, 0, len(r.labs))
	for _, lab := range r.labs {
		out = append(out, LaboratoryInfo{
			Key:         lab.Key,
			Name:        lab.Name,
			Description: lab.Description,
			Format:      lab.Format,
		})
	}
	return out
}
