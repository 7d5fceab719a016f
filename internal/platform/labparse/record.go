// Package labparse extracts analyte measurements from the text of medical
// laboratory reports. Input is the ordered sequence of text lines produced by
// a PDF/HTML/OCR text extractor; output is a ReportResult holding one
// AnalyteRecord per measured quantity plus best-effort header fields.
//
// Each supported laboratory renders name, result, unit and reference range in
// its own line arrangement. The Registry maps a laboratory to one of a closed
// set of layout Formats, and every Format is decoded by a single forward scan
// over the lines. Nothing in this package opens files or keeps state between
// calls; an Engine may be shared by concurrent goroutines.
package labparse

// Direction tells which reference bound an abnormal result violated.
type Direction string

const (
	DirectionHigh Direction = "HIGH"
	DirectionLow  Direction = "LOW"
)

const (
	// UnknownLaboratory is reported when no registry signature matches.
	UnknownLaboratory = "unknown"

	// DefaultCategory is used until a panel header is seen.
	DefaultCategory = "GENERAL"
)

// AnalyteRecord is one measured quantity of a report.
type AnalyteRecord struct {
	Category          string    `json:"category"`
	Name              string    `json:"name"`
	Code              string    `json:"code,omitempty"`
	RawResult         string    `json:"raw_result"`
	NumericResult     *float64  `json:"numeric_result,omitempty"`
	Unit              string    `json:"unit"`
	ReferenceMin      *float64  `json:"reference_min,omitempty"`
	ReferenceMax      *float64  `json:"reference_max,omitempty"`
	ReferenceText     string    `json:"reference_text"`
	IsAbnormal        bool      `json:"is_abnormal"`
	AbnormalDirection Direction `json:"abnormal_direction,omitempty"`
}

// ReportResult is the decoded report. It carries no timestamps so repeated
// extraction of the same text yields identical JSON.
type ReportResult struct {
	Laboratory         string          `json:"laboratory"`
	LaboratoryName     string          `json:"laboratory_name"`
	Format             Format          `json:"format"`
	ReportNumber       string          `json:"report_number,omitempty"`
	CollectionDate     string          `json:"collection_date,omitempty"`
	ReportDate         string          `json:"report_date,omitempty"`
	PatientName        string          `json:"patient_name,omitempty"`
	PatientID          string          `json:"patient_id,omitempty"`
	PatientSex         string          `json:"patient_sex,omitempty"`
	ReferringPhysician string          `json:"referring_physician,omitempty"`
	CollectionSite     string          `json:"collection_site,omitempty"`
	Records            []AnalyteRecord `json:"records"`
	Warnings           []string        `json:"warnings"`
}

// AbnormalCount returns the number of records flagged outside their interval.
func (r *ReportResult) AbnormalCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.IsAbnormal {
			n++
		}
	}
	return n
}

// ImportRow is the row-oriented shape consumed by clinic record systems: one
// row per analyte with the report identity copied onto it.
type ImportRow struct {
	AnalyteName       string    `json:"analyte_name"`
	Code              string    `json:"code,omitempty"`
	Category          string    `json:"category"`
	RawResult         string    `json:"raw_result"`
	NumericResult     *float64  `json:"numeric_result,omitempty"`
	Unit              string    `json:"unit"`
	ReferenceMin      *float64  `json:"reference_min,omitempty"`
	ReferenceMax      *float64  `json:"reference_max,omitempty"`
	ReferenceText     string    `json:"reference_text"`
	IsAbnormal        bool      `json:"is_abnormal"`
	AbnormalDirection Direction `json:"abnormal_direction,omitempty"`
	CollectionDate    string    `json:"collection_date,omitempty"`
	Laboratory        string    `json:"laboratory"`
	ReportNumber      string    `json:"report_number,omitempty"`
}

// ImportRows denormalizes a result into import rows, in record order.
func ImportRows(result ReportResult) []ImportRow {
	rows := make([]ImportRow, 0, len(result.Records))
	lab := result.LaboratoryName
	if lab == "" {
		lab = result.Laboratory
	}
	for _, rec := range result.Records {
		rows = append(rows, ImportRow{
			AnalyteName:       rec.Name,
			Code:              rec.Code,
			Category:          rec.Category,
			RawResult:         rec.RawResult,
			NumericResult:     rec.NumericResult,
			Unit:              rec.Unit,
			ReferenceMin:      rec.ReferenceMin,
			ReferenceMax:      rec.ReferenceMax,
			ReferenceText:     rec.ReferenceText,
			IsAbnormal:        rec.IsAbnormal,
			AbnormalDirection: rec.AbnormalDirection,
			CollectionDate:    result.CollectionDate,
			Laboratory:        lab,
			ReportNumber:      result.ReportNumber,
		})
	}
	return rows
}
