package labreport

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/labextract/labextract/internal/platform/labparse"
)

// ErrNotFound is returned by repositories when no report has the given id.
var ErrNotFound = errors.New("lab report not found")

// Report is a stored extraction. The summary columns duplicate header fields
// of Result so reports can be listed without decoding it.
type Report struct {
	ID             uuid.UUID             `json:"id"`
	SourceName     string                `json:"source_name,omitempty"`
	Laboratory     string                `json:"laboratory"`
	LaboratoryName string                `json:"laboratory_name,omitempty"`
	ReportNumber   string                `json:"report_number,omitempty"`
	CollectionDate string                `json:"collection_date,omitempty"`
	PatientID      string                `json:"patient_id,omitempty"`
	PatientName    string                `json:"patient_name,omitempty"`
	RecordCount    int                   `json:"record_count"`
	AbnormalCount  int                   `json:"abnormal_count"`
	Result         labparse.ReportResult `json:"result"`
	CreatedAt      time.Time             `json:"created_at"`
}

// NewReport builds an unsaved report from an extraction result.
func NewReport(sourceName string, result labparse.ReportResult) *Report {
	return &Report{
		SourceName:     sourceName,
		Laboratory:     result.Laboratory,
		LaboratoryName: result.LaboratoryName,
		ReportNumber:   result.ReportNumber,
		CollectionDate: result.CollectionDate,
		PatientID:      result.PatientID,
		PatientName:    result.PatientName,
		RecordCount:    len(result.Records),
		AbnormalCount:  result.AbnormalCount(),
		Result:         result,
	}
}
