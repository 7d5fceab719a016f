package labreport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labextract/labextract/internal/platform/blobstore"
	"github.com/labextract/labextract/internal/platform/fhir"
	"github.com/labextract/labextract/internal/platform/hl7v2"
	"github.com/labextract/labextract/internal/platform/labparse"
	"github.com/labextract/labextract/internal/platform/textsource"
	"github.com/labextract/labextract/internal/platform/websocket"
)

var (
	// ErrNoInput is returned when a parse request carries neither a file,
	// text nor lines.
	ErrNoInput = errors.New("no report content supplied")
	// ErrForwardingDisabled is returned by Forward when no HL7 receiver is configured.
	ErrForwardingDisabled = errors.New("hl7 forwarding is not configured")
	// ErrNoDocument is returned by Document when the original upload was
	// not archived.
	ErrNoDocument = errors.New("original document is not available")
)

// ParseInput is one report to extract. Document takes precedence over
// Lines, and Lines over Text.
type ParseInput struct {
	Document   *textsource.Document
	Text       string
	Lines      []string
	Laboratory string
}

func (in ParseInput) sourceName() string {
	if in.Document != nil {
		return in.Document.Name
	}
	return ""
}

// Forwarder delivers HL7 v2 messages to a receiving system.
// *hl7v2.MLLPClient satisfies it.
type Forwarder interface {
	Addr() string
	Send(ctx context.Context, msg []byte) (*hl7v2.Message, error)
}

// ForwardResult reports the acknowledgment of a forwarded report.
type ForwardResult struct {
	ReportID    uuid.UUID `json:"report_id"`
	Destination string    `json:"destination"`
	ControlID   string    `json:"control_id"`
	AckCode     string    `json:"ack_code"`
	AckText     string    `json:"ack_text,omitempty"`
}

type Service struct {
	reports   ReportRepository
	engine    *labparse.Engine
	oru       hl7v2.ORUOptions
	forwarder Forwarder
	archive   blobstore.BlobStore
	events    EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(reports ReportRepository, engine *labparse.Engine, logger zerolog.Logger) *Service {
	return &Service{
		reports: reports,
		engine:  engine,
		logger:  logger.With().Str("component", "labreport").Logger(),
		now:     time.Now,
	}
}

// SetHL7 configures the MSH header of generated messages and, when fwd is
// not nil, the receiver used by Forward.
func (s *Service) SetHL7(opts hl7v2.ORUOptions, fwd Forwarder) {
	s.oru = opts
	s.forwarder = fwd
}

// SetArchive enables archiving of uploaded documents.
func (s *Service) SetArchive(archive blobstore.BlobStore) {
	s.archive = archive
}

// EventPublisher receives report lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

func (s *Service) SetPublisher(events EventPublisher) {
	s.events = events
}

func (s *Service) publish(ctx context.Context, eventType string, rep *Report) {
	if s.events == nil {
		return
	}
	ev := websocket.Event{
		Type:          eventType,
		ReportID:      rep.ID.String(),
		Laboratory:    rep.Laboratory,
		PatientID:     rep.PatientID,
		RecordCount:   rep.RecordCount,
		AbnormalCount: rep.AbnormalCount,
		Timestamp:     s.now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Str("report_id", ev.ReportID).Msg("event not published")
	}
}

func documentKey(id uuid.UUID) string {
	return "lab-reports/" + id.String()
}

// Laboratories returns the directory of supported laboratories.
func (s *Service) Laboratories() []labparse.LaboratoryInfo {
	return s.engine.Laboratories()
}

// Parse extracts a report without storing it.
func (s *Service) Parse(ctx context.Context, in ParseInput) (labparse.ReportResult, error) {
	var lines []string
	switch {
	case in.Document != nil:
		var err error
		lines, err = textsource.Lines(ctx, *in.Document)
		if err != nil {
			return labparse.ReportResult{}, fmt.Errorf("read %s: %w", in.Document.Name, err)
		}
	case len(in.Lines) > 0:
		lines = in.Lines
	case strings.TrimSpace(in.Text) != "":
		lines = labparse.SplitLines(in.Text)
	default:
		return labparse.ReportResult{}, ErrNoInput
	}
	return s.engine.ExtractLines(lines, strings.TrimSpace(in.Laboratory)), nil
}

// Import extracts a report and stores it.
func (s *Service) Import(ctx context.Context, in ParseInput) (*Report, error) {
	result, err := s.Parse(ctx, in)
	if err != nil {
		return nil, err
	}
	rep := NewReport(in.sourceName(), result)
	if err := s.reports.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	if s.archive != nil && in.Document != nil {
		if err := s.archiveDocument(ctx, rep.ID, in.Document); err != nil {
			if delErr := s.reports.Delete(ctx, rep.ID); delErr != nil {
				s.logger.Error().Err(delErr).Str("report_id", rep.ID.String()).Msg("failed to remove report after archive error")
			}
			return nil, err
		}
	}
	s.logger.Info().
		Str("report_id", rep.ID.String()).
		Str("laboratory", rep.Laboratory).
		Int("records", rep.RecordCount).
		Int("abnormal", rep.AbnormalCount).
		Int("warnings", len(result.Warnings)).
		Msg("lab report imported")
	s.publish(ctx, websocket.ReportImported, rep)
	return rep, nil
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.reports.GetByID(ctx, id)
}

func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	return s.reports.List(ctx, limit, offset)
}

func (s *Service) ListReportsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	return s.reports.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) archiveDocument(ctx context.Context, id uuid.UUID, doc *textsource.Document) error {
	_, err := s.archive.Upload(ctx, blobstore.BlobMetadata{
		Key:         documentKey(id),
		FileName:    doc.Name,
		ContentType: doc.ContentType,
	}, bytes.NewReader(doc.Data))
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	return nil
}

// Document opens the archived original of a stored report.
func (s *Service) Document(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	if _, err := s.reports.GetByID(ctx, id); err != nil {
		return nil, nil, err
	}
	if s.archive == nil {
		return nil, nil, ErrNoDocument
	}
	rc, meta, err := s.archive.Download(ctx, documentKey(id))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNoDocument
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open document: %w", err)
	}
	return rc, meta, nil
}

func (s *Service) DeleteReport(ctx context.Context, id uuid.UUID) error {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reports.Delete(ctx, id); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.Delete(ctx, documentKey(id)); err != nil {
			s.logger.Warn().Err(err).Str("report_id", id.String()).Msg("archived document not removed")
		}
	}
	s.logger.Info().Str("report_id", id.String()).Msg("lab report deleted")
	s.publish(ctx, websocket.ReportDeleted, rep)
	return nil
}

// ImportRows returns the stored report as denormalized import rows.
func (s *Service) ImportRows(ctx context.Context, id uuid.UUID) ([]labparse.ImportRow, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return labparse.ImportRows(rep.Result), nil
}

// FHIRBundle returns the stored report as a FHIR collection Bundle.
func (s *Service) FHIRBundle(ctx context.Context, id uuid.UUID) (*fhir.Bundle, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return fhir.ReportBundle(rep.ID, rep.Result)
}

// HL7Message returns the stored report as an ORU^R01 message.
func (s *Service) HL7Message(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RenderHL7(rep.ID, rep.Result), nil
}

// RenderHL7 generates an ORU^R01 message for a result. The control id
// combines the generation time with the start of reportID.
func (s *Service) RenderHL7(reportID uuid.UUID, result labparse.ReportResult) []byte {
	return hl7v2.GenerateORU(result, s.oruOptions(reportID))
}

func (s *Service) oruOptions(reportID uuid.UUID) hl7v2.ORUOptions {
	opts := s.oru
	opts.Timestamp = s.now().UTC()
	opts.ControlID = opts.Timestamp.Format("060102150405") + strings.ToUpper(reportID.String()[:8])
	return opts
}

// Forward sends the stored report to the configured HL7 receiver. A
// rejection is returned as a *hl7v2.RejectedError alongside the result.
func (s *Service) Forward(ctx context.Context, id uuid.UUID) (*ForwardResult, error) {
	if s.forwarder == nil {
		return nil, ErrForwardingDisabled
	}
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := s.oruOptions(rep.ID)
	out := &ForwardResult{ReportID: rep.ID, Destination: s.forwarder.Addr(), ControlID: opts.ControlID}

	ack, err := s.forwarder.Send(ctx, hl7v2.GenerateORU(rep.Result, opts))
	if ack != nil {
		out.AckCode, out.AckText = ack.Acknowledgment()
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("report_id", rep.ID.String()).
			Str("destination", out.Destination).
			Msg("hl7 forward failed")
		return out, fmt.Errorf("forward report %s: %w", rep.ID, err)
	}
	s.logger.Info().
		Str("report_id", rep.ID.String()).
		Str("laboratory", rep.Laboratory).
		Str("destination", out.Destination).
		Str("control_id", out.ControlID).
		Str("ack", out.AckCode).
		Msg("lab report forwarded")
	s.publish(ctx, websocket.ReportForwarded, rep)
	return out, nil
}

// Compare classifies how each analyte changed between two stored reports.
func (s *Service) Compare(ctx context.Context, previousID, currentID uuid.UUID) ([]labparse.Comparison, error) {
	prev, err := s.reports.GetByID(ctx, previousID)
	if err != nil {
		return nil, fmt.Errorf("previous report: %w", err)
	}
	cur, err := s.reports.GetByID(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("current report: %w", err)
	}
	return labparse.Compare(prev.Result.Records, cur.Result.Records), nil
}
