package labreport

import (
	"context"

	"github.com/google/uuid"
)

// ReportRepository stores extracted reports together with their analyte rows.
// Create assigns ID when it is uuid.Nil and sets CreatedAt.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]*Report, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
