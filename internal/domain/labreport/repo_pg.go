package labreport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labextract/labextract/internal/platform/db"
	"github.com/labextract/labextract/internal/platform/labparse"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Report Repository (PostgreSQL) ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

const reportCols = `id, source_name, laboratory, laboratory_name, report_number,
	collection_date, patient_id, patient_name, record_count, abnormal_count,
	result, created_at`

func scanReportPG(row pgx.Row) (*Report, error) {
	var r Report
	var raw []byte
	err := row.Scan(&r.ID, &r.SourceName, &r.Laboratory, &r.LaboratoryName, &r.ReportNumber,
		&r.CollectionDate, &r.PatientID, &r.PatientName, &r.RecordCount, &r.AbnormalCount,
		&raw, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &r.Result); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", r.ID, err)
	}
	return &r, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	payload, err := json.Marshal(rep.Result)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO lab_report (id, source_name, laboratory, laboratory_name, report_number,
				collection_date, patient_id, patient_name, record_count, abnormal_count, result)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING created_at`,
			rep.ID, rep.SourceName, rep.Laboratory, rep.LaboratoryName, rep.ReportNumber,
			rep.CollectionDate, rep.PatientID, rep.PatientName, rep.RecordCount, rep.AbnormalCount,
			payload).Scan(&rep.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert lab_report: %w", err)
		}
		return insertResultsPG(ctx, tx, rep.ID, labparse.ImportRows(rep.Result))
	})
}

func insertResultsPG(ctx context.Context, tx pgx.Tx, reportID uuid.UUID, rows []labparse.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, row := range rows {
		batch.Queue(`
			INSERT INTO lab_result (report_id, position, category, analyte_name, code, raw_result,
				numeric_result, unit, reference_min, reference_max, reference_text,
				is_abnormal, abnormal_direction)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			reportID, i, row.Category, row.AnalyteName, row.Code, row.RawResult,
			row.NumericResult, row.Unit, row.ReferenceMin, row.ReferenceMax, row.ReferenceText,
			row.IsAbnormal, string(row.AbnormalDirection))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert lab_result: %w", err)
	}
	return nil
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReportPG(r.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM lab_report WHERE id = $1`, id))
}

func (r *reportRepoPG) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lab_report`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := listReportsPG(ctx, r.pool,
		`SELECT `+reportCols+` FROM lab_report ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *reportRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lab_report WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := listReportsPG(ctx, r.pool,
		`SELECT `+reportCols+` FROM lab_report WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	return items, total, err
}

func listReportsPG(ctx context.Context, q queryable, sql string, args ...interface{}) ([]*Report, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := scanReportPG(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, rows.Err()
}

// Delete removes the report; its lab_result rows go with it by cascade.
func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM lab_report WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
