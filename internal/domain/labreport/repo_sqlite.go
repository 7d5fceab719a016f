package labreport

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labextract/labextract/internal/platform/labparse"
)

// sqliteSchema mirrors migrations/001_lab_reports.sql with SQLite types.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lab_report (
    id              TEXT PRIMARY KEY,
    source_name     TEXT NOT NULL DEFAULT '',
    laboratory      TEXT NOT NULL,
    laboratory_name TEXT NOT NULL DEFAULT '',
    report_number   TEXT NOT NULL DEFAULT '',
    collection_date TEXT NOT NULL DEFAULT '',
    patient_id      TEXT NOT NULL DEFAULT '',
    patient_name    TEXT NOT NULL DEFAULT '',
    record_count    INTEGER NOT NULL DEFAULT 0,
    abnormal_count  INTEGER NOT NULL DEFAULT 0,
    result          TEXT NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lab_report_patient ON lab_report (patient_id, created_at);
CREATE TABLE IF NOT EXISTS lab_result (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id          TEXT NOT NULL REFERENCES lab_report (id) ON DELETE CASCADE,
    position           INTEGER NOT NULL,
    category           TEXT NOT NULL DEFAULT '',
    analyte_name       TEXT NOT NULL,
    code               TEXT NOT NULL DEFAULT '',
    raw_result         TEXT NOT NULL,
    numeric_result     REAL,
    unit               TEXT NOT NULL DEFAULT '',
    reference_min      REAL,
    reference_max      REAL,
    reference_text     TEXT NOT NULL DEFAULT '',
    is_abnormal        INTEGER NOT NULL DEFAULT 0,
    abnormal_direction TEXT NOT NULL DEFAULT '',
    UNIQUE (report_id, position)
);`

// sqliteTime is fixed width so created_at sorts as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// =========== Report Repository (SQLite) ===========

type reportRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewReportRepoSQLite creates the tables if needed and returns a repository
// backed by conn.
func NewReportRepoSQLite(ctx context.Context, conn *sql.DB) (ReportRepository, error) {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &reportRepoSQLite{db: conn, now: time.Now}, nil
}

func scanReportSQLite(row interface{ Scan(...interface{}) error }) (*Report, error) {
	var r Report
	var id, raw, created string
	err := row.Scan(&id, &r.SourceName, &r.Laboratory, &r.LaboratoryName, &r.ReportNumber,
		&r.CollectionDate, &r.PatientID, &r.PatientName, &r.RecordCount, &r.AbnormalCount,
		&raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse report id %q: %w", id, err)
	}
	if r.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(raw), &r.Result); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

func (r *reportRepoSQLite) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	payload, err := json.Marshal(rep.Result)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	created := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lab_report (id, source_name, laboratory, laboratory_name, report_number,
			collection_date, patient_id, patient_name, record_count, abnormal_count, result, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID.String(), rep.SourceName, rep.Laboratory, rep.LaboratoryName, rep.ReportNumber,
		rep.CollectionDate, rep.PatientID, rep.PatientName, rep.RecordCount, rep.AbnormalCount,
		string(payload), created.Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("insert lab_report: %w", err)
	}

	for i, row := range labparse.ImportRows(rep.Result) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lab_result (report_id, position, category, analyte_name, code, raw_result,
				numeric_result, unit, reference_min, reference_max, reference_text,
				is_abnormal, abnormal_direction)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rep.ID.String(), i, row.Category, row.AnalyteName, row.Code, row.RawResult,
			nullFloat(row.NumericResult), row.Unit, nullFloat(row.ReferenceMin), nullFloat(row.ReferenceMax),
			row.ReferenceText, row.IsAbnormal, string(row.AbnormalDirection))
		if err != nil {
			return fmt.Errorf("insert lab_result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	rep.CreatedAt = created
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (r *reportRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReportSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM lab_report WHERE id = ?`, id.String()))
}

func (r *reportRepoSQLite) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lab_report`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx,
		`SELECT `+reportCols+` FROM lab_report ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	return items, total, err
}

func (r *reportRepoSQLite) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lab_report WHERE patient_id = ?`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx,
		`SELECT `+reportCols+` FROM lab_report WHERE patient_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		patientID, limit, offset)
	return items, total, err
}

func (r *reportRepoSQLite) list(ctx context.Context, query string, args ...interface{}) ([]*Report, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := scanReportSQLite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, rows.Err()
}

func (r *reportRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lab_report WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
