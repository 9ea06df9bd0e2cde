package exam

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/db"
)

// StorePG stores exams in the exams table. The urgent flag is read from
// exam_types.
type StorePG struct {
	conn db.Querier
}

func NewStorePG(conn db.Querier) *StorePG {
	return &StorePG{conn: conn}
}

func (s *StorePG) q(ctx context.Context) db.Querier {
	return db.From(ctx, s.conn)
}

const writeCols = `id, patient_id, exam_type_id, technician_id, tenant_id,
	file_reference, file_key, status,
	pr_segment, heart_rate, qrs_duration, qrs_axis, height, weight,
	exam_date, created_at, updated_at`

const selectCols = `e.id, e.patient_id, e.exam_type_id, e.technician_id, e.tenant_id,
	e.file_reference, e.file_key, e.status,
	e.pr_segment, e.heart_rate, e.qrs_duration, e.qrs_axis, e.height, e.weight,
	COALESCE(t.urgent, false), e.exam_date, e.created_at, e.updated_at`

const fromJoined = ` FROM exams e LEFT JOIN exam_types t ON t.id = e.exam_type_id`

func (s *StorePG) Insert(ctx context.Context, d *Document) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO exams (`+writeCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.PatientID, d.ExamTypeID, d.TechnicianID, d.TenantID,
		d.FileReference, d.FileKey, d.Status,
		d.PRSegment, d.HeartRate, d.QRSDuration, d.QRSAxis, d.Height, d.Weight,
		d.ExamDate, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("exam insert: %w", err)
	}
	return nil
}

func (s *StorePG) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(s.q(ctx).QueryRow(ctx, `SELECT `+selectCols+fromJoined+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("exam get: %w", err)
	}
	return d, nil
}

func (s *StorePG) List(ctx context.Context, f StoreFilter) ([]*Document, error) {
	if f.Scope.NoAccess() {
		return nil, nil
	}

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if !f.Scope.Unrestricted() {
		add("e.tenant_id = ANY(?::uuid[])", f.Scope.Strings())
	}
	if f.ExamTypeID != nil {
		add("e.exam_type_id = ?", *f.ExamTypeID)
	}
	if f.PatientID != nil {
		add("e.patient_id = ?", *f.PatientID)
	}
	if f.TechnicianID != nil {
		add("e.technician_id = ?", *f.TechnicianID)
	}
	if f.From != nil {
		add("e.exam_date >= ?", *f.From)
	}
	if f.To != nil {
		add("e.exam_date <= ?", *f.To)
	}

	query := `SELECT ` + selectCols + fromJoined
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY e.created_at DESC, e.id"

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exam list: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("exam list: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update is a compare-and-swap on the status token: a concurrent write
// that changed the status makes it affect no row.
func (s *StorePG) Update(ctx context.Context, d *Document, expectedStatus string) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE exams SET
			exam_type_id = $2, technician_id = $3,
			file_reference = $4, file_key = $5, status = $6,
			pr_segment = $7, heart_rate = $8, qrs_duration = $9, qrs_axis = $10, height = $11, weight = $12,
			exam_date = $13, updated_at = $14
		WHERE id = $1 AND status = $15`,
		d.ID, d.ExamTypeID, d.TechnicianID,
		d.FileReference, d.FileKey, d.Status,
		d.PRSegment, d.HeartRate, d.QRSDuration, d.QRSAxis, d.Height, d.Weight,
		d.ExamDate, d.UpdatedAt, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("exam update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exam update %s: %w", d.ID, apperr.ErrConflict)
	}
	return nil
}

func (s *StorePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("exam delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(collection, id)
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.PatientID, &d.ExamTypeID, &d.TechnicianID, &d.TenantID,
		&d.FileReference, &d.FileKey, &d.Status,
		&d.PRSegment, &d.HeartRate, &d.QRSDuration, &d.QRSAxis, &d.Height, &d.Weight,
		&d.Urgent, &d.ExamDate, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
