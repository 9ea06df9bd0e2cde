package patient

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

// StorePG stores patient documents in the patients table.
type StorePG struct {
	conn db.Querier
}

func NewStorePG(conn db.Querier) *StorePG {
	return &StorePG{conn: conn}
}

func (s *StorePG) q(ctx context.Context) db.Querier {
	return db.From(ctx, s.conn)
}

const documentCols = `id, tenant_id, name, national_id, birth_date, address, phone, email, created_at, updated_at`

func (s *StorePG) Insert(ctx context.Context, d *Document) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO patients (`+documentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.TenantID, d.Name, d.NationalID, d.BirthDate, d.Address, d.Phone, d.Email,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patient insert: %w", err)
	}
	return nil
}

func (s *StorePG) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(s.q(ctx).QueryRow(ctx, `SELECT `+documentCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("patient get: %w", err)
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
		add("tenant_id = ANY(?::uuid[])", f.Scope.Strings())
	}
	if f.Email != "" {
		add(`email ILIKE ? ESCAPE '\'`, "%"+escapeLike(f.Email)+"%")
	}

	query := `SELECT ` + documentCols + ` FROM patients`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("patient list: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *StorePG) Update(ctx context.Context, d *Document) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE patients SET
			name = $2, national_id = $3, birth_date = $4, address = $5, phone = $6, email = $7,
			updated_at = $8
		WHERE id = $1`,
		d.ID, d.Name, d.NationalID, d.BirthDate, d.Address, d.Phone, d.Email, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(collection, d.ID)
	}
	return nil
}

func (s *StorePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(collection, id)
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Name, &d.NationalID, &d.BirthDate, &d.Address, &d.Phone, &d.Email,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
