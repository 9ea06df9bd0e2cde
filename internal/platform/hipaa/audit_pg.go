package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ecgvault/ecgvault/internal/platform/db"
	"github.com/ecgvault/ecgvault/pkg/pagination"
)

const auditColumns = `id, actor_id, action, description, collection_name, document_id,
	before, after, ip, user_agent, recorded_at, tenant_id`

// AuditStorePG keeps the trail in the audit_logs table. It only ever
// inserts and selects.
type AuditStorePG struct {
	conn db.Querier
}

func NewAuditStorePG(conn db.Querier) *AuditStorePG {
	return &AuditStorePG{conn: conn}
}

func (s *AuditStorePG) Append(ctx context.Context, e *AuditEntry) error {
	q := `INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := db.From(ctx, s.conn).Exec(ctx, q,
		e.ID, e.ActorID, string(e.Action), e.Description, e.CollectionName, e.DocumentID,
		nullableJSON(e.Before), nullableJSON(e.After), e.IP, e.UserAgent, e.Timestamp, e.TenantID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStorePG) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	p := pagination.New(q.Page, q.PageSize)
	if q.Scope.NoAccess() {
		return newAuditPage(p, 0, []*AuditEntry{}), nil
	}

	where, args := auditWhere(q)
	conn := db.From(ctx, s.conn)

	var total int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}
	page := newAuditPage(p, total, []*AuditEntry{})

	rows, err := conn.Query(ctx,
		"SELECT "+auditColumns+" FROM audit_logs"+where+" ORDER BY recorded_at DESC, id DESC "+p.SQL(),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return page, nil
}

// auditWhere builds the WHERE clause for q, numbering placeholders from $1.
func auditWhere(q AuditQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if !q.Scope.Unrestricted() {
		add("tenant_id = ANY(?::uuid[])", q.Scope.Strings())
	}
	if q.ActorID != "" {
		add("actor_id = ?", q.ActorID)
	}
	if q.Action != "" {
		add("action = ?", string(q.Action))
	}
	if q.CollectionName != "" {
		add("collection_name = ?", q.CollectionName)
	}
	if q.DocumentID != nil {
		add("document_id = ?", *q.DocumentID)
	}
	if q.From != nil {
		add("recorded_at >= ?", *q.From)
	}
	if q.To != nil {
		add("recorded_at <= ?", *q.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditEntry(row pgx.Row) (*AuditEntry, error) {
	var e AuditEntry
	var action string
	var before, after []byte
	var documentID, tenantID *uuid.UUID
	if err := row.Scan(
		&e.ID, &e.ActorID, &action, &e.Description, &e.CollectionName, &documentID,
		&before, &after, &e.IP, &e.UserAgent, &e.Timestamp, &tenantID,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = AuditAction(action)
	e.DocumentID = documentID
	e.TenantID = tenantID
	if len(before) > 0 {
		e.Before = json.RawMessage(before)
	}
	if len(after) > 0 {
		e.After = json.RawMessage(after)
	}
	return &e, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
