package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
	"github.com/ecgvault/ecgvault/pkg/pagination"
)

// AuditAction is the kind of event an AuditEntry records.
type AuditAction string

const (
	ActionCreate        AuditAction = "create"
	ActionUpdate        AuditAction = "update"
	ActionDelete        AuditAction = "delete"
	ActionLogin         AuditAction = "login"
	ActionLogout        AuditAction = "logout"
	ActionRefreshToken  AuditAction = "refresh_token"
	ActionUpload        AuditAction = "upload"
	ActionPasswordReset AuditAction = "password_reset"
	ActionView          AuditAction = "view"
	ActionExport        AuditAction = "export"
	ActionImport        AuditAction = "import"
	ActionRecreate      AuditAction = "recreate"
)

var validActions = map[AuditAction]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionLogin: true, ActionLogout: true, ActionRefreshToken: true,
	ActionUpload: true, ActionPasswordReset: true, ActionView: true,
	ActionExport: true, ActionImport: true, ActionRecreate: true,
}

func (a AuditAction) Valid() bool { return validActions[a] }

// AuditEntry is one append-only record of the audit trail. Before and After
// hold masked snapshots and are nil when not applicable.
type AuditEntry struct {
	ID             uuid.UUID       `json:"id"`
	ActorID        string          `json:"actor_id"`
	Action         AuditAction     `json:"action"`
	Description    string          `json:"description,omitempty"`
	CollectionName string          `json:"collection_name,omitempty"`
	DocumentID     *uuid.UUID      `json:"document_id,omitempty"`
	Before         json.RawMessage `json:"before,omitempty"`
	After          json.RawMessage `json:"after,omitempty"`
	IP             string          `json:"ip"`
	UserAgent      string          `json:"user_agent"`
	Timestamp      time.Time       `json:"timestamp"`
	TenantID       *uuid.UUID      `json:"tenant_id,omitempty"`
}

// Validate checks the fields every entry must carry.
func (e *AuditEntry) Validate() error {
	var errs errsx.Map
	if e.ActorID == "" {
		errs.Set("actor_id", "actor is required")
	}
	if !e.Action.Valid() {
		errs.Set("action", fmt.Sprintf("unknown action %q", e.Action))
	}
	if e.IP == "" {
		errs.Set("ip", "ip is required")
	}
	if e.UserAgent == "" {
		errs.Set("user_agent", "user agent is required")
	}
	return apperr.NewValidationError(errs)
}

// Snapshot marshals a masked record view for Before/After. A nil view or
// one that fails to marshal yields nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return raw
}

// AuditQuery filters the trail. Zero fields do not filter, except Scope:
// entries are only visible inside it, and tenant-less entries only to an
// unrestricted scope.
type AuditQuery struct {
	ActorID        string
	Action         AuditAction
	CollectionName string
	DocumentID     *uuid.UUID
	Scope          tenant.Scope
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// AuditPage is one page of a query, newest entries first.
type AuditPage struct {
	Entries    []*AuditEntry `json:"entries"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	HasNext    bool          `json:"has_next"`
}

func newAuditPage(p pagination.Params, total int, entries []*AuditEntry) *AuditPage {
	return &AuditPage{
		Entries:    entries,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(total),
		HasNext:    p.HasNext(total),
	}
}

// AuditStore persists audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, q AuditQuery) (*AuditPage, error)
}

// AuditRecorder writes entries to an AuditStore without blocking the
// caller. Persistence failures are logged and dropped; they never reach
// the operation that produced the entry.
type AuditRecorder struct {
	store  AuditStore
	logger zerolog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewAuditRecorder(store AuditStore, logger zerolog.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record validates entry, stamps it and persists it in the background.
// The write outlives ctx cancellation but keeps its values.
func (r *AuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	if err := entry.Validate(); err != nil {
		r.logEntry(r.logger.Error().Err(err), &entry).Msg("audit entry dropped")
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logEntry(r.logger.Error(), &entry).Interface("panic", p).Msg("audit write panicked")
			}
		}()
		if err := r.store.Append(detached, &entry); err != nil {
			r.logEntry(r.logger.Error().Err(err), &entry).Msg("audit write failed")
		}
	}()
}

// Flush blocks until every write started by Record has finished.
func (r *AuditRecorder) Flush() {
	r.wg.Wait()
}

// Query reads the trail through the underlying store.
func (r *AuditRecorder) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	return r.store.Query(ctx, q)
}

func (r *AuditRecorder) logEntry(evt *zerolog.Event, e *AuditEntry) *zerolog.Event {
	evt = evt.
		Str("actor_id", e.ActorID).
		Str("action", string(e.Action)).
		Str("collection", e.CollectionName)
	if e.DocumentID != nil {
		evt = evt.Str("document_id", e.DocumentID.String())
	}
	return evt
}
