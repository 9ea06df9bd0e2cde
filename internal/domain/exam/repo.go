package exam

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// StoreFilter holds the predicates a store evaluates on plaintext
// columns.
type StoreFilter struct {
	Scope        tenant.Scope
	ExamTypeID   *uuid.UUID
	PatientID    *uuid.UUID
	TechnicianID *uuid.UUID
	From         *time.Time
	To           *time.Time
}

// Store persists exam documents. Get and List fill Urgent from the exam
// type. Update writes d only while the stored status token still equals
// expectedStatus, returning apperr.ErrConflict otherwise.
type Store interface {
	Insert(ctx context.Context, d *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	List(ctx context.Context, f StoreFilter) ([]*Document, error)
	Update(ctx context.Context, d *Document, expectedStatus string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
