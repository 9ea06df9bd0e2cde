package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// StoreFilter holds the predicates a store can evaluate without
// decrypting anything.
type StoreFilter struct {
	Scope tenant.Scope
	// Email is a case-insensitive substring.
	Email string
}

// Store persists patient documents. Get returns an apperr.NotFoundError
// for an unknown id.
type Store interface {
	Insert(ctx context.Context, d *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	List(ctx context.Context, f StoreFilter) ([]*Document, error)
	Update(ctx context.Context, d *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
}
