package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
)

const collection = "patients"

// Patient is the plaintext view of a patient record.
type Patient struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	NationalID string    `json:"national_id"`
	BirthDate  string    `json:"birth_date"`
	Address    string    `json:"address"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	TenantID   uuid.UUID `json:"tenant_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Document is the stored view of a patient. Name, NationalID, BirthDate,
// Address and Phone hold field cipher tokens; Email is stored in the clear
// so the store can filter on it.
type Document struct {
	ID         uuid.UUID `db:"id"`
	TenantID   uuid.UUID `db:"tenant_id"`
	Name       string    `db:"name"`
	NationalID string    `db:"national_id"`
	BirthDate  string    `db:"birth_date"`
	Address    string    `db:"address"`
	Phone      string    `db:"phone"`
	Email      string    `db:"email"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Input carries the attributes of a new patient. A zero TenantID means the
// caller's only tenant.
type Input struct {
	Name       string
	NationalID string
	BirthDate  string
	Address    string
	Phone      string
	Email      string
	TenantID   uuid.UUID
}

// Changes is a partial update. Nil fields keep their current value.
type Changes struct {
	Name       *string
	NationalID *string
	BirthDate  *string
	Address    *string
	Phone      *string
	Email      *string
}

// ViewOptions controls read behaviour.
type ViewOptions struct {
	// Audit records a view entry for the read.
	Audit bool
}

// ListQuery is a patient list request. TenantIDs narrows the caller's
// scope; it never widens it.
type ListQuery struct {
	TenantIDs  []uuid.UUID
	Name       string
	NationalID string
	Email      string
	BirthDate  string
	Sort       string
	Order      string
	Page       int
	PageSize   int
	// Audit records one view entry for the whole list.
	Audit bool
}

type snapshot struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Name       string    `json:"name"`
	NationalID string    `json:"national_id"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditSnapshot is the masked view written to the audit trail. Address
// and birth date are left out.
func (p *Patient) AuditSnapshot() any {
	if p == nil {
		return nil
	}
	s := snapshot{
		ID:         p.ID,
		TenantID:   p.TenantID,
		Name:       p.Name,
		NationalID: hipaa.MaskNationalID(p.NationalID),
		Phone:      hipaa.MaskPhone(p.Phone),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.Email != "" {
		s.Email = hipaa.MaskEmail(p.Email)
	}
	return s
}
