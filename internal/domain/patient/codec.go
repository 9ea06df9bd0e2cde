package patient

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
)

type codec struct {
	cipher *hipaa.FieldCipher
	logger zerolog.Logger
}

func (c codec) encode(p *Patient) (*Document, error) {
	d := &Document{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}

	fields := []struct {
		name  string
		plain string
		dst   *string
	}{
		{"name", p.Name, &d.Name},
		{"national_id", p.NationalID, &d.NationalID},
		{"birth_date", p.BirthDate, &d.BirthDate},
		{"address", p.Address, &d.Address},
		{"phone", p.Phone, &d.Phone},
	}
	for _, f := range fields {
		token, err := c.cipher.Encode(f.plain)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.name, err)
		}
		*f.dst = token
	}
	return d, nil
}

// decode never fails. Fields that do not decode come back empty, except
// address which passes legacy plaintext through.
func (c codec) decode(d *Document) *Patient {
	dec := c.cipher.NewDecoder(c.logger.With().
		Str("collection", collection).
		Str("document_id", d.ID.String()).
		Logger())

	return &Patient{
		ID:         d.ID,
		Name:       dec.Text("name", d.Name),
		NationalID: dec.Text("national_id", d.NationalID),
		BirthDate:  dec.Text("birth_date", d.BirthDate),
		Address:    dec.Raw("address", d.Address),
		Phone:      dec.Text("phone", d.Phone),
		Email:      d.Email,
		TenantID:   d.TenantID,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
