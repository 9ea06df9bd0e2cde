package exam

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
)

type codec struct {
	cipher *hipaa.FieldCipher
	logger zerolog.Logger
}

func formatMeasure(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (c codec) encode(e *Exam) (*Document, error) {
	d := &Document{
		ID:           e.ID,
		PatientID:    e.PatientID,
		ExamTypeID:   e.ExamTypeID,
		TechnicianID: e.TechnicianID,
		TenantID:     e.TenantID,
		ExamDate:     e.ExamDate,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}

	fields := []struct {
		name  string
		plain string
		dst   *string
	}{
		{"file_reference", e.FileReference, &d.FileReference},
		{"file_key", e.FileKey, &d.FileKey},
		{"status", string(e.Status), &d.Status},
		{"pr_segment", formatMeasure(e.PRSegment), &d.PRSegment},
		{"heart_rate", formatMeasure(e.HeartRate), &d.HeartRate},
		{"qrs_duration", formatMeasure(e.QRSDuration), &d.QRSDuration},
		{"qrs_axis", formatMeasure(e.QRSAxis), &d.QRSAxis},
		{"height", formatMeasure(e.Height), &d.Height},
		{"weight", formatMeasure(e.Weight), &d.Weight},
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

// decode never fails. An unreadable status falls back to Pending, an
// unreadable measurement to nil and file locations pass legacy plaintext
// through.
func (c codec) decode(d *Document) *Exam {
	logger := c.logger.With().
		Str("collection", collection).
		Str("document_id", d.ID.String()).
		Logger()
	dec := c.cipher.NewDecoder(logger)

	measure := func(field, token string) *float64 {
		plain := dec.Text(field, token)
		if plain == "" {
			return nil
		}
		v, err := strconv.ParseFloat(plain, 64)
		if err != nil {
			logger.Warn().Str("field", field).Msg("measurement is not a number, dropping it")
			return nil
		}
		return &v
	}

	status, ok := ParseStatus(dec.Raw("status", d.Status))
	if !ok {
		logger.Warn().Str("field", "status").Msg("unknown status, using Pending")
		status = StatusPending
	}

	return &Exam{
		ID:            d.ID,
		PatientID:     d.PatientID,
		ExamTypeID:    d.ExamTypeID,
		TechnicianID:  d.TechnicianID,
		TenantID:      d.TenantID,
		FileReference: dec.Raw("file_reference", d.FileReference),
		FileKey:       dec.Raw("file_key", d.FileKey),
		Status:        status,
		Measurements: Measurements{
			PRSegment:   measure("pr_segment", d.PRSegment),
			HeartRate:   measure("heart_rate", d.HeartRate),
			QRSDuration: measure("qrs_duration", d.QRSDuration),
			QRSAxis:     measure("qrs_axis", d.QRSAxis),
			Height:      measure("height", d.Height),
			Weight:      measure("weight", d.Weight),
		},
		Urgent:    d.Urgent,
		ExamDate:  d.ExamDate,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
