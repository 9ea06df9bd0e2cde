package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
	"github.com/ecgvault/ecgvault/internal/platform/pipeline"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// Service is the patient repository boundary: it encrypts on the way in,
// decrypts on the way out, enforces tenant scope and writes the audit
// trail.
type Service struct {
	store  Store
	codec  codec
	audit  *hipaa.AuditRecorder
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, cipher *hipaa.FieldCipher, audit *hipaa.AuditRecorder, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", collection).Logger()
	return &Service{
		store:  store,
		codec:  codec{cipher: cipher, logger: logger},
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (*Patient, error) {
	tenantID, err := tenant.Assign(actor, collection, in.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &Patient{
		ID:         uuid.New(),
		Name:       in.Name,
		NationalID: in.NationalID,
		BirthDate:  in.BirthDate,
		Address:    in.Address,
		Phone:      in.Phone,
		Email:      in.Email,
		TenantID:   tenantID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := canonicalize(p); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, p); err != nil {
		return nil, fmt.Errorf("patient create: %w", err)
	}

	d, err := s.codec.encode(p)
	if err != nil {
		return nil, fmt.Errorf("patient create: %w", err)
	}
	if err := s.store.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("patient create: %w", err)
	}

	s.record(ctx, actor, hipaa.ActionCreate, p, nil, p)
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID, opts ViewOptions) (*Patient, error) {
	p, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if opts.Audit {
		s.record(ctx, actor, hipaa.ActionView, p, nil, nil)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, q ListQuery) (pipeline.Page[*Patient], error) {
	less, err := comparator(q.Sort, q.Order)
	if err != nil {
		return pipeline.Page[*Patient]{}, err
	}

	var birthDate string
	if q.BirthDate != "" {
		var ok bool
		if birthDate, ok = CanonicalBirthDate(q.BirthDate); !ok {
			return pipeline.Page[*Patient]{}, apperr.Invalid("birth_date", "expected YYYY-MM-DD, RFC3339 or DD/MM/YYYY")
		}
	}

	nationalID := CanonicalNationalID(q.NationalID)
	if q.NationalID != "" && nationalID == "" {
		return pipeline.Page[*Patient]{}, apperr.Invalid("national_id", "national id filter must contain digits")
	}

	scope := tenant.ScopeFor(actor, q.TenantIDs)
	if scope.NoAccess() {
		if q.Audit {
			s.recordList(ctx, actor, scope)
		}
		return pipeline.Empty[*Patient](q.Page, q.PageSize), nil
	}

	docs, err := s.store.List(ctx, StoreFilter{Scope: scope, Email: canonicalEmail(q.Email)})
	if err != nil {
		return pipeline.Page[*Patient]{}, fmt.Errorf("patient list: %w", err)
	}
	if q.Audit {
		s.recordList(ctx, actor, scope)
	}

	match := pipeline.All(
		func(p *Patient) bool { return pipeline.Contains(p.Name, q.Name) },
		func(p *Patient) bool { return strings.Contains(p.NationalID, nationalID) },
		func(p *Patient) bool { return birthDate == "" || p.BirthDate == birthDate },
	)

	return pipeline.Run(docs, s.codec.decode, pipeline.Query[*Patient]{
		Match:    match,
		Less:     less,
		Page:     q.Page,
		PageSize: q.PageSize,
	}), nil
}

func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, ch Changes) (*Patient, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *current
	apply(&next.Name, ch.Name)
	apply(&next.NationalID, ch.NationalID)
	apply(&next.BirthDate, ch.BirthDate)
	apply(&next.Address, ch.Address)
	apply(&next.Phone, ch.Phone)
	apply(&next.Email, ch.Email)
	next.UpdatedAt = s.now()

	if err := canonicalize(&next); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, &next); err != nil {
		return nil, fmt.Errorf("patient update: %w", err)
	}

	d, err := s.codec.encode(&next)
	if err != nil {
		return nil, fmt.Errorf("patient update: %w", err)
	}
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("patient update: %w", err)
	}

	s.record(ctx, actor, hipaa.ActionUpdate, &next, current, &next)
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	s.record(ctx, actor, hipaa.ActionDelete, current, current, nil)
	return nil
}

// Exists reports whether patientID names a patient of tenantID.
func (s *Service) Exists(ctx context.Context, tenantID, patientID uuid.UUID) (bool, error) {
	d, err := s.store.Get(ctx, patientID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return d.TenantID == tenantID, nil
}

// Names returns the decrypted name of every patient inside scope.
func (s *Service) Names(ctx context.Context, scope tenant.Scope) (map[uuid.UUID]string, error) {
	if scope.NoAccess() {
		return map[uuid.UUID]string{}, nil
	}
	docs, err := s.store.List(ctx, StoreFilter{Scope: scope})
	if err != nil {
		return nil, fmt.Errorf("patient names: %w", err)
	}
	names := make(map[uuid.UUID]string, len(docs))
	for _, d := range docs {
		names[d.ID] = s.codec.decode(d).Name
	}
	return names, nil
}

// load fetches and decodes id, refusing records outside the actor's scope.
func (s *Service) load(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Patient, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tenant.ScopeFor(actor, nil).Contains(d.TenantID) {
		return nil, &apperr.TenantMismatchError{Collection: collection, ID: id}
	}
	return s.codec.decode(d), nil
}

// checkUnique decrypt-scans the tenant for another patient holding the
// same national id.
func (s *Service) checkUnique(ctx context.Context, p *Patient) error {
	docs, err := s.store.List(ctx, StoreFilter{Scope: tenant.Of(p.TenantID)})
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == p.ID {
			continue
		}
		if s.codec.decode(d).NationalID == p.NationalID {
			return &apperr.DuplicateError{Collection: collection, Field: "national_id", TenantID: p.TenantID}
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action hipaa.AuditAction, p, before, after *Patient) {
	id, tid := p.ID, p.TenantID
	entry := hipaa.AuditEntry{
		ActorID:        actor.ID,
		Action:         action,
		Description:    fmt.Sprintf("patient %s", action),
		CollectionName: collection,
		DocumentID:     &id,
		IP:             actor.IP,
		UserAgent:      actor.UserAgent,
		TenantID:       &tid,
	}
	if before != nil {
		entry.Before = hipaa.Snapshot(before.AuditSnapshot())
	}
	if after != nil {
		entry.After = hipaa.Snapshot(after.AuditSnapshot())
	}
	s.audit.Record(ctx, entry)
}

// recordList writes one view entry for a whole list read. The entry carries
// the tenant only when the scope names exactly one.
func (s *Service) recordList(ctx context.Context, actor auth.Actor, scope tenant.Scope) {
	entry := hipaa.AuditEntry{
		ActorID:        actor.ID,
		Action:         hipaa.ActionView,
		Description:    "patients listed",
		CollectionName: collection,
		IP:             actor.IP,
		UserAgent:      actor.UserAgent,
	}
	if tid, ok := scope.Single(); ok {
		entry.TenantID = &tid
	}
	s.audit.Record(ctx, entry)
}

func canonicalize(p *Patient) error {
	var errs errsx.Map

	p.Name = strings.TrimSpace(p.Name)
	p.Address = strings.TrimSpace(p.Address)
	p.Phone = strings.TrimSpace(p.Phone)
	p.NationalID = CanonicalNationalID(p.NationalID)
	p.Email = canonicalEmail(p.Email)

	if p.Name == "" {
		errs.Set("name", "name is required")
	}
	if p.NationalID == "" {
		errs.Set("national_id", "national id is required")
	}
	if p.Address == "" {
		errs.Set("address", "address is required")
	}
	if p.BirthDate == "" {
		errs.Set("birth_date", "birth date is required")
	} else if bd, ok := CanonicalBirthDate(p.BirthDate); ok {
		p.BirthDate = bd
	} else {
		errs.Set("birth_date", "expected YYYY-MM-DD, RFC3339 or DD/MM/YYYY")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		errs.Set("email", "invalid email")
	}

	return apperr.NewValidationError(errs)
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
