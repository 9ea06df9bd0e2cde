package exam

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/blobstore"
	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
	"github.com/ecgvault/ecgvault/internal/platform/pipeline"
	"github.com/ecgvault/ecgvault/internal/platform/tenant"
)

// PatientDirectory answers the patient questions exams depend on.
type PatientDirectory interface {
	Exists(ctx context.Context, tenantID, patientID uuid.UUID) (bool, error)
	Names(ctx context.Context, scope tenant.Scope) (map[uuid.UUID]string, error)
}

// Service is the exam repository boundary. Besides encryption, scoping
// and auditing it owns the exam lifecycle and the stored file.
type Service struct {
	store    Store
	codec    codec
	patients PatientDirectory
	objects  blobstore.ObjectStore
	audit    *hipaa.AuditRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, cipher *hipaa.FieldCipher, patients PatientDirectory, objects blobstore.ObjectStore, audit *hipaa.AuditRecorder, logger zerolog.Logger) *Service {
	logger = logger.With().Str("service", collection).Logger()
	return &Service{
		store:    store,
		codec:    codec{cipher: cipher, logger: logger},
		patients: patients,
		objects:  objects,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (*Exam, error) {
	tenantID, err := tenant.Assign(actor, collection, in.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e := &Exam{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		ExamTypeID:    in.ExamTypeID,
		TechnicianID:  in.TechnicianID,
		TenantID:      tenantID,
		FileReference: strings.TrimSpace(in.FileReference),
		FileKey:       strings.TrimSpace(in.FileKey),
		Status:        StatusPending,
		Measurements:  in.Measurements,
		ExamDate:      in.ExamDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validate(e); err != nil {
		return nil, err
	}

	ok, err := s.patients.Exists(ctx, tenantID, e.PatientID)
	if err != nil {
		return nil, fmt.Errorf("exam create: %w", err)
	}
	if !ok {
		return nil, apperr.Invalid("patient_id", "patient not found in tenant")
	}

	d, err := s.codec.encode(e)
	if err != nil {
		return nil, fmt.Errorf("exam create: %w", err)
	}
	if err := s.store.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("exam create: %w", err)
	}

	created, err := s.reload(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("exam create: %w", err)
	}
	s.record(ctx, actor, hipaa.ActionCreate, "exam created", created, nil, created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID, opts ViewOptions) (*Exam, error) {
	e, _, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if opts.Audit {
		s.record(ctx, actor, hipaa.ActionView, "exam viewed", e, nil, nil)
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, q ListQuery) (pipeline.Page[*Exam], error) {
	var status Status
	if q.Status != "" {
		var ok bool
		if status, ok = ParseStatus(q.Status); !ok {
			return pipeline.Page[*Exam]{}, apperr.Invalid("status", fmt.Sprintf("unknown status %q", q.Status))
		}
	}

	scope := tenant.ScopeFor(actor, q.TenantIDs)
	if scope.NoAccess() {
		if q.Audit {
			s.recordList(ctx, actor, scope)
		}
		return pipeline.Empty[*Exam](q.Page, q.PageSize), nil
	}

	docs, err := s.store.List(ctx, StoreFilter{
		Scope:        scope,
		ExamTypeID:   q.ExamTypeID,
		PatientID:    q.PatientID,
		TechnicianID: q.TechnicianID,
		From:         q.From,
		To:           q.To,
	})
	if err != nil {
		return pipeline.Page[*Exam]{}, fmt.Errorf("exam list: %w", err)
	}

	var byPatientName func(*Exam) bool
	if q.PatientName != "" {
		names, err := s.patients.Names(ctx, scope)
		if err != nil {
			return pipeline.Page[*Exam]{}, fmt.Errorf("exam list: %w", err)
		}
		byPatientName = func(e *Exam) bool { return pipeline.Contains(names[e.PatientID], q.PatientName) }
	}
	if q.Audit {
		s.recordList(ctx, actor, scope)
	}

	return pipeline.Run(docs, s.codec.decode, pipeline.Query[*Exam]{
		Match: pipeline.All(
			func(e *Exam) bool { return status == "" || e.Status == status },
			byPatientName,
		),
		Less:     defaultOrder,
		Page:     q.Page,
		PageSize: q.PageSize,
	}), nil
}

func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, ch Changes) (*Exam, error) {
	current, stored, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusReportIssued {
		return nil, &apperr.LockedRecordError{Collection: collection, ID: id, Status: string(current.Status)}
	}

	next := *current
	if ch.Status != nil {
		if *ch.Status == StatusReportIssued {
			return nil, apperr.Invalid("status", "reports are issued through the report workflow")
		}
		if !current.Status.canMoveTo(*ch.Status) {
			return nil, apperr.Invalid("status", fmt.Sprintf("cannot move from %s to %s", current.Status, *ch.Status))
		}
		next.Status = *ch.Status
	}
	if ch.ExamTypeID != nil {
		next.ExamTypeID = *ch.ExamTypeID
	}
	if ch.TechnicianID != nil {
		next.TechnicianID = *ch.TechnicianID
	}
	if ch.FileReference != nil {
		next.FileReference = strings.TrimSpace(*ch.FileReference)
	}
	if ch.FileKey != nil {
		next.FileKey = strings.TrimSpace(*ch.FileKey)
	}
	if ch.ExamDate != nil {
		next.ExamDate = *ch.ExamDate
	}
	mergeMeasurements(&next.Measurements, ch.Measurements)
	next.UpdatedAt = s.now()

	if err := validate(&next); err != nil {
		return nil, err
	}

	updated, err := s.write(ctx, &next, stored.Status)
	if err != nil {
		return nil, fmt.Errorf("exam update: %w", err)
	}
	if current.FileKey != "" && current.FileKey != updated.FileKey {
		s.removeObject(ctx, id, current.FileKey)
	}

	s.record(ctx, actor, hipaa.ActionUpdate, "exam updated", updated, current, updated)
	return updated, nil
}

// IssueReport moves an exam to ReportIssued. It is the entry point of the
// report workflow and the only way into that status.
func (s *Service) IssueReport(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Exam, error) {
	current, stored, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case StatusReportIssued:
		return nil, &apperr.LockedRecordError{Collection: collection, ID: id, Status: string(current.Status)}
	case StatusCancelled:
		return nil, apperr.Invalid("status", "cannot issue a report for a cancelled exam")
	}

	next := *current
	next.Status = StatusReportIssued
	next.UpdatedAt = s.now()

	issued, err := s.write(ctx, &next, stored.Status)
	if err != nil {
		return nil, fmt.Errorf("exam issue report: %w", err)
	}
	s.record(ctx, actor, hipaa.ActionUpdate, "exam report issued", issued, current, issued)
	return issued, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	current, _, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if current.Status == StatusReportIssued {
		return &apperr.LockedRecordError{Collection: collection, ID: id, Status: string(current.Status)}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("exam delete: %w", err)
	}
	if current.FileKey != "" {
		s.removeObject(ctx, id, current.FileKey)
	}
	s.record(ctx, actor, hipaa.ActionDelete, "exam deleted", current, current, nil)
	return nil
}

// load fetches id, checks scope and returns both views.
func (s *Service) load(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Exam, *Document, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !tenant.ScopeFor(actor, nil).Contains(d.TenantID) {
		return nil, nil, &apperr.TenantMismatchError{Collection: collection, ID: id}
	}
	return s.codec.decode(d), d, nil
}

func (s *Service) reload(ctx context.Context, id uuid.UUID) (*Exam, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.codec.decode(d), nil
}

// write encodes e and stores it if the status token is still
// expectedStatus.
func (s *Service) write(ctx context.Context, e *Exam, expectedStatus string) (*Exam, error) {
	d, err := s.codec.encode(e)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, d, expectedStatus); err != nil {
		return nil, err
	}
	return s.reload(ctx, e.ID)
}

// removeObject deletes a stored file. Failures are logged; the record
// operation has already succeeded.
func (s *Service) removeObject(ctx context.Context, id uuid.UUID, key string) {
	if err := s.objects.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).
			Str("document_id", id.String()).
			Msg("exam file removal failed")
	}
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action hipaa.AuditAction, desc string, e, before, after *Exam) {
	id, tid := e.ID, e.TenantID
	entry := hipaa.AuditEntry{
		ActorID:        actor.ID,
		Action:         action,
		Description:    desc,
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

// recordList writes one aggregate view entry for a list read.
func (s *Service) recordList(ctx context.Context, actor auth.Actor, scope tenant.Scope) {
	entry := hipaa.AuditEntry{
		ActorID:        actor.ID,
		Action:         hipaa.ActionView,
		Description:    "exams listed",
		CollectionName: collection,
		IP:             actor.IP,
		UserAgent:      actor.UserAgent,
	}
	if tid, ok := scope.Single(); ok {
		entry.TenantID = &tid
	}
	s.audit.Record(ctx, entry)
}

// defaultOrder puts exams still awaiting a report first, urgent ones
// ahead of the rest, newest first within each group.
func defaultOrder(a, b *Exam) int {
	ai, bi := a.Status == StatusReportIssued, b.Status == StatusReportIssued
	switch {
	case ai != bi:
		if ai {
			return 1
		}
		return -1
	case !ai && a.Urgent != b.Urgent:
		if a.Urgent {
			return -1
		}
		return 1
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

func validate(e *Exam) error {
	var errs errsx.Map
	if e.PatientID == uuid.Nil {
		errs.Set("patient_id", "patient is required")
	}
	if e.ExamTypeID == uuid.Nil {
		errs.Set("exam_type_id", "exam type is required")
	}
	if e.TechnicianID == uuid.Nil {
		errs.Set("technician_id", "technician is required")
	}
	if e.FileReference == "" {
		errs.Set("file_reference", "file reference is required")
	}
	if e.ExamDate.IsZero() {
		errs.Set("exam_date", "exam date is required")
	}

	m := e.Measurements
	for name, v := range map[string]*float64{
		"pr_segment": m.PRSegment, "heart_rate": m.HeartRate, "qrs_duration": m.QRSDuration,
		"height": m.Height, "weight": m.Weight,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			errs.Set(name, "must be a non-negative number")
		}
	}
	if v := m.QRSAxis; v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < -180 || *v > 180) {
		errs.Set("qrs_axis", "must be between -180 and 180")
	}
	return apperr.NewValidationError(errs)
}

func mergeMeasurements(dst *Measurements, src Measurements) {
	for _, f := range []struct{ dst, src **float64 }{
		{&dst.PRSegment, &src.PRSegment},
		{&dst.HeartRate, &src.HeartRate},
		{&dst.QRSDuration, &src.QRSDuration},
		{&dst.QRSAxis, &src.QRSAxis},
		{&dst.Height, &src.Height},
		{&dst.Weight, &src.Weight},
	} {
		if *f.src != nil {
			*f.dst = *f.src
		}
	}
}
