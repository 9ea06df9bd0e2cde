package exam

import (
	"time"

	"github.com/google/uuid"
)

const collection = "exams"

// Status is the exam lifecycle state.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusCompleted    Status = "Completed"
	StatusReportIssued Status = "ReportIssued"
	StatusCancelled    Status = "Cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusCompleted, StatusReportIssued, StatusCancelled:
		return st, true
	}
	return "", false
}

// transitions lists the status changes a plain update may make.
// ReportIssued is only reachable through IssueReport.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusCancelled},
}

func (s Status) canMoveTo(next Status) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Measurements are the ECG readings. Nil means not measured.
type Measurements struct {
	PRSegment   *float64 `json:"pr_segment,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	QRSDuration *float64 `json:"qrs_duration,omitempty"`
	QRSAxis     *float64 `json:"qrs_axis,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// Exam is the plaintext view of an ECG exam.
type Exam struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ExamTypeID    uuid.UUID `json:"exam_type_id"`
	TechnicianID  uuid.UUID `json:"technician_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	FileReference string    `json:"file_reference"`
	FileKey       string    `json:"file_key,omitempty"`
	Status        Status    `json:"status"`
	Measurements
	Urgent    bool      `json:"urgent"`
	ExamDate  time.Time `json:"exam_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is the stored view of an exam. FileReference, FileKey, Status
// and every measurement hold field cipher tokens; measurements are encoded
// as decimal strings. Urgent comes from the exam type and is never written.
type Document struct {
	ID            uuid.UUID `db:"id"`
	PatientID     uuid.UUID `db:"patient_id"`
	ExamTypeID    uuid.UUID `db:"exam_type_id"`
	TechnicianID  uuid.UUID `db:"technician_id"`
	TenantID      uuid.UUID `db:"tenant_id"`
	FileReference string    `db:"file_reference"`
	FileKey       string    `db:"file_key"`
	Status        string    `db:"status"`
	PRSegment     string    `db:"pr_segment"`
	HeartRate     string    `db:"heart_rate"`
	QRSDuration   string    `db:"qrs_duration"`
	QRSAxis       string    `db:"qrs_axis"`
	Height        string    `db:"height"`
	Weight        string    `db:"weight"`
	Urgent        bool      `db:"urgent"`
	ExamDate      time.Time `db:"exam_date"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Input carries a new exam. A zero TenantID means the caller's only
// tenant.
type Input struct {
	PatientID     uuid.UUID
	ExamTypeID    uuid.UUID
	TechnicianID  uuid.UUID
	TenantID      uuid.UUID
	FileReference string
	FileKey       string
	ExamDate      time.Time
	Measurements
}

// Changes is a partial update. Nil fields, including nil measurements,
// keep their current value.
type Changes struct {
	ExamTypeID    *uuid.UUID
	TechnicianID  *uuid.UUID
	FileReference *string
	FileKey       *string
	Status        *Status
	ExamDate      *time.Time
	Measurements
}

type ViewOptions struct {
	Audit bool
}

// ListQuery is an exam list request. Status and PatientName are evaluated
// after decryption; the id and date predicates run in the store.
type ListQuery struct {
	TenantIDs    []uuid.UUID
	Status       string
	PatientName  string
	ExamTypeID   *uuid.UUID
	PatientID    *uuid.UUID
	TechnicianID *uuid.UUID
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
	// Audit records one view entry for the whole list.
	Audit bool
}

type snapshot struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	ExamTypeID   uuid.UUID `json:"exam_type_id"`
	TechnicianID uuid.UUID `json:"technician_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Status       Status    `json:"status"`
	HasFile      bool      `json:"has_file"`
	Measurements
	ExamDate  time.Time `json:"exam_date"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditSnapshot is the view written to the audit trail. File locations
// are reduced to a flag.
func (e *Exam) AuditSnapshot() any {
	if e == nil {
		return nil
	}
	return snapshot{
		ID:           e.ID,
		PatientID:    e.PatientID,
		ExamTypeID:   e.ExamTypeID,
		TechnicianID: e.TechnicianID,
		TenantID:     e.TenantID,
		Status:       e.Status,
		HasFile:      e.FileReference != "" || e.FileKey != "",
		Measurements: e.Measurements,
		ExamDate:     e.ExamDate,
		UpdatedAt:    e.UpdatedAt,
	}
}
