package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

func TestTypedErrors_UnwrapToSentinels(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"validation", Invalid("tenant_id", "invalid tenant reference"), ErrValidation, http.StatusBadRequest},
		{"not found", NotFound("patients", id), ErrNotFound, http.StatusNotFound},
		{"duplicate", &DuplicateError{Collection: "patients", Field: "national_id", TenantID: id}, ErrDuplicate, http.StatusConflict},
		{"locked", &LockedRecordError{Collection: "exams", ID: id, Status: "ReportIssued"}, ErrLocked, http.StatusLocked},
		{"tenant mismatch", &TenantMismatchError{Collection: "exams", ID: id}, ErrTenantMismatch, http.StatusForbidden},
		{"decode", &DecodeError{Reason: "malformed token"}, ErrDecode, http.StatusInternalServerError},
		{"conflict", fmt.Errorf("exam update: %w", ErrConflict), ErrConflict, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("op: %w", tc.err)
			if !errors.Is(wrapped, tc.sentinel) {
				t.Fatalf("expected %v to match sentinel %v", wrapped, tc.sentinel)
			}
			if got := HTTPStatus(wrapped); got != tc.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestNewValidationError_EmptyIsNil(t *testing.T) {
	var fields errsx.Map
	if err := NewValidationError(fields); err != nil {
		t.Fatalf("expected nil for empty field map, got %v", err)
	}

	fields.Set("name", "name is required")
	err := NewValidationError(fields)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if _, ok := verr.Fields["name"]; !ok {
		t.Error("expected name entry in field map")
	}
}

func TestDecodeError_KeepsCause(t *testing.T) {
	cause := errors.New("cipher: message authentication failed")
	err := &DecodeError{Reason: "open", Cause: cause}
	if !errors.Is(err, ErrDecode) {
		t.Error("expected ErrDecode")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}

func TestHTTPStatus_Nil(t *testing.T) {
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Errorf("HTTPStatus(nil) = %d, want 200", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(unknown) = %d, want 500", got)
	}
}

func TestEchoError(t *testing.T) {
	he := EchoError(&LockedRecordError{Collection: "exams", Status: "ReportIssued"})
	if he.Code != http.StatusLocked {
		t.Errorf("Code = %d, want 423", he.Code)
	}

	cause := errors.New("connection reset by peer")
	he = EchoError(fmt.Errorf("exam list: %w", cause))
	if he.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d, want 500", he.Code)
	}
	if he.Message != "internal error" {
		t.Errorf("internal cause leaked into message: %v", he.Message)
	}
	if !errors.Is(he.Internal, cause) {
		t.Error("cause should be kept as the internal error")
	}
}
