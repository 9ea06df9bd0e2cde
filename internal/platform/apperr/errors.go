// Package apperr defines the error kinds returned by the record core.
// Every typed error unwraps to one of the sentinels below so callers can
// classify failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
	ErrLocked         = errors.New("record is locked")
	ErrTenantMismatch = errors.New("record outside tenant scope")
	ErrDecode         = errors.New("field decode failed")
	ErrConflict       = errors.New("record changed concurrently")
)

// ValidationError reports bad input shape. Fields holds one entry per
// offending field.
type ValidationError struct {
	Fields errsx.Map
}

// NewValidationError builds a ValidationError from collected field errors.
// It returns nil when fields is empty.
func NewValidationError(fields errsx.Map) error {
	if fields.IsEmpty() {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Invalid is a shortcut for a ValidationError carrying a single field.
func Invalid(field string, msg string) error {
	var fields errsx.Map
	fields.Set(field, msg)
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if e.Fields.IsEmpty() {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s: %v", ErrValidation, e.Fields.AsError())
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Collection string
	ID         uuid.UUID
}

func NotFound(collection string, id uuid.UUID) error {
	return &NotFoundError{Collection: collection, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collection, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateError reports a uniqueness violation found by decrypt-scan.
type DuplicateError struct {
	Collection string
	Field      string
	TenantID   uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s already registered in tenant %s: %v", e.Collection, e.Field, e.TenantID, ErrDuplicate)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// LockedRecordError reports a mutation attempted on a record whose
// lifecycle no longer allows it.
type LockedRecordError struct {
	Collection string
	ID         uuid.UUID
	Status     string
}

func (e *LockedRecordError) Error() string {
	return fmt.Sprintf("%s %s is %s: %v", e.Collection, e.ID, e.Status, ErrLocked)
}

func (e *LockedRecordError) Unwrap() error { return ErrLocked }

type TenantMismatchError struct {
	Collection string
	ID         uuid.UUID
}

func (e *TenantMismatchError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("%s: %v", e.Collection, ErrTenantMismatch)
	}
	return fmt.Sprintf("%s %s: %v", e.Collection, e.ID, ErrTenantMismatch)
}

func (e *TenantMismatchError) Unwrap() error { return ErrTenantMismatch }

// DecodeError is returned by the field cipher when a token is malformed or
// fails authentication. Cause is never the plaintext.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%v: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrDecode, e.Cause}
	}
	return []error{ErrDecode}
}

// HTTPStatus maps an error kind to the HTTP status the API layer reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrLocked):
		return http.StatusLocked
	case errors.Is(err, ErrTenantMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// EchoError converts err for an echo handler. Internal errors keep their
// cause off the response body.
func EchoError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
