// Package apperr defines the error taxonomy shared by the client and the local backend.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("validation failed")
	ErrRemote          = errors.New("remote error")
	ErrConnectivity    = errors.New("backend unreachable")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionReplaced = errors.New("session replaced by a newer connection")
)

// ValidationError is a local, pre-network failure raised while constructing
// or mutating an entity.
type ValidationError struct {
	Entity string
	Field  string
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("%s: invalid %s: %v", e.Entity, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap exposes both the cause and ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// Invalid builds a ValidationError for field.
func Invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// Invalidf builds a ValidationError for field with a formatted cause.
func Invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// RemoteError is a non-success response from the DSMS backend.
type RemoteError struct {
	ID      string
	Op      string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.ID, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the sentinels.
func (e *RemoteError) Unwrap() []error {
	errs := []error{ErrRemote}
	switch e.Status {
	case http.StatusNotFound:
		errs = append(errs, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		errs = append(errs, ErrUnauthorized)
	case http.StatusConflict:
		errs = append(errs, ErrConflict)
	}
	return errs
}
