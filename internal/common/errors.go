// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Request level errors. These abort an ingestion.
	ErrUnrecognizedFormat = errors.New("unrecognized file format")
	ErrValidation         = errors.New("validation failed")

	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrPersistence    = errors.New("persistence failed")

	// Invoice collaborator errors.
	ErrInvoiceUnavailable = errors.New("invoice service unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
	Details     []string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error, details ...string) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
		Details:     details,
	}
}

// RowParseError is a non-fatal failure to parse one statement row.
type RowParseError struct {
	Err   error
	Field string
	Value string
	Row   int
}

func (e *RowParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
}

func (e *RowParseError) Unwrap() error {
	return e.Err
}

// PersistenceError is a per-row storage failure during import or settlement.
type PersistenceError struct {
	Err error
	Key string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match every PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrInvoiceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
