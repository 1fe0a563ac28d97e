// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/javajoker/settlement-backend/internal/database"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDuplicateCommission = errors.New("commission already exists for vendor and order item")
	ErrEmptyPayout         = errors.New("no eligible commissions for payout")
	ErrConcurrencyConflict = errors.New("concurrent modification, retry the operation")
	ErrNotFound            = errors.New("resource not found")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %q to %q", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func newTransitionError[S ~string](entity string, from, to S) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: string(from), To: string(to)}
}

// translateStorageError maps storage failures to domain errors. Unrecognized
// errors are wrapped with msg.
func translateStorageError(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case database.IsNotFound(err):
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	case database.IsSerializationFailure(err):
		return fmt.Errorf("%s: %w", msg, ErrConcurrencyConflict)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// passThrough reports whether err is already a domain error and should be
// returned unchanged from a transaction.
func passThrough(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateCommission) ||
		errors.Is(err, ErrEmptyPayout) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrNotFound)
}

func wrapTxError(err error, msg string) error {
	if err == nil || passThrough(err) {
		return err
	}
	return translateStorageError(err, msg)
}
