package services

import (
	"errors"
	"fmt"

	"github.com/sjperalta/rcm-ledger/internal/txn"
)

// Common service errors
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("record not found")
	ErrDatabase   = errors.New("database error")
)

// Validation reasons surfaced to callers verbatim
const (
	ReasonNonPositiveAmount   = "amount must be greater than zero"
	ReasonExceedsBalance      = "payment exceeds remaining balance"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonAlreadyReversed     = "payment already reversed"
	ReasonClaimSettled        = "claim is already paid"
	ReasonSameAccount         = "source and destination accounts must differ"
)

// ValidationError reports caller input that violates a precondition. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a referenced entity that does not exist
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DatabaseError wraps an infrastructure failure with the operation's inputs
type DatabaseError struct {
	Op     string
	Params map[string]any
	Err    error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s failed (%v): %v", e.Op, e.Params, e.Err)
}

func (e *DatabaseError) Unwrap() []error { return []error{ErrDatabase, e.Err} }

// dbError wraps err as a DatabaseError unless it already carries a domain or
// timeout classification.
func dbError(op string, params map[string]any, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if IsValidation(err) || IsNotFound(err) || IsTimeout(err) || errors.As(err, &dbErr) {
		return err
	}
	return &DatabaseError{Op: op, Params: params, Err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsTimeout(err error) bool { return txn.IsTimeout(err) }

func IsDatabase(err error) bool { return errors.Is(err, ErrDatabase) }

// IsExpected reports errors caused by the request rather than the system
func IsExpected(err error) bool {
	return IsValidation(err) || IsNotFound(err)
}
