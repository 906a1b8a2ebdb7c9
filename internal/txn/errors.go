package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStorage marks infrastructure failures talking to ledger storage.
	ErrStorage = errors.New("storage error")

	// ErrTransactionStart is returned when no transaction could be opened.
	ErrTransactionStart = errors.New("transaction start failed")

	// ErrTimeout is returned when a transaction or lock wait exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrTransient marks an error as safe to retry.
	ErrTransient = errors.New("transient storage error")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already finished")

	// ErrInvalidSavepoint is returned for malformed or unknown savepoint names.
	ErrInvalidSavepoint = errors.New("invalid savepoint")

	// ErrLockNotHeld is returned when releasing a lock the caller does not own.
	ErrLockNotHeld = errors.New("lock not held")

	// ErrSavepointFailed means a savepoint could not be rolled back to or
	// released. The transaction state is unknown and it must be rolled back.
	ErrSavepointFailed = errors.New("savepoint failed")
)

// StorageError wraps a driver error raised by a statement inside a transaction.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// TransactionStartError is returned when storage cannot allocate a transaction.
type TransactionStartError struct {
	Name string
	Err  error
}

func (e *TransactionStartError) Error() string {
	return fmt.Sprintf("could not start transaction %q: %v", e.Name, e.Err)
}

func (e *TransactionStartError) Unwrap() []error {
	return []error{ErrTransactionStart, e.Err}
}

// SavepointError is returned when the storage refuses ROLLBACK TO or RELEASE
// for an active savepoint, for example because the transaction was aborted
// underneath it.
type SavepointError struct {
	Name string
	Err  error
}

func (e *SavepointError) Error() string {
	return fmt.Sprintf("savepoint %s: %v", e.Name, e.Err)
}

func (e *SavepointError) Unwrap() []error {
	return []error{ErrSavepointFailed, e.Err}
}

// TimeoutError is returned when a transaction or a lock wait exceeds its deadline.
type TimeoutError struct {
	Op       string
	Resource string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: timed out after %s waiting for %s", e.Op, e.Timeout, e.Resource)
	}
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}

// NewLockTimeout builds the error returned when a resource lock is not granted in time.
func NewLockTimeout(op, key string, timeout time.Duration) error {
	return &TimeoutError{Op: op, Resource: key, Timeout: timeout}
}

// Wrap turns a raw driver error into a StorageError. nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// MarkTransient flags err as retryable regardless of its driver code.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// Postgres SQLSTATE codes that are safe to retry as a whole transaction.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// IsTransient reports whether err is a deadlock, lock-wait or serialization
// failure that a fresh attempt of the same transaction may survive.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsTimeout reports whether err is a transaction or lock timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
