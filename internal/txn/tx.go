package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sjperalta/rcm-ledger/pkg/logger"
	"gorm.io/gorm"
)

// Tx is one open transaction together with the savepoints and locks it owns.
// A Tx is not safe for concurrent use.
type Tx struct {
	id      string
	opts    Options
	attempt int
	manager *Manager
	db      *gorm.DB
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	savepoints []string
	// lockMarks[i] is len(locks) when savepoints[i] was created
	lockMarks []int
	locks     []string
	held      map[string]bool

	afterCommit   []func(ctx context.Context)
	afterRollback []func(ctx context.Context, err error)

	done bool
}

func (t *Tx) ID() string { return t.id }

func (t *Tx) Name() string { return t.opts.Name }

func (t *Tx) Attempt() int { return t.attempt }

// Context carries the transaction deadline
func (t *Tx) Context() context.Context { return t.ctx }

// DB returns the transaction-bound gorm handle. Every statement of the unit of
// work must go through it.
func (t *Tx) DB() *gorm.DB { return t.db }

// Timeout is the deadline the transaction was opened with
func (t *Tx) Timeout() time.Duration { return t.opts.Timeout }

func (t *Tx) timedOut() bool {
	return errors.Is(t.ctx.Err(), context.DeadlineExceeded)
}

func (t *Tx) storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if t.timedOut() {
		return &TimeoutError{Op: op, Timeout: t.opts.Timeout, Err: err}
	}
	return Wrap(op, err)
}

// =============================================================================
// STATEMENTS
// =============================================================================

// Exec runs a statement and returns the affected row count
func (t *Tx) Exec(statement string, args ...any) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	res := t.db.Exec(statement, args...)
	if res.Error != nil {
		return 0, t.storageErr("exec", res.Error)
	}
	return res.RowsAffected, nil
}

// Query runs a statement and scans every row into dest
func (t *Tx) Query(dest any, statement string, args ...any) error {
	if t.done {
		return ErrTxDone
	}
	return t.storageErr("query", t.db.Raw(statement, args...).Scan(dest).Error)
}

// =============================================================================
// SAVEPOINTS
// =============================================================================

func (t *Tx) CreateSavepoint(name string) error {
	if t.done {
		return ErrTxDone
	}
	if err := validateSavepoint(name); err != nil {
		return err
	}
	if err := t.manager.savepoints.SavePoint(t.db, name); err != nil {
		return t.storageErr("savepoint "+name, err)
	}
	t.savepoints = append(t.savepoints, name)
	t.lockMarks = append(t.lockMarks, len(t.locks))
	return nil
}

// ReleaseSavepoint keeps the work done since name and discards the savepoint
// together with any savepoints created after it.
func (t *Tx) ReleaseSavepoint(name string) error {
	idx, err := t.savepointIndex(name)
	if err != nil {
		return err
	}
	if err := t.manager.savepoints.Release(t.db, name); err != nil {
		return &SavepointError{Name: name, Err: t.storageErr("release savepoint "+name, err)}
	}
	t.savepoints = t.savepoints[:idx]
	t.lockMarks = t.lockMarks[:idx]
	return nil
}

// RollbackToSavepoint undoes writes made since name without aborting the
// transaction. The savepoint itself stays active. Locks taken since name are
// released, as postgres does with transaction-level advisory locks.
func (t *Tx) RollbackToSavepoint(name string) error {
	idx, err := t.savepointIndex(name)
	if err != nil {
		return err
	}
	if err := t.manager.savepoints.RollbackTo(t.db, name); err != nil {
		return &SavepointError{Name: name, Err: t.storageErr("rollback to savepoint "+name, err)}
	}
	t.savepoints = t.savepoints[:idx+1]
	t.lockMarks = t.lockMarks[:idx+1]
	t.releaseFrom(t.lockMarks[idx])
	return nil
}

// WithSavepoint runs fn behind savepoint name. On error the writes made by fn
// are rolled back and the error is returned; the transaction stays usable.
// If the rollback itself fails the result wraps ErrSavepointFailed and the
// transaction must be abandoned.
func (t *Tx) WithSavepoint(name string, fn func() error) error {
	if err := t.CreateSavepoint(name); err != nil {
		return err
	}

	if fnErr := fn(); fnErr != nil {
		if err := t.RollbackToSavepoint(name); err != nil {
			return errors.Join(fnErr, err)
		}
		if err := t.ReleaseSavepoint(name); err != nil {
			return errors.Join(fnErr, err)
		}
		return fnErr
	}

	return t.ReleaseSavepoint(name)
}

func (t *Tx) savepointIndex(name string) (int, error) {
	if t.done {
		return 0, ErrTxDone
	}
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not active", ErrInvalidSavepoint, name)
}

// Savepoints lists the active savepoints, oldest first
func (t *Tx) Savepoints() []string {
	return append([]string(nil), t.savepoints...)
}

// =============================================================================
// LOCKS
// =============================================================================

// AcquireLock takes the advisory lock for key. It returns false when the lock
// is not granted within timeout. A zero timeout uses the manager's lock timeout.
func (t *Tx) AcquireLock(key string, timeout time.Duration) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	if t.held[key] {
		return true, nil
	}
	if timeout <= 0 {
		timeout = t.manager.cfg.LockTimeout
	}

	start := time.Now()
	ok, err := t.manager.locker.Acquire(t.ctx, t.db, key, timeout)
	if err != nil {
		return false, t.storageErr("acquire lock "+key, err)
	}
	if !ok {
		logger.Warn("[Txn] Lock wait timed out", "tx_id", t.id, "key", key, "timeout", timeout)
		return false, nil
	}

	t.held[key] = true
	t.locks = append(t.locks, key)
	logger.Debug("[Txn] Lock acquired", "tx_id", t.id, "key", key, "waited", time.Since(start))
	return true, nil
}

// MustLock acquires key or returns a TimeoutError naming it
func (t *Tx) MustLock(op, key string) error {
	ok, err := t.AcquireLock(key, 0)
	if err != nil {
		return err
	}
	if !ok {
		return NewLockTimeout(op, key, t.manager.cfg.LockTimeout)
	}
	return nil
}

func (t *Tx) ReleaseLock(key string) error {
	if !t.held[key] {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}
	delete(t.held, key)
	for i, k := range t.locks {
		if k == key {
			t.locks = append(t.locks[:i], t.locks[i+1:]...)
			for j, mark := range t.lockMarks {
				if mark > i {
					t.lockMarks[j] = mark - 1
				}
			}
			break
		}
	}
	return t.manager.locker.Release(context.WithoutCancel(t.ctx), t.db, key)
}

// HeldLocks lists the keys this transaction currently holds, in acquisition order
func (t *Tx) HeldLocks() []string {
	return append([]string(nil), t.locks...)
}

// releaseFrom drops locks[mark:], newest first
func (t *Tx) releaseFrom(mark int) {
	ctx := context.WithoutCancel(t.ctx)
	for i := len(t.locks) - 1; i >= mark; i-- {
		key := t.locks[i]
		delete(t.held, key)
		if err := t.manager.locker.Release(ctx, t.db, key); err != nil {
			logger.Error("[Txn] Failed to release lock", "tx_id", t.id, "key", key, "error", err)
		}
	}
	t.locks = t.locks[:mark]
}

func (t *Tx) releaseAll() {
	ctx := context.WithoutCancel(t.ctx)
	for i := len(t.locks) - 1; i >= 0; i-- {
		if err := t.manager.locker.Release(ctx, t.db, t.locks[i]); err != nil {
			logger.Error("[Txn] Failed to release lock", "tx_id", t.id, "key", t.locks[i], "error", err)
		}
	}
	t.locks = nil
	t.held = make(map[string]bool)
}

// =============================================================================
// HOOKS AND FINALIZATION
// =============================================================================

// AfterCommit registers fn to run once the transaction has committed
func (t *Tx) AfterCommit(fn func(ctx context.Context)) {
	t.afterCommit = append(t.afterCommit, fn)
}

// AfterRollback registers fn to run once the transaction has rolled back
func (t *Tx) AfterRollback(fn func(ctx context.Context, err error)) {
	t.afterRollback = append(t.afterRollback, fn)
}

// Commit makes the transaction's writes durable. A failed commit leaves the
// transaction rolled back.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	if err := t.db.Commit().Error; err != nil {
		err = t.storageErr("commit "+t.opts.Name, err)
		t.finalize(err, false)
		return err
	}
	t.finalize(nil, true)
	return nil
}

// Rollback discards every write. Calling it on a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	return t.finish(errors.New("rolled back by caller"))
}

func (t *Tx) finish(cause error) error {
	if t.done {
		return nil
	}
	err := t.db.Rollback().Error
	if err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("[Txn] Rollback failed", "tx_id", t.id, "name", t.opts.Name, "error", err)
	} else {
		err = nil
	}
	t.finalize(cause, false)
	return Wrap("rollback "+t.opts.Name, err)
}

func (t *Tx) finalize(cause error, committed bool) {
	t.done = true
	t.savepoints = nil
	t.lockMarks = nil
	t.releaseAll()
	t.cancel()

	ev := Event{
		TxID:      t.id,
		Name:      t.opts.Name,
		Attempt:   t.attempt,
		Duration:  time.Since(t.started),
		Committed: committed,
		Err:       cause,
	}
	hookCtx := context.WithoutCancel(t.ctx)

	if committed {
		logger.Debug("[Txn] Committed", "tx_id", t.id, "name", t.opts.Name, "duration", ev.Duration)
		for _, fn := range t.afterCommit {
			t.manager.dispatch(hookCtx, t.opts.Name+".after_commit", fn)
		}
		for _, o := range t.manager.observers {
			t.manager.dispatch(hookCtx, t.opts.Name+".observer", func(ctx context.Context) { o.OnCommit(ctx, ev) })
		}
		return
	}

	logger.Info("[Txn] Rolled back", "tx_id", t.id, "name", t.opts.Name, "error", cause)
	for _, fn := range t.afterRollback {
		t.manager.dispatch(hookCtx, t.opts.Name+".after_rollback", func(ctx context.Context) { fn(ctx, cause) })
	}
	for _, o := range t.manager.observers {
		t.manager.dispatch(hookCtx, t.opts.Name+".observer", func(ctx context.Context) { o.OnRollback(ctx, ev) })
	}
}
