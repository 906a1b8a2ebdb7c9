package txn

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Locker grants advisory, resource-scoped mutual exclusion such as one lock
// per patient account. Acquire returns false, not an error, when the lock is
// not granted within timeout.
type Locker interface {
	Acquire(ctx context.Context, db *gorm.DB, key string, timeout time.Duration) (bool, error)
	Release(ctx context.Context, db *gorm.DB, key string) error
}

// =============================================================================
// MEMORY LOCKER - in-process keyed locks
// =============================================================================

// MemoryLocker serializes work per key inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot)}
}

func (l *MemoryLocker) ref(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(l.slots, key)
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, _ *gorm.DB, key string, timeout time.Duration) (bool, error) {
	slot := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		return true, nil
	case <-timer.C:
		l.unref(key)
		return false, nil
	case <-ctx.Done():
		l.unref(key)
		return false, ctx.Err()
	}
}

func (l *MemoryLocker) Release(_ context.Context, _ *gorm.DB, key string) error {
	l.mu.Lock()
	slot, ok := l.slots[key]
	l.mu.Unlock()
	if !ok {
		return ErrLockNotHeld
	}

	select {
	case <-slot.ch:
	default:
		return ErrLockNotHeld
	}
	l.unref(key)
	return nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	return ok && len(slot.ch) == 1
}

// =============================================================================
// POSTGRES LOCKER - transaction-scoped advisory locks
// =============================================================================

// PostgresLocker uses pg_try_advisory_xact_lock on the transaction's own
// connection. Postgres drops the lock at commit or rollback, so Release has
// nothing to do.
type PostgresLocker struct {
	PollInterval time.Duration
}

func NewPostgresLocker() *PostgresLocker {
	return &PostgresLocker{PollInterval: 50 * time.Millisecond}
}

func (l *PostgresLocker) Acquire(ctx context.Context, db *gorm.DB, key string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		var granted bool
		row := db.WithContext(ctx).Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", key).Row()
		if err := row.Scan(&granted); err != nil {
			return false, Wrap("acquire advisory lock", err)
		}
		if granted {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
}

func (l *PostgresLocker) Release(context.Context, *gorm.DB, string) error {
	return nil
}
