package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_TimesOutWhileHeld(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, nil, "patient_account_1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = l.Acquire(ctx, nil, "patient_account_1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// other keys are independent
	ok, err = l.Acquire(ctx, nil, "patient_account_2", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, nil, "patient_account_1"))
	ok, err = l.Acquire(ctx, nil, "patient_account_1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Acquire(ctx, nil, "claim_1", 5*time.Second)
			if !assert.NoError(t, err) || !assert.True(t, ok) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, l.Release(ctx, nil, "claim_1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.False(t, l.Held("claim_1"))
}

func TestMemoryLocker_ContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	ok, err := l.Acquire(context.Background(), nil, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err = l.Acquire(ctx, nil, "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLocker_ReleaseNotHeld(t *testing.T) {
	l := NewMemoryLocker()
	assert.ErrorIs(t, l.Release(context.Background(), nil, "missing"), ErrLockNotHeld)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "pg serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pg lock not available", err: &pgconn.PgError{Code: "55P03"}, want: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "wrapped pg deadlock", err: Wrap("update claim", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "sqlite busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: true},
		{name: "sqlite locked", err: fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), want: true},
		{name: "sqlite constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, want: false},
		{name: "marked", err: MarkTransient(errors.New("retry me")), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("connection refused")

	startErr := &TransactionStartError{Name: "post_payment", Err: cause}
	assert.ErrorIs(t, startErr, ErrTransactionStart)
	assert.ErrorIs(t, startErr, cause)

	lockErr := NewLockTimeout("post_payment", "patient_account_4", 10*time.Second)
	assert.True(t, IsTimeout(lockErr))
	assert.Contains(t, lockErr.Error(), "patient_account_4")

	assert.Nil(t, Wrap("noop", nil))
	wrapped := Wrap("insert", cause)
	assert.Same(t, wrapped, Wrap("outer", wrapped))
}
