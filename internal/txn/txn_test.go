package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/jobs"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingObserver struct {
	mu        sync.Mutex
	commits   []Event
	rollbacks []Event
}

func (o *recordingObserver) OnCommit(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, ev)
}

func (o *recordingObserver) OnRollback(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollbacks = append(o.rollbacks, ev)
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *gorm.DB, *MemoryLocker) {
	t.Helper()
	db := testutil.NewDB(t)
	locker := NewMemoryLocker()
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.LockTimeout = 100 * time.Millisecond
	return NewManager(db, locker, cfg, opts...), db, locker
}

func countAccounts(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.PatientAccount{}).Count(&n).Error)
	return n
}

func TestRun_CommitsAndFiresHooks(t *testing.T) {
	obs := &recordingObserver{}
	m, db, _ := newTestManager(t, WithObservers(obs))

	hookRan := false
	err := m.Run(context.Background(), Options{Name: "seed"}, func(tx *Tx) error {
		tx.AfterCommit(func(ctx context.Context) { hookRan = true })
		return tx.DB().Create(&models.PatientAccount{PatientID: 1, TotalBalance: decimal.NewFromInt(10)}).Error
	})

	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.Equal(t, int64(1), countAccounts(t, db))
	require.Len(t, obs.commits, 1)
	assert.Equal(t, "seed", obs.commits[0].Name)
	assert.True(t, obs.commits[0].Committed)
	assert.Empty(t, obs.rollbacks)
}

func TestRun_ErrorRollsBackEverything(t *testing.T) {
	obs := &recordingObserver{}
	m, db, _ := newTestManager(t, WithObservers(obs))
	boom := errors.New("claim update failed")

	var rollbackCause error
	err := m.Run(context.Background(), Options{Name: "post"}, func(tx *Tx) error {
		tx.AfterRollback(func(ctx context.Context, err error) { rollbackCause = err })
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), countAccounts(t, db))
	assert.ErrorIs(t, rollbackCause, boom)
	require.Len(t, obs.rollbacks, 1)
	assert.False(t, obs.rollbacks[0].Committed)
}

func TestRun_PanicRollsBackAndRepanics(t *testing.T) {
	m, db, locker := newTestManager(t)

	assert.PanicsWithValue(t, "invariant broken", func() {
		_ = m.Run(context.Background(), Options{}, func(tx *Tx) error {
			_, err := tx.AcquireLock("patient_account_1", 0)
			require.NoError(t, err)
			require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error)
			panic("invariant broken")
		})
	})

	assert.Equal(t, int64(0), countAccounts(t, db))
	assert.False(t, locker.Held("patient_account_1"))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	m, db, _ := newTestManager(t)

	attempts := 0
	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		attempts++
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: uint(attempts)}).Error)
		if attempts < 3 {
			return MarkTransient(errors.New("deadlock detected"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// only the final attempt's write survives
	assert.Equal(t, int64(1), countAccounts(t, db))
}

func TestRun_GivesUpAfterRetryAttempts(t *testing.T) {
	m, _, _ := newTestManager(t)

	attempts := 0
	err := m.Run(context.Background(), Options{RetryAttempts: 2}, func(tx *Tx) error {
		attempts++
		return MarkTransient(errors.New("serialization failure"))
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRun_DoesNotRetryPermanentErrors(t *testing.T) {
	m, _, _ := newTestManager(t)

	attempts := 0
	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		attempts++
		return errors.New("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRun_TimeoutRollsBack(t *testing.T) {
	m, db, _ := newTestManager(t)

	err := m.Run(context.Background(), Options{Timeout: 50 * time.Millisecond}, func(tx *Tx) error {
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error)
		<-tx.Context().Done()
		return tx.DB().Create(&models.PatientAccount{PatientID: 2}).Error
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, int64(0), countAccounts(t, db))
}

func TestSavepoint_RollbackKeepsEarlierWork(t *testing.T) {
	m, db, _ := newTestManager(t)

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error)

		require.NoError(t, tx.CreateSavepoint("payment_item_1"))
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 2}).Error)
		require.NoError(t, tx.RollbackToSavepoint("payment_item_1"))
		assert.Equal(t, []string{"payment_item_1"}, tx.Savepoints())
		require.NoError(t, tx.ReleaseSavepoint("payment_item_1"))

		require.NoError(t, tx.CreateSavepoint("payment_item_2"))
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 3}).Error)
		return tx.ReleaseSavepoint("payment_item_2")
	})
	require.NoError(t, err)

	var ids []uint
	require.NoError(t, db.Model(&models.PatientAccount{}).Order("patient_id").Pluck("patient_id", &ids).Error)
	assert.Equal(t, []uint{1, 3}, ids)
}

func TestWithSavepoint_UndoesOnlyFailedScope(t *testing.T) {
	m, db, _ := newTestManager(t)
	boom := errors.New("claim not found")

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		require.NoError(t, tx.WithSavepoint("first", func() error {
			return tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error
		}))
		itemErr := tx.WithSavepoint("second", func() error {
			require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 2}).Error)
			return boom
		})
		assert.ErrorIs(t, itemErr, boom)
		assert.Empty(t, tx.Savepoints())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), countAccounts(t, db))
}

func TestSavepoint_ValidatesNames(t *testing.T) {
	m, _, _ := newTestManager(t)

	tx, err := m.Begin(context.Background(), Options{})
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.CreateSavepoint("1bad"), ErrInvalidSavepoint)
	assert.ErrorIs(t, tx.CreateSavepoint("drop table; --"), ErrInvalidSavepoint)
	assert.ErrorIs(t, tx.ReleaseSavepoint("never_created"), ErrInvalidSavepoint)
	assert.ErrorIs(t, tx.RollbackToSavepoint("never_created"), ErrInvalidSavepoint)
	assert.NoError(t, tx.CreateSavepoint("_ok_1"))
}

func TestAcquireLock_ReentrantAndReleasedOnCommit(t *testing.T) {
	m, _, locker := newTestManager(t)

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		ok, err := tx.AcquireLock("claim_7", 0)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.AcquireLock("claim_7", 0)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, tx.MustLock("post", "patient_account_3"))
		assert.Equal(t, []string{"claim_7", "patient_account_3"}, tx.HeldLocks())
		assert.True(t, locker.Held("claim_7"))
		return nil
	})

	require.NoError(t, err)
	assert.False(t, locker.Held("claim_7"))
	assert.False(t, locker.Held("patient_account_3"))
}

func TestAcquireLock_ReleaseLock(t *testing.T) {
	m, _, locker := newTestManager(t)

	tx, err := m.Begin(context.Background(), Options{})
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.MustLock("op", "claim_1"))
	require.NoError(t, tx.ReleaseLock("claim_1"))
	assert.False(t, locker.Held("claim_1"))
	assert.Empty(t, tx.HeldLocks())
	assert.ErrorIs(t, tx.ReleaseLock("claim_1"), ErrLockNotHeld)
}

func TestTx_UseAfterFinish(t *testing.T) {
	m, _, _ := newTestManager(t)

	tx, err := m.Begin(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback())
	_, err = tx.Exec("SELECT 1")
	assert.ErrorIs(t, err, ErrTxDone)
	assert.ErrorIs(t, tx.CreateSavepoint("late"), ErrTxDone)
}

func TestTx_ExecWrapsStorageErrors(t *testing.T) {
	m, _, _ := newTestManager(t)

	tx, err := m.Begin(context.Background(), Options{})
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Exec("UPDATE no_such_table SET x = 1")
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, ErrStorage)

	n, err := tx.Exec("INSERT INTO patient_accounts (patient_id, total_balance, created_at, updated_at) VALUES (?, ?, ?, ?)",
		9, "12.50", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var balances []string
	require.NoError(t, tx.Query(&balances, "SELECT CAST(total_balance AS TEXT) FROM patient_accounts WHERE patient_id = ?", 9))
	assert.Equal(t, []string{"12.5"}, balances)
}

type syncDispatcher struct {
	mu   sync.Mutex
	jobs int
}

func (d *syncDispatcher) EnqueueAsync(job jobs.Job) {
	d.mu.Lock()
	d.jobs++
	d.mu.Unlock()
	_ = job(context.Background())
}

func TestRun_HookPanicsAreContained(t *testing.T) {
	d := &syncDispatcher{}
	m, _, _ := newTestManager(t, WithDispatcher(d))

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		tx.AfterCommit(func(ctx context.Context) { panic("publisher down") })
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, d.jobs)
}

func TestRollbackToSavepoint_ReleasesLocksTakenInScope(t *testing.T) {
	m, _, locker := newTestManager(t)

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		require.NoError(t, tx.MustLock("batch", "patient_account_1"))

		require.NoError(t, tx.CreateSavepoint("payment_item_1"))
		require.NoError(t, tx.MustLock("batch", "patient_account_1"))
		require.NoError(t, tx.MustLock("batch", "claim_2"))
		require.NoError(t, tx.MustLock("batch", "claim_3"))
		require.NoError(t, tx.ReleaseLock("claim_3"))
		require.NoError(t, tx.RollbackToSavepoint("payment_item_1"))

		assert.Equal(t, []string{"patient_account_1"}, tx.HeldLocks())
		assert.True(t, locker.Held("patient_account_1"))
		assert.False(t, locker.Held("claim_2"))

		// the next scope takes the claim again instead of trusting a stale entry
		require.NoError(t, tx.ReleaseSavepoint("payment_item_1"))
		require.NoError(t, tx.WithSavepoint("payment_item_2", func() error {
			return tx.MustLock("batch", "claim_2")
		}))
		assert.True(t, locker.Held("claim_2"))
		assert.Equal(t, []string{"patient_account_1", "claim_2"}, tx.HeldLocks())
		return nil
	})

	require.NoError(t, err)
	assert.False(t, locker.Held("patient_account_1"))
	assert.False(t, locker.Held("claim_2"))
}

type failingRollbackTo struct {
	NativeSavepoints
}

func (failingRollbackTo) RollbackTo(*gorm.DB, string) error {
	return errors.New("no such savepoint")
}

func TestWithSavepoint_FailedRollbackIsFatal(t *testing.T) {
	m, db, _ := newTestManager(t, WithSavepointer(failingRollbackTo{}))
	boom := errors.New("claim not found")

	err := m.Run(context.Background(), Options{}, func(tx *Tx) error {
		require.NoError(t, tx.DB().Create(&models.PatientAccount{PatientID: 1}).Error)

		itemErr := tx.WithSavepoint("payment_item_1", func() error { return boom })
		assert.ErrorIs(t, itemErr, boom)

		var spErr *SavepointError
		require.ErrorAs(t, itemErr, &spErr)
		assert.Equal(t, "payment_item_1", spErr.Name)
		return itemErr
	})

	require.ErrorIs(t, err, ErrSavepointFailed)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int64(0), countAccounts(t, db))
}

func TestRun_AccountLockSerializesOverlappingWriters(t *testing.T) {
	tests := []struct {
		name           string
		lock           bool
		expectConflict bool
	}{
		{name: "locked", lock: true},
		{name: "unlocked", lock: false, expectConflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewPooledDB(t, 2)
			observer := &recordingObserver{}
			cfg := DefaultConfig()
			cfg.RetryBaseDelay = time.Millisecond
			cfg.LockTimeout = 5 * time.Second
			m := NewManager(db, NewMemoryLocker(), cfg, WithObservers(observer))

			require.NoError(t, db.Create(&models.PatientAccount{PatientID: 1, TotalBalance: decimal.NewFromInt(100)}).Error)
			testutil.DelayReads(t, db, "patient_accounts", 50*time.Millisecond)

			start := make(chan struct{})
			var wg sync.WaitGroup
			errs := make(chan error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					errs <- m.Run(context.Background(), Options{Name: "credit"}, func(tx *Tx) error {
						if tt.lock {
							if err := tx.MustLock("credit", "patient_account_1"); err != nil {
								return err
							}
						}
						var account models.PatientAccount
						if err := tx.DB().Where("patient_id = ?", 1).First(&account).Error; err != nil {
							return Wrap("read account", err)
						}
						return Wrap("write account", tx.DB().Model(&models.PatientAccount{}).
							Where("patient_id = ?", 1).
							Update("total_balance", account.TotalBalance.Add(decimal.NewFromInt(10))).Error)
					})
				}()
			}
			close(start)
			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}

			var stored models.PatientAccount
			require.NoError(t, db.Where("patient_id = ?", 1).First(&stored).Error)
			assert.Equal(t, "120.00", stored.TotalBalance.StringFixed(2))

			observer.mu.Lock()
			defer observer.mu.Unlock()
			if tt.expectConflict {
				assert.NotEmpty(t, observer.rollbacks, "overlapping writers should conflict")
			} else {
				assert.Empty(t, observer.rollbacks)
			}
			assert.Len(t, observer.commits, 2)
		})
	}
}
