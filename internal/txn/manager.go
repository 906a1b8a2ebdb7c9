package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/rcm-ledger/internal/jobs"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
	"gorm.io/gorm"
)

// Config holds the transaction defaults shared by every unit of work
type Config struct {
	DefaultTimeout time.Duration
	BatchTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	LockTimeout    time.Duration
}

// DefaultConfig returns the production transaction defaults
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		BatchTimeout:   300 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 100 * time.Millisecond,
		LockTimeout:    10 * time.Second,
	}
}

// Options configures a single transaction. Zero values fall back to the
// manager's Config; Isolation zero means read committed.
type Options struct {
	Name          string
	Isolation     sql.IsolationLevel
	Timeout       time.Duration
	RetryAttempts int
}

// Event describes a finished transaction for observers
type Event struct {
	TxID      string
	Name      string
	Attempt   int
	Duration  time.Duration
	Committed bool
	Err       error
}

// Observer is notified after a transaction commits or rolls back
type Observer interface {
	OnCommit(ctx context.Context, ev Event)
	OnRollback(ctx context.Context, ev Event)
}

// Dispatcher runs hooks off the caller's goroutine. *jobs.Worker satisfies it.
type Dispatcher interface {
	EnqueueAsync(job jobs.Job)
}

// Manager opens transactions against one storage handle
type Manager struct {
	db          *gorm.DB
	locker      Locker
	savepoints  Savepointer
	cfg         Config
	observers   []Observer
	dispatcher  Dispatcher
	ignoreIsoln bool
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithObservers registers commit/rollback observers
func WithObservers(observers ...Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, observers...) }
}

// WithDispatcher runs hooks asynchronously through d
func WithDispatcher(d Dispatcher) ManagerOption {
	return func(m *Manager) { m.dispatcher = d }
}

// WithSavepointer overrides the native savepoint implementation
func WithSavepointer(s Savepointer) ManagerOption {
	return func(m *Manager) { m.savepoints = s }
}

// NewManager builds a Manager. A nil locker falls back to an in-process MemoryLocker.
func NewManager(db *gorm.DB, locker Locker, cfg Config, opts ...ManagerOption) *Manager {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}

	m := &Manager{
		db:          db,
		locker:      locker,
		savepoints:  NativeSavepoints{},
		cfg:         cfg,
		ignoreIsoln: db.Dialector.Name() == "sqlite",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective transaction defaults
func (m *Manager) Config() Config {
	return m.cfg
}

// BatchOptions returns options for a long-running batch transaction
func (m *Manager) BatchOptions(name string) Options {
	return Options{Name: name, Timeout: m.cfg.BatchTimeout}
}

func (m *Manager) withDefaults(opts Options) Options {
	if opts.Name == "" {
		opts.Name = "tx"
	}
	if opts.Isolation == sql.LevelDefault {
		opts.Isolation = sql.LevelReadCommitted
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.cfg.DefaultTimeout
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = m.cfg.RetryAttempts
	}
	return opts
}

// Begin opens a transaction. The caller must Commit or Rollback it.
func (m *Manager) Begin(ctx context.Context, opts Options) (*Tx, error) {
	return m.begin(ctx, m.withDefaults(opts), 1)
}

func (m *Manager) begin(ctx context.Context, opts Options, attempt int) (*Tx, error) {
	txCtx, cancel := context.WithTimeout(ctx, opts.Timeout)

	var txOpts []*sql.TxOptions
	if !m.ignoreIsoln {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: opts.Isolation})
	}

	db := m.db.WithContext(txCtx).Begin(txOpts...)
	if db.Error != nil {
		err := db.Error
		cancel()
		if errors.Is(txCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "begin " + opts.Name, Timeout: opts.Timeout, Err: err}
		}
		return nil, &TransactionStartError{Name: opts.Name, Err: err}
	}

	tx := &Tx{
		id:      uuid.NewString(),
		opts:    opts,
		attempt: attempt,
		manager: m,
		db:      db,
		ctx:     txCtx,
		cancel:  cancel,
		held:    make(map[string]bool),
		started: time.Now(),
	}
	logger.Debug("[Txn] Begin", "tx_id", tx.id, "name", opts.Name, "attempt", attempt)
	return tx, nil
}

// Run executes fn inside a transaction. Any error or panic from fn rolls the
// transaction back before it propagates. Transient storage failures retry the
// whole unit with exponential backoff.
func (m *Manager) Run(ctx context.Context, opts Options, fn func(tx *Tx) error) error {
	opts = m.withDefaults(opts)

	var err error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		err = m.runOnce(ctx, opts, attempt, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == opts.RetryAttempts {
			break
		}

		delay := m.backoff(attempt)
		logger.Warn("[Txn] Transient failure, retrying",
			"name", opts.Name, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", opts.Name, opts.RetryAttempts, err)
}

func (m *Manager) backoff(attempt int) time.Duration {
	return m.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
}

func (m *Manager) runOnce(ctx context.Context, opts Options, attempt int, fn func(tx *Tx) error) (err error) {
	tx, err := m.begin(ctx, opts, attempt)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			tx.finish(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if fnErr := fn(tx); fnErr != nil {
		if tx.timedOut() && !IsTimeout(fnErr) {
			fnErr = &TimeoutError{Op: opts.Name, Timeout: opts.Timeout, Err: fnErr}
		}
		tx.finish(fnErr)
		return fnErr
	}

	return tx.Commit()
}

// dispatch runs a hook on the dispatcher when one is configured, recovering panics
func (m *Manager) dispatch(ctx context.Context, name string, hook func(ctx context.Context)) {
	safe := func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[Txn] Hook panic", "hook", name, "panic", r)
			}
		}()
		hook(ctx)
		return nil
	}

	if m.dispatcher != nil {
		m.dispatcher.EnqueueAsync(safe)
		return
	}
	_ = safe(ctx)
}
