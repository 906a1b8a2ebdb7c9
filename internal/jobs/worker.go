package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// Job is a unit of background work such as an after-commit hook or a
// scheduled reconciliation run.
type Job func(ctx context.Context) error

// Worker runs after-commit hooks and scheduled ledger jobs off the request path
type Worker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	asyncSem chan struct{}
	limit    int
	stats    WorkerStats
	statsMu  sync.RWMutex
	closed   bool
	closeMu  sync.RWMutex
}

// WorkerStats holds counters about dispatched jobs
type WorkerStats struct {
	ActiveJobs    int   `json:"active_jobs"`
	FinishedJobs  int64 `json:"finished_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// NewWorker creates a worker that runs at most concurrency jobs at once
func NewWorker(concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ctx:      ctx,
		cancel:   cancel,
		asyncSem: make(chan struct{}, concurrency),
		limit:    concurrency,
	}
}

// EnqueueAsync runs a job in its own goroutine, bounded by the concurrency limit.
// Jobs enqueued after Shutdown run synchronously so hooks are never dropped.
func (w *Worker) EnqueueAsync(job Job) {
	w.closeMu.RLock()
	if w.closed {
		w.closeMu.RUnlock()
		logger.Warn("[Worker] Shut down, running job synchronously")
		w.run(context.Background(), "sync", job)
		return
	}
	w.wg.Add(1)
	w.closeMu.RUnlock()

	go func() {
		defer w.wg.Done()
		w.asyncSem <- struct{}{}
		defer func() { <-w.asyncSem }()
		w.run(context.WithoutCancel(w.ctx), "async", job)
	}()
}

func (w *Worker) run(ctx context.Context, kind string, job Job) {
	w.trackJobStart()
	defer w.trackJobEnd()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("[Worker] %s job panic: %v", kind, r))
			w.trackJobFailure()
		}
	}()

	if err := job(ctx); err != nil {
		logger.Error(fmt.Sprintf("[Worker] %s job error: %v", kind, err))
		w.trackJobFailure()
	}
}

// ScheduleEvery runs a job at fixed intervals. The first run happens after the interval.
func (w *Worker) ScheduleEvery(interval time.Duration, job Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				w.run(w.ctx, "scheduled", job)
				logger.Debug("[Scheduler] Job finished", "duration", time.Since(start))
			}
		}
	}()
}

// Shutdown stops the scheduler and waits for in-flight jobs
func (w *Worker) Shutdown() {
	w.closeMu.Lock()
	w.closed = true
	w.closeMu.Unlock()

	w.cancel()
	w.wg.Wait()
}

// Wait blocks until every enqueued job has finished
func (w *Worker) Wait() {
	w.wg.Wait()
}

// GetStats returns the current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	stats := w.stats
	stats.MaxConcurrent = w.limit
	return stats
}

func (w *Worker) trackJobStart() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs++
}

func (w *Worker) trackJobEnd() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs--
	w.stats.FinishedJobs++
}

func (w *Worker) trackJobFailure() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.FailedJobs++
}
