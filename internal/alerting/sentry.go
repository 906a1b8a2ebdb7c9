// Package alerting reports failed ledger transactions to Sentry.
package alerting

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/sjperalta/rcm-ledger/internal/txn"
)

// RollbackReporter is a txn.Observer that captures unexpected rollbacks.
// Errors for which ignore returns true (bad input, unknown ids) are skipped.
type RollbackReporter struct {
	hub    *sentry.Hub
	ignore func(error) bool
}

// NewRollbackReporter uses the current hub when hub is nil
func NewRollbackReporter(hub *sentry.Hub, ignore func(error) bool) *RollbackReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if ignore == nil {
		ignore = func(error) bool { return false }
	}
	return &RollbackReporter{hub: hub, ignore: ignore}
}

func (r *RollbackReporter) OnCommit(context.Context, txn.Event) {}

func (r *RollbackReporter) OnRollback(_ context.Context, ev txn.Event) {
	if ev.Err == nil || r.ignore(ev.Err) {
		return
	}

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "ledger")
		scope.SetTag("tx_name", ev.Name)
		scope.SetContext("transaction", sentry.Context{
			"tx_id":       ev.TxID,
			"attempt":     ev.Attempt,
			"duration_ms": ev.Duration.Milliseconds(),
			"transient":   txn.IsTransient(ev.Err),
			"timeout":     txn.IsTimeout(ev.Err),
		})
		hub.CaptureException(ev.Err)
	})
}
