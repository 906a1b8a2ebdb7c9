// Package events publishes ledger events after the owning transaction commits.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	TypePaymentPosted      = "payment.posted"
	TypePaymentReversed    = "payment.reversed"
	TypeBatchProcessed     = "era.batch_processed"
	TypeBalanceTransferred = "account.balance_transferred"
)

// Event is the envelope written to the broker. Key keeps events for one
// patient account on one partition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// New wraps payload in an envelope with a fresh id
func New(eventType, key string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type PaymentPosted struct {
	PaymentID      uint            `json:"payment_id"`
	ClaimID        uint            `json:"claim_id"`
	PatientID      uint            `json:"patient_id"`
	Amount         decimal.Decimal `json:"amount"`
	NewOutstanding decimal.Decimal `json:"new_outstanding"`
	NewStatus      string          `json:"new_status"`
	BatchID        *uint           `json:"batch_id,omitempty"`
}

type PaymentReversed struct {
	PaymentID         uint            `json:"payment_id"`
	ReversalPaymentID uint            `json:"reversal_payment_id"`
	ClaimID           uint            `json:"claim_id"`
	PatientID         uint            `json:"patient_id"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
}

type BatchProcessed struct {
	BatchID         uint   `json:"batch_id"`
	TotalItems      int    `json:"total_items"`
	ProcessedCount  int    `json:"processed_count"`
	AutoPostedCount int    `json:"auto_posted_count"`
	FailedCount     int    `json:"failed_count"`
	Outcome         string `json:"outcome"`
}

type BalanceTransferred struct {
	FromPatientID uint            `json:"from_patient_id"`
	ToPatientID   uint            `json:"to_patient_id"`
	Amount        decimal.Decimal `json:"amount"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
