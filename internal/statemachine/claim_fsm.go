package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/rcm-ledger/internal/models"
)

// ErrInvalidTransition is returned when a claim event is not allowed from its current status
var ErrInvalidTransition = errors.New("invalid claim status transition")

// Claim events
const (
	EventSubmit           = "submit"
	EventDeny             = "deny"
	EventAppeal           = "appeal"
	EventPartialPayment   = "partial_payment"
	EventFullPayment      = "full_payment"
	EventReverseToPartial = "reverse_to_partial"
	reopenPrefix          = "reopen_"
)

// Statuses a payment may be posted against
var payableStatuses = []string{
	models.ClaimStatusDraft,
	models.ClaimStatusSubmitted,
	models.ClaimStatusPartiallyPaid,
	models.ClaimStatusDenied,
	models.ClaimStatusAppealed,
}

// Statuses a claim can hold while it still carries posted money
var reversibleStatuses = []string{
	models.ClaimStatusPaid,
	models.ClaimStatusPartiallyPaid,
	models.ClaimStatusSubmitted,
	models.ClaimStatusDenied,
	models.ClaimStatusAppealed,
}

// Statuses a fully reversed claim may be reopened to
var reopenStatuses = []string{
	models.ClaimStatusDraft,
	models.ClaimStatusSubmitted,
	models.ClaimStatusDenied,
	models.ClaimStatusAppealed,
}

// ClaimFSM wraps a claim with its status state machine. The caller updates
// the claim's amounts first; the FSM derives the status from them.
type ClaimFSM struct {
	claim *models.Claim
	fsm   *fsm.FSM
}

// NewClaimFSM creates a state machine positioned at the claim's current status
func NewClaimFSM(claim *models.Claim) *ClaimFSM {
	cfsm := &ClaimFSM{claim: claim}

	events := fsm.Events{
		// draft → submitted
		{Name: EventSubmit, Src: []string{models.ClaimStatusDraft}, Dst: models.ClaimStatusSubmitted},

		// submitted/appealed → denied
		{Name: EventDeny, Src: []string{models.ClaimStatusSubmitted, models.ClaimStatusAppealed}, Dst: models.ClaimStatusDenied},

		// denied → appealed
		{Name: EventAppeal, Src: []string{models.ClaimStatusDenied}, Dst: models.ClaimStatusAppealed},

		// money applied with a balance left
		{Name: EventPartialPayment, Src: payableStatuses, Dst: models.ClaimStatusPartiallyPaid},

		// money applied that clears the balance
		{Name: EventFullPayment, Src: payableStatuses, Dst: models.ClaimStatusPaid},

		// reversal that leaves money on the claim
		{Name: EventReverseToPartial, Src: reversibleStatuses, Dst: models.ClaimStatusPartiallyPaid},
	}

	// reversal that removes all money: back to the status held before payment
	for _, status := range reopenStatuses {
		events = append(events, fsm.EventDesc{Name: reopenPrefix + status, Src: reversibleStatuses, Dst: status})
	}

	cfsm.fsm = fsm.NewFSM(claim.Status, events, fsm.Callbacks{})
	return cfsm
}

func (c *ClaimFSM) fire(ctx context.Context, event string) error {
	err := c.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, c.claim.Status, err)
	}
	c.claim.Status = c.fsm.Current()
	return nil
}

// Submit transitions a draft claim to submitted
func (c *ClaimFSM) Submit(ctx context.Context) error {
	return c.fire(ctx, EventSubmit)
}

// Deny marks the claim denied by the payer
func (c *ClaimFSM) Deny(ctx context.Context) error {
	return c.fire(ctx, EventDeny)
}

// Appeal reopens a denied claim
func (c *ClaimFSM) Appeal(ctx context.Context) error {
	return c.fire(ctx, EventAppeal)
}

// ApplyPayment moves the claim to paid when nothing is outstanding and to
// partially_paid otherwise.
func (c *ClaimFSM) ApplyPayment(ctx context.Context) error {
	if c.claim.OutstandingAmount.Sign() <= 0 {
		return c.fire(ctx, EventFullPayment)
	}
	return c.fire(ctx, EventPartialPayment)
}

// ApplyReversal derives the status after a reversal: paid if nothing is
// outstanding, partially_paid if money remains, otherwise statusBefore
// (submitted when unknown).
func (c *ClaimFSM) ApplyReversal(ctx context.Context, statusBefore string) error {
	if c.claim.OutstandingAmount.Sign() <= 0 {
		if c.claim.Status == models.ClaimStatusPaid {
			return nil
		}
		return c.fire(ctx, EventFullPayment)
	}
	if c.claim.PaidAmount.Sign() > 0 {
		return c.fire(ctx, EventReverseToPartial)
	}
	return c.fire(ctx, reopenPrefix+reopenTarget(statusBefore))
}

func reopenTarget(statusBefore string) string {
	for _, s := range reopenStatuses {
		if s == statusBefore {
			return s
		}
	}
	return models.ClaimStatusSubmitted
}

// Current returns the current state
func (c *ClaimFSM) Current() string {
	return c.fsm.Current()
}

// Can checks if a transition is possible
func (c *ClaimFSM) Can(event string) bool {
	return c.fsm.Can(event)
}
