package statemachine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimWith(status, paid, outstanding string) *models.Claim {
	return &models.Claim{
		Status:            status,
		PaidAmount:        decimal.RequireFromString(paid),
		OutstandingAmount: decimal.RequireFromString(outstanding),
		TotalAmount:       decimal.RequireFromString(paid).Add(decimal.RequireFromString(outstanding)),
	}
}

func TestClaimFSM_ApplyPayment(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		paid        string
		outstanding string
		want        string
		wantErr     bool
	}{
		{name: "partial from submitted", status: models.ClaimStatusSubmitted, paid: "40", outstanding: "60", want: models.ClaimStatusPartiallyPaid},
		{name: "full from submitted", status: models.ClaimStatusSubmitted, paid: "100", outstanding: "0", want: models.ClaimStatusPaid},
		{name: "partial stays partial", status: models.ClaimStatusPartiallyPaid, paid: "80", outstanding: "20", want: models.ClaimStatusPartiallyPaid},
		{name: "completes partial", status: models.ClaimStatusPartiallyPaid, paid: "100", outstanding: "0", want: models.ClaimStatusPaid},
		{name: "draft accepts payment", status: models.ClaimStatusDraft, paid: "10", outstanding: "90", want: models.ClaimStatusPartiallyPaid},
		{name: "denied accepts payment", status: models.ClaimStatusDenied, paid: "100", outstanding: "0", want: models.ClaimStatusPaid},
		{name: "paid rejects payment", status: models.ClaimStatusPaid, paid: "100", outstanding: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := claimWith(tt.status, tt.paid, tt.outstanding)
			err := NewClaimFSM(claim).ApplyPayment(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.status, claim.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, claim.Status)
		})
	}
}

func TestClaimFSM_ApplyReversal(t *testing.T) {
	tests := []struct {
		name         string
		status       string
		paid         string
		outstanding  string
		statusBefore string
		want         string
	}{
		{name: "money remains", status: models.ClaimStatusPaid, paid: "30", outstanding: "70", statusBefore: models.ClaimStatusPartiallyPaid, want: models.ClaimStatusPartiallyPaid},
		{name: "back to submitted", status: models.ClaimStatusPaid, paid: "0", outstanding: "100", statusBefore: models.ClaimStatusSubmitted, want: models.ClaimStatusSubmitted},
		{name: "back to denied", status: models.ClaimStatusPartiallyPaid, paid: "0", outstanding: "100", statusBefore: models.ClaimStatusDenied, want: models.ClaimStatusDenied},
		{name: "unknown before falls back", status: models.ClaimStatusPartiallyPaid, paid: "0", outstanding: "100", statusBefore: "", want: models.ClaimStatusSubmitted},
		{name: "before was partial", status: models.ClaimStatusPaid, paid: "0", outstanding: "100", statusBefore: models.ClaimStatusPartiallyPaid, want: models.ClaimStatusSubmitted},
		{name: "still settled", status: models.ClaimStatusPaid, paid: "100", outstanding: "0", statusBefore: models.ClaimStatusPartiallyPaid, want: models.ClaimStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := claimWith(tt.status, tt.paid, tt.outstanding)
			require.NoError(t, NewClaimFSM(claim).ApplyReversal(context.Background(), tt.statusBefore))
			assert.Equal(t, tt.want, claim.Status)
		})
	}
}

func TestClaimFSM_Lifecycle(t *testing.T) {
	claim := claimWith(models.ClaimStatusDraft, "0", "100")
	f := NewClaimFSM(claim)
	ctx := context.Background()

	assert.ErrorIs(t, f.Deny(ctx), ErrInvalidTransition)
	require.NoError(t, f.Submit(ctx))
	assert.Equal(t, models.ClaimStatusSubmitted, claim.Status)

	require.NoError(t, f.Deny(ctx))
	assert.True(t, f.Can(EventAppeal))
	require.NoError(t, f.Appeal(ctx))
	assert.Equal(t, models.ClaimStatusAppealed, f.Current())
	assert.ErrorIs(t, f.Submit(ctx), ErrInvalidTransition)
}
