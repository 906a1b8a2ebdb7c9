package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Claim represents a billable encounter submitted to a payer
type Claim struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ClaimNumber       string          `gorm:"size:64;uniqueIndex;not null" json:"claim_number"`
	PatientID         uint            `gorm:"not null;index" json:"patient_id"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_amount"`
	PaidAmount        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"paid_amount"`
	OutstandingAmount decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"outstanding_amount"`
	Status            string          `gorm:"size:20;not null;default:draft;index" json:"status"`
	ServiceDate       *time.Time      `gorm:"type:date" json:"service_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Claim
func (Claim) TableName() string {
	return "claims"
}

// Claim status constants
const (
	ClaimStatusDraft         = "draft"
	ClaimStatusSubmitted     = "submitted"
	ClaimStatusPartiallyPaid = "partially_paid"
	ClaimStatusPaid          = "paid"
	ClaimStatusDenied        = "denied"
	ClaimStatusAppealed      = "appealed"
)

// IsBalanced reports whether paid + outstanding equals the total charge
func (c *Claim) IsBalanced() bool {
	return c.PaidAmount.Add(c.OutstandingAmount).Equal(c.TotalAmount)
}

// MayPost returns true if payments can still be applied to the claim
func (c *Claim) MayPost() bool {
	return c.Status != ClaimStatusPaid && c.OutstandingAmount.IsPositive()
}

// Snapshot returns the ledger-relevant fields used in audit entries
func (c *Claim) Snapshot() map[string]any {
	return map[string]any{
		"paid_amount":        c.PaidAmount.StringFixed(2),
		"outstanding_amount": c.OutstandingAmount.StringFixed(2),
		"status":             c.Status,
	}
}
