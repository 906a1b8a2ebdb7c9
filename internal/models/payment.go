package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment represents money applied to a claim. Rows are never deleted and
// their amount, claim and date never change; a reversal is a new row.
type Payment struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	ClaimID            uint            `gorm:"not null;index" json:"claim_id"`
	PatientID          uint            `gorm:"not null;index" json:"patient_id"`
	Type               string          `gorm:"size:20;not null;default:payment" json:"type"`
	Amount             decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"` // Negative for reversals
	PaymentDate        time.Time       `gorm:"type:date;not null" json:"payment_date"`
	Method             string          `gorm:"size:20;not null" json:"method"`
	ReferenceNumber    *string         `gorm:"size:64;index" json:"reference_number,omitempty"`
	AdjustmentAmount   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"adjustment_amount"`
	AdjustmentReason   *string         `gorm:"type:text" json:"adjustment_reason,omitempty"`
	PostedBy           uint            `gorm:"not null" json:"posted_by"`
	PostedAt           time.Time       `gorm:"not null" json:"posted_at"`
	Status             string          `gorm:"size:20;not null;default:posted;index" json:"status"`
	ClaimStatusBefore  string          `gorm:"size:20" json:"claim_status_before,omitempty"`
	ReversalOfID       *uint           `gorm:"index" json:"reversal_of_id,omitempty"`
	ReversedByID       *uint           `json:"reversed_by_id,omitempty"`
	ReversalReason     *string         `gorm:"type:text" json:"reversal_reason,omitempty"`
	EraPaymentDetailID *uint           `gorm:"index" json:"era_payment_detail_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// Payment type constants
const (
	PaymentTypePayment  = "payment"
	PaymentTypeReversal = "reversal"
)

// Payment status constants
const (
	PaymentStatusPosted   = "posted"
	PaymentStatusReversed = "reversed"
)

// Payment method constants
const (
	PaymentMethodCheck     = "check"
	PaymentMethodCard      = "card"
	PaymentMethodCash      = "cash"
	PaymentMethodInsurance = "insurance"
	PaymentMethodOther     = "other"
)

var validPaymentMethods = map[string]bool{
	PaymentMethodCheck:     true,
	PaymentMethodCard:      true,
	PaymentMethodCash:      true,
	PaymentMethodInsurance: true,
	PaymentMethodOther:     true,
}

// IsValidPaymentMethod reports whether method is a known payment method
func IsValidPaymentMethod(method string) bool {
	return validPaymentMethods[method]
}

// MayReverse returns true if the payment can be reversed
func (p *Payment) MayReverse() bool {
	return p.Type == PaymentTypePayment && p.Status == PaymentStatusPosted
}

// IsReversal returns true for rows that undo an earlier payment
func (p *Payment) IsReversal() bool {
	return p.Type == PaymentTypeReversal
}
