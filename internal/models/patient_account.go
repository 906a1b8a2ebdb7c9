package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PatientAccount is the aggregate balance owed by a patient across all claims
type PatientAccount struct {
	PatientID     uint            `gorm:"primaryKey;autoIncrement:false" json:"patient_id"`
	TotalBalance  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_balance"`
	LastPaymentAt *time.Time      `json:"last_payment_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for PatientAccount
func (PatientAccount) TableName() string {
	return "patient_accounts"
}

// Snapshot returns the balance fields used in audit entries
func (a *PatientAccount) Snapshot() map[string]any {
	snap := map[string]any{
		"total_balance": a.TotalBalance.StringFixed(2),
	}
	if a.LastPaymentAt != nil {
		snap["last_payment_at"] = a.LastPaymentAt.Format(time.RFC3339)
	}
	return snap
}
