package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EraBatch is the file-level record of one ERA remittance import
type EraBatch struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	FileName        string     `gorm:"size:255" json:"file_name"`
	PayerName       string     `gorm:"size:255" json:"payer_name"`
	CheckNumber     *string    `gorm:"size:64" json:"check_number,omitempty"`
	Status          string     `gorm:"size:30;not null;default:processing;index" json:"status"`
	TotalItems      int        `gorm:"not null;default:0" json:"total_items"`
	ProcessedCount  int        `gorm:"not null;default:0" json:"processed_count"`
	AutoPostedCount int        `gorm:"not null;default:0" json:"auto_posted_count"`
	FailedCount     int        `gorm:"not null;default:0" json:"failed_count"`
	CreatedBy       uint       `gorm:"not null" json:"created_by"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for EraBatch
func (EraBatch) TableName() string {
	return "era_batches"
}

// Batch status constants
const (
	EraBatchStatusProcessing          = "processing"
	EraBatchStatusCompleted           = "completed"
	EraBatchStatusCompletedWithErrors = "completed_with_errors"
	EraBatchStatusFailed              = "failed"
)

// EraPaymentDetail is one remittance line as received from the payer
type EraPaymentDetail struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	BatchID          uint            `gorm:"not null;index" json:"batch_id"`
	LineNumber       int             `gorm:"not null" json:"line_number"`
	ClaimID          uint            `gorm:"not null;index" json:"claim_id"`
	PatientID        uint            `gorm:"not null" json:"patient_id"`
	PaidAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"paid_amount"`
	AdjustmentAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"adjustment_amount"`
	AdjustmentReason *string         `gorm:"type:text" json:"adjustment_reason,omitempty"`
	ReferenceNumber  *string         `gorm:"size:64" json:"reference_number,omitempty"`
	Status           string          `gorm:"size:30;not null;index" json:"status"`
	PaymentID        *uint           `gorm:"index" json:"payment_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName specifies the table name for EraPaymentDetail
func (EraPaymentDetail) TableName() string {
	return "era_payment_details"
}

// Payment detail status constants
const (
	PaymentDetailStatusPending         = "pending"
	PaymentDetailStatusPendingAutoPost = "pending_auto_post"
	PaymentDetailStatusPosted          = "posted"
)
