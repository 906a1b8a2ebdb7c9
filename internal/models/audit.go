package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditImmutable is returned when code attempts to change an audit entry
var ErrAuditImmutable = errors.New("audit entries are append-only")

// AuditEntry is an append-only record of one ledger mutation
type AuditEntry struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EntityTable string         `gorm:"column:table_name;size:50;not null;index:idx_audit_entity" json:"table_name"`
	EntityID    uint           `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	Action      string         `gorm:"size:20;not null;index" json:"action"`
	OldValues   datatypes.JSON `json:"old_values,omitempty"`
	NewValues   datatypes.JSON `json:"new_values,omitempty"`
	ActorID     uint           `gorm:"not null" json:"actor_id"`
	Reason      *string        `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// Audit action constants
const (
	AuditActionCreate      = "CREATE"
	AuditActionUpdate      = "UPDATE"
	AuditActionPaymentPost = "PAYMENT_POST"
	AuditActionReversal    = "REVERSAL"
	AuditActionTransfer    = "TRANSFER"
)

// BeforeUpdate blocks updates through gorm
func (e *AuditEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// BeforeDelete blocks deletes through gorm
func (e *AuditEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
