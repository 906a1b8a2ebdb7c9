package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repositories holds all repository instances bound to one gorm handle.
// Build it from tx.DB() to run every call inside that transaction.
type Repositories struct {
	Claim   ClaimRepository
	Account AccountRepository
	Payment PaymentRepository
	Audit   AuditRepository
	Batch   BatchRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Claim:   NewClaimRepository(db),
		Account: NewAccountRepository(db),
		Payment: NewPaymentRepository(db),
		Audit:   NewAuditRepository(db),
		Batch:   NewBatchRepository(db),
	}
}

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}

func (q *ListQuery) offset() int {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 200 {
		q.PerPage = 20
	}
	return (q.Page - 1) * q.PerPage
}

func (q *ListQuery) order(column string) string {
	if q.SortDir == "asc" {
		return column + " ASC"
	}
	return column + " DESC"
}

// forUpdate adds SELECT ... FOR UPDATE. The sqlite dialect drops the clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
