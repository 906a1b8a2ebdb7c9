package repository

import (
	"context"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"gorm.io/gorm"
)

// AuditRepository defines the interface for the append-only audit trail
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	FindByEntity(ctx context.Context, table string, entityID uint) ([]models.AuditEntry, error)
	List(ctx context.Context, query *ListQuery) ([]models.AuditEntry, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) FindByEntity(ctx context.Context, table string, entityID uint) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("table_name = ? AND entity_id = ?", table, entityID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *auditRepository) List(ctx context.Context, query *ListQuery) ([]models.AuditEntry, int64, error) {
	var entries []models.AuditEntry
	var total int64

	db := r.db.WithContext(ctx).Model(&models.AuditEntry{})
	if query.Filters["action"] != "" {
		db = db.Where("action = ?", query.Filters["action"])
	}
	if query.Filters["table_name"] != "" {
		db = db.Where("table_name = ?", query.Filters["table_name"])
	}

	countDb := db.Session(&gorm.Session{})
	if err := countDb.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order(query.order("id")).
		Offset(query.offset()).
		Limit(query.PerPage).
		Find(&entries).Error
	return entries, total, err
}
