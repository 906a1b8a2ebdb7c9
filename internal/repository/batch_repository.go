package repository

import (
	"context"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"gorm.io/gorm"
)

// BatchRepository defines the interface for ERA batch and remittance line data access
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *models.EraBatch) error
	FindBatch(ctx context.Context, id uint) (*models.EraBatch, error)
	UpdateSummary(ctx context.Context, batch *models.EraBatch) error
	CreateDetail(ctx context.Context, detail *models.EraPaymentDetail) error
	MarkDetailPosted(ctx context.Context, detail *models.EraPaymentDetail, paymentID uint) error
	FindDetails(ctx context.Context, batchID uint) ([]models.EraPaymentDetail, error)
}

type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) CreateBatch(ctx context.Context, batch *models.EraBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *batchRepository) FindBatch(ctx context.Context, id uint) (*models.EraBatch, error) {
	var batch models.EraBatch
	err := r.db.WithContext(ctx).First(&batch, id).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// UpdateSummary writes the counters and final status. A batch row that is
// gone reports gorm.ErrRecordNotFound.
func (r *batchRepository) UpdateSummary(ctx context.Context, batch *models.EraBatch) error {
	res := r.db.WithContext(ctx).
		Model(batch).
		Select("status", "total_items", "processed_count", "auto_posted_count", "failed_count", "completed_at", "updated_at").
		Updates(batch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *batchRepository) CreateDetail(ctx context.Context, detail *models.EraPaymentDetail) error {
	return r.db.WithContext(ctx).Create(detail).Error
}

func (r *batchRepository) MarkDetailPosted(ctx context.Context, detail *models.EraPaymentDetail, paymentID uint) error {
	detail.Status = models.PaymentDetailStatusPosted
	detail.PaymentID = &paymentID
	return r.db.WithContext(ctx).
		Model(detail).
		Select("status", "payment_id", "updated_at").
		Updates(detail).Error
}

func (r *batchRepository) FindDetails(ctx context.Context, batchID uint) ([]models.EraPaymentDetail, error) {
	var details []models.EraPaymentDetail
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("line_number ASC").
		Find(&details).Error
	return details, err
}
