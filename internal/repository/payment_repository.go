package repository

import (
	"context"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"gorm.io/gorm"
)

// PaymentRepository defines the interface for payment data access. Payments
// are append-only apart from the reversal bookkeeping columns.
type PaymentRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uint) (*models.Payment, error)
	FindByClaim(ctx context.Context, claimID uint) ([]models.Payment, error)
	FindReversalOf(ctx context.Context, paymentID uint) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	MarkReversed(ctx context.Context, payment *models.Payment) error
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) FindByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByIDForUpdate(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	err := forUpdate(r.db.WithContext(ctx)).First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByClaim(ctx context.Context, claimID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("posted_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) FindReversalOf(ctx context.Context, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("reversal_of_id = ?", paymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// MarkReversed flips status and links the reversal row. Nothing else on the
// original row changes; the reason lives on the reversal row.
func (r *paymentRepository) MarkReversed(ctx context.Context, payment *models.Payment) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPosted).
		Updates(map[string]any{
			"status":         models.PaymentStatusReversed,
			"reversed_by_id": payment.ReversedByID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	payment.Status = models.PaymentStatusReversed
	return nil
}
