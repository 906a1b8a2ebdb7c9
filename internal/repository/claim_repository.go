package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"gorm.io/gorm"
)

// ClaimRepository defines the interface for claim data access
type ClaimRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Claim, error)
	FindByIDForUpdate(ctx context.Context, id uint) (*models.Claim, error)
	Create(ctx context.Context, claim *models.Claim) error
	UpdateBalances(ctx context.Context, claim *models.Claim) error
	List(ctx context.Context, query *ListQuery) ([]models.Claim, int64, error)
	SumOutstandingByPatient(ctx context.Context, patientID uint) (decimal.Decimal, error)
	FindUnbalanced(ctx context.Context) ([]models.Claim, error)
}

type claimRepository struct {
	db *gorm.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{db: db}
}

func (r *claimRepository) FindByID(ctx context.Context, id uint) (*models.Claim, error) {
	var claim models.Claim
	err := r.db.WithContext(ctx).First(&claim, id).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) FindByIDForUpdate(ctx context.Context, id uint) (*models.Claim, error) {
	var claim models.Claim
	err := forUpdate(r.db.WithContext(ctx)).First(&claim, id).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) Create(ctx context.Context, claim *models.Claim) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

// UpdateBalances writes paid, outstanding and status only
func (r *claimRepository) UpdateBalances(ctx context.Context, claim *models.Claim) error {
	return r.db.WithContext(ctx).
		Model(claim).
		Select("paid_amount", "outstanding_amount", "status", "updated_at").
		Updates(claim).Error
}

func (r *claimRepository) List(ctx context.Context, query *ListQuery) ([]models.Claim, int64, error) {
	var claims []models.Claim
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Claim{})

	if query.Filters["status"] != "" {
		db = db.Where("status = ?", query.Filters["status"])
	}
	if query.Filters["patient_id"] != "" {
		db = db.Where("patient_id = ?", query.Filters["patient_id"])
	}

	countDb := db.Session(&gorm.Session{})
	if err := countDb.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order(query.order("id")).
		Offset(query.offset()).
		Limit(query.PerPage).
		Find(&claims).Error
	return claims, total, err
}

// SumOutstandingByPatient recomputes what a patient owes from the claim rows
func (r *claimRepository) SumOutstandingByPatient(ctx context.Context, patientID uint) (decimal.Decimal, error) {
	var result struct {
		Total decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Claim{}).
		Select("SUM(outstanding_amount) AS total").
		Where("patient_id = ?", patientID).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !result.Total.Valid {
		return decimal.Zero, nil
	}
	return result.Total.Decimal.Round(2), nil
}

// FindUnbalanced returns claims whose paid and outstanding amounts no longer add up to the total
func (r *claimRepository) FindUnbalanced(ctx context.Context) ([]models.Claim, error) {
	var claims []models.Claim
	err := r.db.WithContext(ctx).
		Where("ABS(paid_amount + outstanding_amount - total_amount) > 0.005").
		Order("id ASC").
		Find(&claims).Error
	return claims, err
}
