package repository

import (
	"context"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for patient account data access
type AccountRepository interface {
	FindByPatientID(ctx context.Context, patientID uint) (*models.PatientAccount, error)
	FindForUpdate(ctx context.Context, patientID uint) (*models.PatientAccount, error)
	Create(ctx context.Context, account *models.PatientAccount) error
	UpdateBalance(ctx context.Context, account *models.PatientAccount) error
	ListPatientIDs(ctx context.Context) ([]uint, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new patient account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindByPatientID(ctx context.Context, patientID uint) (*models.PatientAccount, error) {
	var account models.PatientAccount
	err := r.db.WithContext(ctx).First(&account, "patient_id = ?", patientID).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindForUpdate(ctx context.Context, patientID uint) (*models.PatientAccount, error) {
	var account models.PatientAccount
	err := forUpdate(r.db.WithContext(ctx)).First(&account, "patient_id = ?", patientID).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.PatientAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// UpdateBalance writes the balance and last payment timestamp
func (r *accountRepository) UpdateBalance(ctx context.Context, account *models.PatientAccount) error {
	return r.db.WithContext(ctx).
		Model(account).
		Select("total_balance", "last_payment_at", "updated_at").
		Updates(account).Error
}

func (r *accountRepository) ListPatientIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.PatientAccount{}).
		Order("patient_id ASC").
		Pluck("patient_id", &ids).Error
	return ids, err
}
