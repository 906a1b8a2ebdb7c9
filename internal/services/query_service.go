package services

import (
	"context"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
)

// ClaimLedger is a claim together with every payment row applied to it
type ClaimLedger struct {
	Claim    *models.Claim    `json:"claim"`
	Payments []models.Payment `json:"payments"`
}

// BatchReport is a stored ERA batch with its remittance lines
type BatchReport struct {
	Batch   *models.EraBatch          `json:"batch"`
	Details []models.EraPaymentDetail `json:"details"`
}

// QueryService serves read-only views of the ledger outside any write transaction
type QueryService struct {
	repos *repository.Repositories
}

func NewQueryService(repos *repository.Repositories) *QueryService {
	return &QueryService{repos: repos}
}

// ListClaims retrieves claims with filters
func (s *QueryService) ListClaims(ctx context.Context, query *repository.ListQuery) ([]models.Claim, int64, error) {
	claims, total, err := s.repos.Claim.List(ctx, query)
	if err != nil {
		return nil, 0, dbError("list claims", map[string]any{"filters": query.Filters}, err)
	}
	return claims, total, nil
}

// ClaimLedger returns a claim and its payments, reversals included
func (s *QueryService) ClaimLedger(ctx context.Context, claimID uint) (*ClaimLedger, error) {
	claim, err := s.repos.Claim.FindByID(ctx, claimID)
	if err != nil {
		return nil, dbError("find claim", map[string]any{"claim_id": claimID}, lookupErr("claim", claimID, err))
	}

	payments, err := s.repos.Payment.FindByClaim(ctx, claimID)
	if err != nil {
		return nil, dbError("find claim payments", map[string]any{"claim_id": claimID}, err)
	}
	return &ClaimLedger{Claim: claim, Payments: payments}, nil
}

// Account returns one patient account
func (s *QueryService) Account(ctx context.Context, patientID uint) (*models.PatientAccount, error) {
	account, err := s.repos.Account.FindByPatientID(ctx, patientID)
	if err != nil {
		return nil, dbError("find patient account", map[string]any{"patient_id": patientID}, lookupErr("patient account", patientID, err))
	}
	return account, nil
}

// Batch returns a processed ERA batch and its lines in file order
func (s *QueryService) Batch(ctx context.Context, batchID uint) (*BatchReport, error) {
	batch, err := s.repos.Batch.FindBatch(ctx, batchID)
	if err != nil {
		return nil, dbError("find batch", map[string]any{"batch_id": batchID}, lookupErr("era batch", batchID, err))
	}

	details, err := s.repos.Batch.FindDetails(ctx, batchID)
	if err != nil {
		return nil, dbError("find batch details", map[string]any{"batch_id": batchID}, err)
	}
	return &BatchReport{Batch: batch, Details: details}, nil
}
