package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// AccountReconciliation compares a recorded account balance with the sum of
// its claims' outstanding amounts
type AccountReconciliation struct {
	PatientID       uint            `json:"patient_id"`
	RecordedBalance decimal.Decimal `json:"recorded_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Drift           decimal.Decimal `json:"drift"`
	Balanced        bool            `json:"balanced"`
}

// ReconciliationReport covers every account plus any claim whose own totals disagree
type ReconciliationReport struct {
	Accounts         []AccountReconciliation `json:"accounts"`
	DriftedAccounts  int                     `json:"drifted_accounts"`
	UnbalancedClaims []uint                  `json:"unbalanced_claims"`
}

// ReconciliationService recomputes balances independently of the incremental ledger updates
type ReconciliationService struct {
	repos *repository.Repositories
}

func NewReconciliationService(repos *repository.Repositories) *ReconciliationService {
	return &ReconciliationService{repos: repos}
}

// ReconcileAccount recomputes one patient's balance from claim rows
func (s *ReconciliationService) ReconcileAccount(ctx context.Context, patientID uint) (*AccountReconciliation, error) {
	account, err := s.repos.Account.FindByPatientID(ctx, patientID)
	if err != nil {
		return nil, dbError("reconcile account", map[string]any{"patient_id": patientID}, lookupErr("patient account", patientID, err))
	}

	computed, err := s.repos.Claim.SumOutstandingByPatient(ctx, patientID)
	if err != nil {
		return nil, dbError("reconcile account", map[string]any{"patient_id": patientID}, err)
	}

	recorded := account.TotalBalance.Round(2)
	drift := recorded.Sub(computed)
	return &AccountReconciliation{
		PatientID:       patientID,
		RecordedBalance: recorded,
		ComputedBalance: computed,
		Drift:           drift,
		Balanced:        drift.IsZero(),
	}, nil
}

// ReconcileAll checks every account and every claim
func (s *ReconciliationService) ReconcileAll(ctx context.Context) (*ReconciliationReport, error) {
	ids, err := s.repos.Account.ListPatientIDs(ctx)
	if err != nil {
		return nil, dbError("reconcile all", nil, err)
	}

	report := &ReconciliationReport{Accounts: make([]AccountReconciliation, 0, len(ids))}
	for _, id := range ids {
		rec, err := s.ReconcileAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !rec.Balanced {
			report.DriftedAccounts++
			logger.Warn("[Reconciliation] Account drift", "patient_id", id, "drift", rec.Drift.String())
		}
		report.Accounts = append(report.Accounts, *rec)
	}

	claims, err := s.repos.Claim.FindUnbalanced(ctx)
	if err != nil {
		return nil, dbError("reconcile all", nil, err)
	}
	report.UnbalancedClaims = make([]uint, 0, len(claims))
	for _, c := range claims {
		report.UnbalancedClaims = append(report.UnbalancedClaims, c.ID)
	}

	logger.Info("[Reconciliation] Finished", "accounts", len(ids), "drifted", report.DriftedAccounts, "unbalanced_claims", len(claims))
	return report, nil
}
