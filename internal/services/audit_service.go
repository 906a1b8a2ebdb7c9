package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"gorm.io/datatypes"
)

// AuditRecord is one ledger mutation to be appended to the audit trail
type AuditRecord struct {
	Table     string
	EntityID  uint
	Action    string
	OldValues map[string]any
	NewValues map[string]any
	ActorID   uint
	Reason    string
}

// AuditService reads the audit trail and appends entries inside ledger transactions
type AuditService struct {
	repo repository.AuditRepository
}

func NewAuditService(repo repository.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Record appends rec through repo, which must be bound to the caller's transaction
func (s *AuditService) Record(ctx context.Context, repo repository.AuditRepository, rec AuditRecord) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		EntityTable: rec.Table,
		EntityID:    rec.EntityID,
		Action:      rec.Action,
		ActorID:     rec.ActorID,
	}
	if rec.Reason != "" {
		reason := rec.Reason
		entry.Reason = &reason
	}

	var err error
	if entry.OldValues, err = toJSON(rec.OldValues); err != nil {
		return nil, fmt.Errorf("encode old values: %w", err)
	}
	if entry.NewValues, err = toJSON(rec.NewValues); err != nil {
		return nil, fmt.Errorf("encode new values: %w", err)
	}

	if err := repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns every audit entry for one entity, oldest first
func (s *AuditService) History(ctx context.Context, table string, entityID uint) ([]models.AuditEntry, error) {
	return s.repo.FindByEntity(ctx, table, entityID)
}

// List retrieves audit entries with filters
func (s *AuditService) List(ctx context.Context, query *repository.ListQuery) ([]models.AuditEntry, int64, error) {
	return s.repo.List(ctx, query)
}

func toJSON(values map[string]any) (datatypes.JSON, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
