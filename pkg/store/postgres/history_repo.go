package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

// HistoryRepository reads the audit ledger. Rows are only ever written by the
// engine, inside the transaction of the mutation they record.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) ListByWorkflow(ctx context.Context, workflowID uint) ([]model.WorkflowHistory, error) {
	var entries []model.WorkflowHistory
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("performed_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}
