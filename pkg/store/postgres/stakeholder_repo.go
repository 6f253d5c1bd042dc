package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

type StakeholderRepository struct {
	db *gorm.DB
}

func NewStakeholderRepository(db *gorm.DB) *StakeholderRepository {
	return &StakeholderRepository{db: db}
}

func (r *StakeholderRepository) ListByWorkflow(ctx context.Context, workflowID uint) ([]model.WorkflowStakeholder, error) {
	var stakeholders []model.WorkflowStakeholder
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&stakeholders).Error
	return stakeholders, err
}

// MarkNotified flips the notified flag once delivery has been dispatched.
// Delivery itself is an external collaborator; this is the only mutation a
// stakeholder row ever sees.
func (r *StakeholderRepository) MarkNotified(ctx context.Context, id uint, when time.Time) (*model.WorkflowStakeholder, error) {
	result := r.db.WithContext(ctx).Model(&model.WorkflowStakeholder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"notified":    true,
			"notified_at": when,
			"updated_at":  when,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var stakeholder model.WorkflowStakeholder
	if err := r.db.WithContext(ctx).First(&stakeholder, id).Error; err != nil {
		return nil, err
	}
	return &stakeholder, nil
}

// MarkWorkflowNotified flips every still-unnotified row of a workflow once
// its resolution event has gone out, so the relay does not republish it.
// Rows already notified keep their original timestamp.
func (r *StakeholderRepository) MarkWorkflowNotified(ctx context.Context, workflowID uint, when time.Time) error {
	return r.db.WithContext(ctx).Model(&model.WorkflowStakeholder{}).
		Where("workflow_id = ? AND notified = ?", workflowID, false).
		Updates(map[string]interface{}{
			"notified":    true,
			"notified_at": when,
			"updated_at":  when,
		}).Error
}
