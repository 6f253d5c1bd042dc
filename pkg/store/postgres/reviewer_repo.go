package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

// ReviewerRepository answers the two reviewer-scoped reads: everything on a
// workflow, and everything pending a given principal's review. Aggregation
// never happens here; that belongs to the engine.
type ReviewerRepository struct {
	db *gorm.DB
}

func NewReviewerRepository(db *gorm.DB) *ReviewerRepository {
	return &ReviewerRepository{db: db}
}

func (r *ReviewerRepository) GetByID(ctx context.Context, id uint) (*model.WorkflowReviewer, error) {
	var reviewer model.WorkflowReviewer
	if err := r.db.WithContext(ctx).First(&reviewer, id).Error; err != nil {
		return nil, err
	}
	return &reviewer, nil
}

func (r *ReviewerRepository) ListByWorkflow(ctx context.Context, workflowID uint) ([]model.WorkflowReviewer, error) {
	var reviewers []model.WorkflowReviewer
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&reviewers).Error
	return reviewers, err
}

func (r *ReviewerRepository) ListByReviewer(ctx context.Context, reviewerID string) ([]model.WorkflowReviewer, error) {
	var reviewers []model.WorkflowReviewer
	err := r.db.WithContext(ctx).
		Where("reviewer_id = ?", reviewerID).
		Order("id ASC").
		Find(&reviewers).Error
	return reviewers, err
}
