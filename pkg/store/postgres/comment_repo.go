package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

// CommentRepository is the append-only discussion thread. There is no update
// or delete; corrections are new comments.
type CommentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func (r *CommentRepository) Create(ctx context.Context, comment *model.WorkflowComment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *CommentRepository) ListByWorkflow(ctx context.Context, workflowID uint) ([]model.WorkflowComment, error) {
	var comments []model.WorkflowComment
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	return comments, err
}
