package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// ListFilter narrows a workflow listing. The handler enforces that only one
// dimension is set per call; item type and item id together scope to one
// external item.
type ListFilter struct {
	Status      *model.WorkflowStatus
	ItemType    *model.ItemType
	ItemID      string
	RequesterID string
}

func (r *WorkflowRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]model.ApprovalWorkflow, int64, error) {
	var workflows []model.ApprovalWorkflow
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ApprovalWorkflow{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ItemType != nil {
		query = query.Where("item_type = ?", *filter.ItemType)
	}
	if filter.ItemID != "" {
		query = query.Where("item_id = ?", filter.ItemID)
	}
	if filter.RequesterID != "" {
		query = query.Where("requester_id = ?", filter.RequesterID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&workflows).Error

	return workflows, total, err
}

// GetByID loads the workflow with every sub-resource the detail view shows.
// Comments and history are preloaded in creation order.
func (r *WorkflowRepository) GetByID(ctx context.Context, id uint) (*model.ApprovalWorkflow, error) {
	var workflow model.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Reviewers").
		Preload("Stakeholders").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("performed_at ASC, id ASC")
		}).
		First(&workflow, id).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}
