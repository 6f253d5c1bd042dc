package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/confops/confops/pkg/metrics"
	"github.com/confops/confops/pkg/model"
)

// Engine owns the workflow lifecycle. It is the only component that writes a
// workflow's aggregate status, and every mutation it performs writes history
// rows in the same transaction.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

type ReviewerInput struct {
	ReviewerID string
	Required   bool
}

type StakeholderInput struct {
	StakeholderID string
	Role          string
}

type CreateInput struct {
	Title          string
	Description    string
	ItemType       model.ItemType
	ItemID         string
	Priority       model.Priority
	DueDate        *time.Time
	EstimatedCosts string
	Metadata       model.JSONB
	Tags           []string
	Reviewers      []ReviewerInput
	Stakeholders   []StakeholderInput
}

// Create persists a workflow with its reviewer and stakeholder rows and a
// "created" history entry as one atomic unit.
func (e *Engine) Create(ctx context.Context, actor Principal, in CreateInput) (*model.ApprovalWorkflow, error) {
	if actor.ID == "" {
		return nil, invalidField("requester_id", "is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalidField("title", "must not be empty")
	}
	if !in.ItemType.Valid() {
		return nil, invalidField("item_type", fmt.Sprintf("unknown item type %q", in.ItemType))
	}
	if strings.TrimSpace(in.ItemID) == "" {
		return nil, invalidField("item_id", "is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, invalidField("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	seen := make(map[string]bool, len(in.Reviewers))
	for _, reviewer := range in.Reviewers {
		if strings.TrimSpace(reviewer.ReviewerID) == "" {
			return nil, invalidField("reviewer_ids", "must not contain empty ids")
		}
		if seen[reviewer.ReviewerID] {
			return nil, invalidField("reviewer_ids", fmt.Sprintf("duplicate reviewer %q", reviewer.ReviewerID))
		}
		seen[reviewer.ReviewerID] = true
	}

	workflow := &model.ApprovalWorkflow{
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		ItemType:       in.ItemType,
		ItemID:         in.ItemID,
		Status:         model.WorkflowPending,
		Priority:       priority,
		DueDate:        in.DueDate,
		EstimatedCosts: in.EstimatedCosts,
		RequesterID:    actor.ID,
		Metadata:       in.Metadata,
		Tags:           pqArray(in.Tags),
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(workflow).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		for _, reviewer := range in.Reviewers {
			row := &model.WorkflowReviewer{
				WorkflowID: workflow.ID,
				ReviewerID: reviewer.ReviewerID,
				IsRequired: reviewer.Required,
				Status:     model.ReviewerPending,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("store: %w", err)
			}
			workflow.Reviewers = append(workflow.Reviewers, *row)
		}
		for _, stakeholder := range in.Stakeholders {
			row := &model.WorkflowStakeholder{
				WorkflowID:    workflow.ID,
				StakeholderID: stakeholder.StakeholderID,
				Role:          stakeholder.Role,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("store: %w", err)
			}
			workflow.Stakeholders = append(workflow.Stakeholders, *row)
		}
		return writeHistory(tx, workflow.ID, model.ActionCreated, actor.ID,
			fmt.Sprintf("workflow created for %s %s", workflow.ItemType, workflow.ItemID))
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowsCreated.WithLabelValues(string(workflow.ItemType), string(workflow.Priority)).Inc()
	e.logger.Info("workflow created",
		zap.Uint("workflow_id", workflow.ID),
		zap.String("item_type", string(workflow.ItemType)),
		zap.String("requester_id", actor.ID))
	return workflow, nil
}

// RecordDecision renders a reviewer's decision and recomputes the parent
// workflow's aggregate status over a locked, consistent snapshot of all
// reviewer rows. A decided slot is never silently overwritten.
func (e *Engine) RecordDecision(ctx context.Context, actor Principal, reviewerRowID uint, decision model.ReviewerStatus, comments string) (*model.WorkflowReviewer, *model.ApprovalWorkflow, error) {
	if !decision.Decision() {
		return nil, nil, invalidField("status", fmt.Sprintf("decision must be approved or rejected, got %q", decision))
	}

	var (
		reviewer model.WorkflowReviewer
		workflow *model.ApprovalWorkflow
		previous model.WorkflowStatus
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&reviewer, reviewerRowID).Error; err != nil {
			return wrapStore(err, "reviewer", reviewerRowID)
		}

		var err error
		workflow, err = lockWorkflow(tx, reviewer.WorkflowID)
		if err != nil {
			return err
		}
		previous = workflow.Status

		// The pre-lock read only resolved the parent workflow id. A rival
		// decision may have committed while we waited on the lock, so the
		// finality guard must check the slot as it stands now.
		if err := lockedFirst(tx, &reviewer, reviewerRowID); err != nil {
			return wrapStore(err, "reviewer", reviewerRowID)
		}
		if reviewer.Status != model.ReviewerPending {
			return invalidTransition("reviewer %d has already %s; decisions are final", reviewer.ID, reviewer.Status)
		}

		now := time.Now().UTC()
		reviewer.Status = decision
		reviewer.ReviewedAt = &now
		reviewer.Comments = comments
		if err := tx.Model(&model.WorkflowReviewer{}).Where("id = ?", reviewer.ID).Updates(map[string]interface{}{
			"status":      decision,
			"reviewed_at": &now,
			"comments":    comments,
			"updated_at":  now,
		}).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}

		var reviewers []model.WorkflowReviewer
		if err := tx.Where("workflow_id = ?", workflow.ID).Find(&reviewers).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}

		aggregate := AggregateStatus(reviewers)
		if workflow.Status != model.WorkflowCancelled && aggregate != workflow.Status {
			if err := tx.Model(&model.ApprovalWorkflow{}).Where("id = ?", workflow.ID).Updates(map[string]interface{}{
				"status":     aggregate,
				"updated_at": now,
			}).Error; err != nil {
				return fmt.Errorf("store: %w", err)
			}
			if err := writeHistory(tx, workflow.ID, model.ActionStatusChanged, actor.ID,
				fmt.Sprintf("%s -> %s", workflow.Status, aggregate)); err != nil {
				return err
			}
			workflow.Status = aggregate
		}

		return writeHistory(tx, workflow.ID, model.ActionReviewerDecided, actor.ID,
			fmt.Sprintf("reviewer %s %s", reviewer.ReviewerID, decision))
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.ReviewerDecisions.WithLabelValues(string(decision), requiredLabel(reviewer.IsRequired)).Inc()
	if workflow.Status != previous {
		metrics.StatusTransitions.WithLabelValues(string(previous), string(workflow.Status)).Inc()
		e.logger.Info("workflow status changed",
			zap.Uint("workflow_id", workflow.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(workflow.Status)))
	}
	return &reviewer, workflow, nil
}

// OverrideStatus sets the workflow status directly. Cancellation is always
// reachable by the requester or an admin; any other target must agree with
// the aggregation rule, so an override can never contradict the reviewer rows.
func (e *Engine) OverrideStatus(ctx context.Context, actor Principal, workflowID uint, target model.WorkflowStatus) (*model.ApprovalWorkflow, error) {
	if !target.Valid() {
		return nil, invalidField("status", fmt.Sprintf("unknown status %q", target))
	}

	var (
		workflow *model.ApprovalWorkflow
		previous model.WorkflowStatus
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		workflow, err = lockWorkflow(tx, workflowID)
		if err != nil {
			return err
		}
		previous = workflow.Status

		if target == model.WorkflowCancelled {
			if !actor.CanCancel(workflow.RequesterID) {
				return &PermissionError{Reason: "only the requester or an admin may cancel a workflow"}
			}
			if workflow.Status == model.WorkflowCancelled {
				return nil
			}
		} else {
			if !actor.IsAdmin() {
				return &PermissionError{Reason: "only an admin may override status"}
			}
			if workflow.Status == model.WorkflowCancelled {
				return invalidTransition("workflow %d is cancelled", workflow.ID)
			}
			var reviewers []model.WorkflowReviewer
			if err := tx.Where("workflow_id = ?", workflow.ID).Find(&reviewers).Error; err != nil {
				return fmt.Errorf("store: %w", err)
			}
			if aggregate := AggregateStatus(reviewers); target != aggregate {
				return invalidTransition("status %s conflicts with reviewer decisions (aggregate is %s)", target, aggregate)
			}
			if workflow.Status == target {
				return nil
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.ApprovalWorkflow{}).Where("id = ?", workflow.ID).Updates(map[string]interface{}{
			"status":     target,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := writeHistory(tx, workflow.ID, model.ActionStatusChanged, actor.ID,
			fmt.Sprintf("%s -> %s", workflow.Status, target)); err != nil {
			return err
		}
		workflow.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	if workflow.Status != previous {
		metrics.StatusTransitions.WithLabelValues(string(previous), string(workflow.Status)).Inc()
		e.logger.Info("workflow status overridden",
			zap.Uint("workflow_id", workflow.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(workflow.Status)),
			zap.String("performed_by", actor.ID))
	}
	return workflow, nil
}

type UpdateInput struct {
	Title          *string
	Description    *string
	Priority       *model.Priority
	DueDate        *time.Time
	EstimatedCosts *string
	Metadata       model.JSONB
	Tags           []string
}

// Update applies a partial update of non-status fields and records it.
func (e *Engine) Update(ctx context.Context, actor Principal, workflowID uint, in UpdateInput) (*model.ApprovalWorkflow, error) {
	updates := map[string]interface{}{}
	var changed []string
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, invalidField("title", "must not be empty")
		}
		updates["title"] = strings.TrimSpace(*in.Title)
		changed = append(changed, "title")
	}
	if in.Description != nil {
		updates["description"] = *in.Description
		changed = append(changed, "description")
	}
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return nil, invalidField("priority", fmt.Sprintf("unknown priority %q", *in.Priority))
		}
		updates["priority"] = *in.Priority
		changed = append(changed, "priority")
	}
	if in.DueDate != nil {
		updates["due_date"] = in.DueDate
		changed = append(changed, "due_date")
	}
	if in.EstimatedCosts != nil {
		updates["estimated_costs"] = *in.EstimatedCosts
		changed = append(changed, "estimated_costs")
	}
	if in.Metadata != nil {
		updates["metadata"] = in.Metadata
		changed = append(changed, "metadata")
	}
	if in.Tags != nil {
		updates["tags"] = pqArray(in.Tags)
		changed = append(changed, "tags")
	}

	var workflow *model.ApprovalWorkflow
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		workflow, err = lockWorkflow(tx, workflowID)
		if err != nil {
			return err
		}
		if !actor.CanEdit(workflow.RequesterID) {
			return &PermissionError{Reason: "only the requester or an admin may update a workflow"}
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = time.Now().UTC()
		if err := tx.Model(&model.ApprovalWorkflow{}).Where("id = ?", workflow.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := writeHistory(tx, workflow.ID, model.ActionUpdated, actor.ID,
			"changed "+strings.Join(changed, ", ")); err != nil {
			return err
		}
		return tx.First(workflow, workflow.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return workflow, nil
}

// AddReviewer attaches a reviewer slot to a still-pending workflow. Adding a
// required slot to a resolved workflow would invalidate its stored aggregate,
// so anything past pending is refused.
func (e *Engine) AddReviewer(ctx context.Context, actor Principal, workflowID uint, reviewerID string, required bool) (*model.WorkflowReviewer, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, invalidField("reviewer_id", "is required")
	}

	row := &model.WorkflowReviewer{
		WorkflowID: workflowID,
		ReviewerID: reviewerID,
		IsRequired: required,
		Status:     model.ReviewerPending,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workflow, err := lockWorkflow(tx, workflowID)
		if err != nil {
			return err
		}
		if workflow.Status != model.WorkflowPending {
			return invalidTransition("cannot add reviewers to a %s workflow", workflow.Status)
		}
		var count int64
		if err := tx.Model(&model.WorkflowReviewer{}).
			Where("workflow_id = ? AND reviewer_id = ?", workflowID, reviewerID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if count > 0 {
			return invalidField("reviewer_id", fmt.Sprintf("reviewer %q is already assigned", reviewerID))
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return writeHistory(tx, workflowID, model.ActionReviewerAdded, actor.ID,
			fmt.Sprintf("reviewer %s added (required=%t)", reviewerID, required))
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Delete cascades removal of all child rows before the workflow row itself,
// inside one transaction, so no orphaned children can survive a crash.
func (e *Engine) Delete(ctx context.Context, actor Principal, workflowID uint) error {
	if !actor.CanDelete() {
		return &PermissionError{Reason: "only an admin may delete a workflow"}
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var workflow model.ApprovalWorkflow
		if err := tx.First(&workflow, workflowID).Error; err != nil {
			return wrapStore(err, "workflow", workflowID)
		}
		for _, child := range []interface{}{
			&model.WorkflowReviewer{},
			&model.WorkflowStakeholder{},
			&model.WorkflowComment{},
			&model.WorkflowHistory{},
		} {
			if err := tx.Where("workflow_id = ?", workflowID).Delete(child).Error; err != nil {
				return fmt.Errorf("store: %w", err)
			}
		}
		if err := tx.Delete(&model.ApprovalWorkflow{}, workflowID).Error; err != nil {
			return fmt.Errorf("store: %w", err)
		}
		e.logger.Info("workflow deleted",
			zap.Uint("workflow_id", workflowID),
			zap.String("performed_by", actor.ID))
		return nil
	})
}

// lockWorkflow loads the workflow row under FOR UPDATE on postgres so that
// concurrent decisions serialize on the parent row. Other dialects (sqlite in
// tests) serialize writes themselves.
func lockWorkflow(tx *gorm.DB, id uint) (*model.ApprovalWorkflow, error) {
	var workflow model.ApprovalWorkflow
	if err := lockedFirst(tx, &workflow, id); err != nil {
		return nil, wrapStore(err, "workflow", id)
	}
	return &workflow, nil
}

// lockedFirst reads a row FOR UPDATE on postgres.
func lockedFirst(tx *gorm.DB, dest interface{}, id uint) error {
	query := tx
	if tx.Dialector.Name() == "postgres" {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query.First(dest, id).Error
}

func writeHistory(tx *gorm.DB, workflowID uint, action, performedBy, details string) error {
	entry := &model.WorkflowHistory{
		WorkflowID:  workflowID,
		Action:      action,
		PerformedBy: performedBy,
		Details:     details,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("store: history: %w", err)
	}
	return nil
}

func pqArray(values []string) pq.StringArray {
	return pq.StringArray(values)
}

func requiredLabel(required bool) string {
	if required {
		return "required"
	}
	return "optional"
}
