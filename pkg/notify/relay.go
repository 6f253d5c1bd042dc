package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

// Publisher is the outbound side of the relay. The redis Bus satisfies it;
// tests substitute a fake.
type Publisher interface {
	PublishResolved(ctx context.Context, workflow *model.ApprovalWorkflow, stakeholders []model.WorkflowStakeholder) error
}

// Relay sweeps resolved workflows whose stakeholders have not been notified
// yet and republishes their events. It backstops the api-server's best-effort
// publish: if redis was down when a workflow resolved, the stakeholders are
// still owed an event.
type Relay struct {
	db           *gorm.DB
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
}

func NewRelay(db *gorm.DB, publisher Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		db:           db,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("notify relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("notify relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.processPending(ctx)
		}
	}
}

func (r *Relay) processPending(ctx context.Context) {
	var stakeholders []model.WorkflowStakeholder
	err := r.db.WithContext(ctx).
		Joins("JOIN approval_workflows ON approval_workflows.id = workflow_stakeholders.workflow_id").
		Where("workflow_stakeholders.notified = ?", false).
		Where("approval_workflows.status IN ?", []model.WorkflowStatus{
			model.WorkflowApproved,
			model.WorkflowRejected,
			model.WorkflowCancelled,
		}).
		Order("workflow_stakeholders.id ASC").
		Limit(r.batchSize).
		Find(&stakeholders).Error
	if err != nil {
		r.logger.Warn("failed to list pending stakeholder notifications", zap.Error(err))
		return
	}
	if len(stakeholders) == 0 {
		return
	}

	byWorkflow := make(map[uint][]model.WorkflowStakeholder)
	for _, s := range stakeholders {
		byWorkflow[s.WorkflowID] = append(byWorkflow[s.WorkflowID], s)
	}

	for workflowID, pending := range byWorkflow {
		if err := r.publishWorkflow(ctx, workflowID, pending); err != nil {
			r.logger.Warn("failed to relay workflow event",
				zap.Uint("workflow_id", workflowID),
				zap.Error(err))
		}
	}
}

func (r *Relay) publishWorkflow(ctx context.Context, workflowID uint, pending []model.WorkflowStakeholder) error {
	var workflow model.ApprovalWorkflow
	if err := r.db.WithContext(ctx).First(&workflow, workflowID).Error; err != nil {
		return err
	}

	if err := r.publisher.PublishResolved(ctx, &workflow, pending); err != nil {
		return err
	}

	now := time.Now().UTC()
	ids := make([]uint, 0, len(pending))
	for _, s := range pending {
		ids = append(ids, s.ID)
	}
	return r.db.WithContext(ctx).Model(&model.WorkflowStakeholder{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"notified":    true,
			"notified_at": now,
			"updated_at":  now,
		}).Error
}
