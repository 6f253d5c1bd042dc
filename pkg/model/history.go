package model

import "time"

// History actions written by the engine.
const (
	ActionCreated         = "created"
	ActionUpdated         = "updated"
	ActionReviewerAdded   = "reviewer_added"
	ActionReviewerDecided = "reviewer_decided"
	ActionStatusChanged   = "status_changed"
)

// WorkflowHistory is one immutable audit record. Rows are written in the same
// transaction as the state change they describe and are never updated.
type WorkflowHistory struct {
	ID          uint   `gorm:"primaryKey"`
	WorkflowID  uint   `gorm:"not null;index"`
	Action      string `gorm:"type:varchar(50);not null"`
	PerformedBy string `gorm:"not null"`
	Details     string `gorm:"type:text"`
	PerformedAt time.Time `gorm:"autoCreateTime;index"`
}

func (WorkflowHistory) TableName() string {
	return "workflow_history"
}
