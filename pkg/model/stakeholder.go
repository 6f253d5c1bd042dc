package model

import "time"

// WorkflowStakeholder is a non-deciding observer entitled to outcome
// notification. Dispatch itself happens outside this subsystem; only the
// notified flag is tracked here.
type WorkflowStakeholder struct {
	ID            uint   `gorm:"primaryKey"`
	WorkflowID    uint   `gorm:"not null;index"`
	StakeholderID string `gorm:"not null;index"`
	Role          string
	Notified      bool `gorm:"not null;default:false"`
	NotifiedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (WorkflowStakeholder) TableName() string {
	return "workflow_stakeholders"
}
