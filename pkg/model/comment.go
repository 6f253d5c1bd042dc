package model

import "time"

// WorkflowComment is an append-only discussion entry. Comments are never
// edited or deleted; corrections are new comments.
type WorkflowComment struct {
	ID          uint   `gorm:"primaryKey"`
	WorkflowID  uint   `gorm:"not null;index"`
	CommenterID string `gorm:"not null"`
	Comment     string `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"index"`
}

func (WorkflowComment) TableName() string {
	return "workflow_comments"
}
