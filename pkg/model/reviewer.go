package model

import "time"

type ReviewerStatus string

const (
	ReviewerPending  ReviewerStatus = "pending"
	ReviewerApproved ReviewerStatus = "approved"
	ReviewerRejected ReviewerStatus = "rejected"
)

func (s ReviewerStatus) Valid() bool {
	switch s {
	case ReviewerPending, ReviewerApproved, ReviewerRejected:
		return true
	default:
		return false
	}
}

// Decision reports whether s is a rendered decision rather than the initial state.
func (s ReviewerStatus) Decision() bool {
	return s == ReviewerApproved || s == ReviewerRejected
}

// WorkflowReviewer is one decision slot on a workflow. Required slots
// participate in status aggregation; optional slots are advisory only.
type WorkflowReviewer struct {
	ID         uint           `gorm:"primaryKey"`
	WorkflowID uint           `gorm:"not null;index"`
	ReviewerID string         `gorm:"not null;index"`
	IsRequired bool           `gorm:"not null;default:true"`
	Status     ReviewerStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	ReviewedAt *time.Time
	Comments   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (WorkflowReviewer) TableName() string {
	return "workflow_reviewers"
}
