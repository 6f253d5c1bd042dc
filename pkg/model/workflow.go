package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowApproved  WorkflowStatus = "approved"
	WorkflowRejected  WorkflowStatus = "rejected"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowApproved, WorkflowRejected, WorkflowCancelled:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// ItemType is the kind of external entity a workflow routes through approval.
// The workflow subsystem only carries the reference; it never dereferences it.
type ItemType string

const (
	ItemEvent         ItemType = "event"
	ItemCFPSubmission ItemType = "cfp_submission"
	ItemSponsorship   ItemType = "sponsorship"
	ItemAttendee      ItemType = "attendee"
	ItemBudget        ItemType = "budget"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemEvent, ItemCFPSubmission, ItemSponsorship, ItemAttendee, ItemBudget:
		return true
	default:
		return false
	}
}

type ApprovalWorkflow struct {
	ID             uint           `gorm:"primaryKey"`
	Title          string         `gorm:"not null"`
	Description    string
	ItemType       ItemType       `gorm:"type:varchar(50);not null;index"`
	ItemID         string         `gorm:"not null;index"`
	Status         WorkflowStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Priority       Priority       `gorm:"type:varchar(20);not null;default:'medium'"`
	DueDate        *time.Time
	EstimatedCosts string
	RequesterID    string         `gorm:"not null;index"`
	Metadata       JSONB          `gorm:"type:jsonb;default:'{}'"`
	Tags           pq.StringArray `gorm:"type:text[]"`

	Reviewers    []WorkflowReviewer    `gorm:"foreignKey:WorkflowID"`
	Stakeholders []WorkflowStakeholder `gorm:"foreignKey:WorkflowID"`
	Comments     []WorkflowComment     `gorm:"foreignKey:WorkflowID"`
	History      []WorkflowHistory     `gorm:"foreignKey:WorkflowID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ApprovalWorkflow) TableName() string {
	return "approval_workflows"
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("failed to scan JSONB: %v", value)
		}
		bytes = []byte(s)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}
