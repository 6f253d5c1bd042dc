package engine

import "github.com/confops/confops/pkg/model"

// AggregateStatus derives the workflow status from the full reviewer set.
// A single required rejection vetoes the workflow. Approval needs every
// required reviewer to have approved, and at least one required reviewer to
// exist. Optional reviewers never affect the result.
//
// Callers must always recompute over the complete reviewer set rather than
// patching the stored status incrementally, so the stored aggregate cannot
// drift from the reviewer rows.
func AggregateStatus(reviewers []model.WorkflowReviewer) model.WorkflowStatus {
	required := 0
	pending := 0
	for _, r := range reviewers {
		if !r.IsRequired {
			continue
		}
		if r.Status == model.ReviewerRejected {
			return model.WorkflowRejected
		}
		required++
		if r.Status == model.ReviewerPending {
			pending++
		}
	}
	if required == 0 || pending > 0 {
		return model.WorkflowPending
	}
	return model.WorkflowApproved
}
