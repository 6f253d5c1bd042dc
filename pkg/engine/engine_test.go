package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.ApprovalWorkflow{},
		&model.WorkflowReviewer{},
		&model.WorkflowStakeholder{},
		&model.WorkflowComment{},
		&model.WorkflowHistory{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return New(db, zap.NewNop())
}

var (
	requester = Principal{ID: "alice", Role: RoleMember}
	admin     = Principal{ID: "root", Role: RoleAdmin}
)

func createWorkflow(t *testing.T, e *Engine, reviewers ...ReviewerInput) *model.ApprovalWorkflow {
	t.Helper()
	workflow, err := e.Create(context.Background(), requester, CreateInput{
		Title:     "KubeCon sponsorship tier",
		ItemType:  model.ItemSponsorship,
		ItemID:    "sponsorship-42",
		Reviewers: reviewers,
		Stakeholders: []StakeholderInput{
			{StakeholderID: "finance-team", Role: "budget owner"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return workflow
}

func historyActions(t *testing.T, e *Engine, workflowID uint) []string {
	t.Helper()
	var entries []model.WorkflowHistory
	if err := e.db.Where("workflow_id = ?", workflowID).Order("id ASC").Find(&entries).Error; err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestCreateWorkflow(t *testing.T) {
	e := newTestEngine(t)

	workflow := createWorkflow(t, e,
		ReviewerInput{ReviewerID: "bob", Required: true},
		ReviewerInput{ReviewerID: "carol", Required: false},
	)

	if workflow.ID == 0 {
		t.Fatal("expected a store-assigned id")
	}
	if workflow.Status != model.WorkflowPending {
		t.Fatalf("expected pending, got %s", workflow.Status)
	}
	if workflow.Priority != model.PriorityMedium {
		t.Fatalf("expected default medium priority, got %s", workflow.Priority)
	}
	if len(workflow.Reviewers) != 2 || len(workflow.Stakeholders) != 1 {
		t.Fatalf("expected 2 reviewers and 1 stakeholder, got %d/%d",
			len(workflow.Reviewers), len(workflow.Stakeholders))
	}

	actions := historyActions(t, e, workflow.ID)
	if len(actions) != 1 || actions[0] != model.ActionCreated {
		t.Fatalf("expected single created entry, got %v", actions)
	}
}

func TestCreateValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{
			name:  "empty title",
			in:    CreateInput{Title: "  ", ItemType: model.ItemEvent, ItemID: "e-1"},
			field: "title",
		},
		{
			name:  "unknown item type",
			in:    CreateInput{Title: "x", ItemType: "venue", ItemID: "e-1"},
			field: "item_type",
		},
		{
			name:  "missing item id",
			in:    CreateInput{Title: "x", ItemType: model.ItemEvent},
			field: "item_id",
		},
		{
			name: "duplicate reviewers",
			in: CreateInput{
				Title: "x", ItemType: model.ItemEvent, ItemID: "e-1",
				Reviewers: []ReviewerInput{{ReviewerID: "bob"}, {ReviewerID: "bob"}},
			},
			field: "reviewer_ids",
		},
		{
			name:  "unknown priority",
			in:    CreateInput{Title: "x", ItemType: model.ItemEvent, ItemID: "e-1", Priority: "urgent"},
			field: "priority",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Create(ctx, requester, tc.in)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, validation.Field)
			}
		})
	}

	var count int64
	e.db.Model(&model.ApprovalWorkflow{}).Count(&count)
	if count != 0 {
		t.Fatalf("validation failures must not write, found %d workflows", count)
	}
}

// Two required reviewers and one optional: approval needs both required
// reviewers, and the optional rejection never vetoes.
func TestDecisionAggregation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e,
		ReviewerInput{ReviewerID: "a", Required: true},
		ReviewerInput{ReviewerID: "b", Required: true},
		ReviewerInput{ReviewerID: "c", Required: false},
	)
	slots := workflow.Reviewers

	_, wf, err := e.RecordDecision(ctx, Principal{ID: "a"}, slots[0].ID, model.ReviewerApproved, "fine by me")
	if err != nil {
		t.Fatalf("first decision error: %v", err)
	}
	if wf.Status != model.WorkflowPending {
		t.Fatalf("after one of two required approvals expected pending, got %s", wf.Status)
	}

	_, wf, err = e.RecordDecision(ctx, Principal{ID: "c"}, slots[2].ID, model.ReviewerRejected, "advisory concern")
	if err != nil {
		t.Fatalf("optional decision error: %v", err)
	}
	if wf.Status != model.WorkflowPending {
		t.Fatalf("optional rejection must not affect aggregate, got %s", wf.Status)
	}

	rev, wf, err := e.RecordDecision(ctx, Principal{ID: "b"}, slots[1].ID, model.ReviewerApproved, "")
	if err != nil {
		t.Fatalf("final decision error: %v", err)
	}
	if wf.Status != model.WorkflowApproved {
		t.Fatalf("expected approved, got %s", wf.Status)
	}
	if rev.ReviewedAt == nil {
		t.Fatal("expected reviewed_at to be set on decision")
	}

	var changed model.WorkflowHistory
	err = e.db.Where("workflow_id = ? AND action = ?", workflow.ID, model.ActionStatusChanged).First(&changed).Error
	if err != nil {
		t.Fatalf("expected a status_changed entry: %v", err)
	}
	if changed.Details != "pending -> approved" {
		t.Fatalf("expected details 'pending -> approved', got %q", changed.Details)
	}
}

func TestRequiredRejectionVetoes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e,
		ReviewerInput{ReviewerID: "a", Required: true},
		ReviewerInput{ReviewerID: "b", Required: true},
	)
	slots := workflow.Reviewers

	_, wf, err := e.RecordDecision(ctx, Principal{ID: "a"}, slots[0].ID, model.ReviewerRejected, "over budget")
	if err != nil {
		t.Fatalf("rejection error: %v", err)
	}
	if wf.Status != model.WorkflowRejected {
		t.Fatalf("expected immediate rejection, got %s", wf.Status)
	}

	// B's decision is still recorded but cannot flip the workflow back.
	rev, wf, err := e.RecordDecision(ctx, Principal{ID: "b"}, slots[1].ID, model.ReviewerApproved, "")
	if err != nil {
		t.Fatalf("late approval error: %v", err)
	}
	if rev.Status != model.ReviewerApproved {
		t.Fatalf("expected reviewer row updated, got %s", rev.Status)
	}
	if wf.Status != model.WorkflowRejected {
		t.Fatalf("workflow must stay rejected, got %s", wf.Status)
	}
}

func TestNoDoubleDecision(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})
	slot := workflow.Reviewers[0]

	first, wf, err := e.RecordDecision(ctx, Principal{ID: "a"}, slot.ID, model.ReviewerApproved, "ok")
	if err != nil {
		t.Fatalf("decision error: %v", err)
	}
	if wf.Status != model.WorkflowApproved {
		t.Fatalf("expected approved, got %s", wf.Status)
	}

	_, _, err = e.RecordDecision(ctx, Principal{ID: "a"}, slot.ID, model.ReviewerRejected, "changed my mind")
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	var stored model.WorkflowReviewer
	if err := e.db.First(&stored, slot.ID).Error; err != nil {
		t.Fatalf("failed to reload reviewer: %v", err)
	}
	if stored.Status != model.ReviewerApproved || stored.Comments != "ok" {
		t.Fatalf("stored decision must be unchanged, got %s %q", stored.Status, stored.Comments)
	}
	if stored.ReviewedAt == nil || first.ReviewedAt == nil {
		t.Fatal("reviewed_at must stay set from the first decision")
	}

	var storedWorkflow model.ApprovalWorkflow
	if err := e.db.First(&storedWorkflow, workflow.ID).Error; err != nil {
		t.Fatalf("failed to reload workflow: %v", err)
	}
	if storedWorkflow.Status != model.WorkflowApproved {
		t.Fatalf("aggregate must be unchanged, got %s", storedWorkflow.Status)
	}
}

// A rival decision landing between RecordDecision's first read of the slot
// and its acquisition of the workflow lock must not be overwritten. The query
// callback flips the slot right after that first read, standing in for a
// concurrent transaction committing while we wait on the lock.
func TestRivalDecisionIsNotOverwritten(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})
	slot := workflow.Reviewers[0]

	flipped := false
	err := e.db.Callback().Query().After("gorm:query").Register("rival_decision", func(db *gorm.DB) {
		if flipped {
			return
		}
		if _, ok := db.Statement.Dest.(*model.WorkflowReviewer); !ok {
			return
		}
		flipped = true
		now := time.Now().UTC()
		rival := db.Session(&gorm.Session{NewDB: true})
		if err := rival.Model(&model.WorkflowReviewer{}).Where("id = ?", slot.ID).Updates(map[string]interface{}{
			"status":      model.ReviewerApproved,
			"reviewed_at": &now,
			"comments":    "first in",
			"updated_at":  now,
		}).Error; err != nil {
			t.Errorf("rival update error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	_, _, err = e.RecordDecision(ctx, Principal{ID: "a"}, slot.ID, model.ReviewerRejected, "second in")
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	var stored model.WorkflowReviewer
	if err := e.db.First(&stored, slot.ID).Error; err != nil {
		t.Fatalf("failed to reload reviewer: %v", err)
	}
	if stored.Status == model.ReviewerRejected || stored.Comments == "second in" {
		t.Fatalf("racing decision must not be applied, got %s %q", stored.Status, stored.Comments)
	}
}

func TestDecisionValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})

	_, _, err := e.RecordDecision(ctx, Principal{ID: "a"}, workflow.Reviewers[0].ID, "pending", "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for non-decision status, got %v", err)
	}

	_, _, err = e.RecordDecision(ctx, Principal{ID: "a"}, 9999, model.ReviewerApproved, "")
	var missing *NotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestOverrideStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})

	// Approving past a pending required reviewer conflicts with aggregation.
	_, err := e.OverrideStatus(ctx, admin, workflow.ID, model.WorkflowApproved)
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// A stranger cannot cancel someone else's workflow.
	_, err = e.OverrideStatus(ctx, Principal{ID: "mallory", Role: RoleMember}, workflow.ID, model.WorkflowCancelled)
	var forbidden *PermissionError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected PermissionError, got %v", err)
	}

	// The requester can always cancel.
	wf, err := e.OverrideStatus(ctx, requester, workflow.ID, model.WorkflowCancelled)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if wf.Status != model.WorkflowCancelled {
		t.Fatalf("expected cancelled, got %s", wf.Status)
	}

	// Cancelled is terminal for overrides other than cancel itself.
	_, err = e.OverrideStatus(ctx, admin, workflow.ID, model.WorkflowApproved)
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError after cancel, got %v", err)
	}

	// A late reviewer decision is recorded without reviving the workflow.
	_, wf, err = e.RecordDecision(ctx, Principal{ID: "a"}, workflow.Reviewers[0].ID, model.ReviewerApproved, "")
	if err != nil {
		t.Fatalf("decision after cancel error: %v", err)
	}
	if wf.Status != model.WorkflowCancelled {
		t.Fatalf("cancelled workflow must stay cancelled, got %s", wf.Status)
	}
}

func TestOverrideToAggregateIsAccepted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})
	if _, _, err := e.RecordDecision(ctx, Principal{ID: "a"}, workflow.Reviewers[0].ID, model.ReviewerApproved, ""); err != nil {
		t.Fatalf("decision error: %v", err)
	}

	// Target agrees with the aggregate, so the override is a no-op success.
	wf, err := e.OverrideStatus(ctx, admin, workflow.ID, model.WorkflowApproved)
	if err != nil {
		t.Fatalf("override error: %v", err)
	}
	if wf.Status != model.WorkflowApproved {
		t.Fatalf("expected approved, got %s", wf.Status)
	}
}

func TestEmptyReviewerSetStaysPending(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e)
	if workflow.Status != model.WorkflowPending {
		t.Fatalf("expected pending, got %s", workflow.Status)
	}

	// With nothing to aggregate, approval is unreachable by override.
	_, err := e.OverrideStatus(ctx, admin, workflow.ID, model.WorkflowApproved)
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Cancellation remains the escape hatch.
	wf, err := e.OverrideStatus(ctx, requester, workflow.ID, model.WorkflowCancelled)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if wf.Status != model.WorkflowCancelled {
		t.Fatalf("expected cancelled, got %s", wf.Status)
	}
}

func TestAddReviewer(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})

	added, err := e.AddReviewer(ctx, requester, workflow.ID, "dave", false)
	if err != nil {
		t.Fatalf("AddReviewer() error: %v", err)
	}
	if added.Status != model.ReviewerPending || added.IsRequired {
		t.Fatalf("unexpected reviewer row: %+v", added)
	}

	if _, err := e.AddReviewer(ctx, requester, workflow.ID, "a", true); err == nil {
		t.Fatal("expected duplicate reviewer to be rejected")
	}

	if _, _, err := e.RecordDecision(ctx, Principal{ID: "a"}, workflow.Reviewers[0].ID, model.ReviewerApproved, ""); err != nil {
		t.Fatalf("decision error: %v", err)
	}

	_, err = e.AddReviewer(ctx, requester, workflow.ID, "erin", true)
	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError on resolved workflow, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e,
		ReviewerInput{ReviewerID: "a", Required: true},
		ReviewerInput{ReviewerID: "b", Required: false},
	)
	comment := &model.WorkflowComment{WorkflowID: workflow.ID, CommenterID: "bob", Comment: "looks fine"}
	if err := e.db.Create(comment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}

	if err := e.Delete(ctx, requester, workflow.ID); err == nil {
		t.Fatal("expected non-admin delete to be refused")
	}

	if err := e.Delete(ctx, admin, workflow.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	for name, value := range map[string]interface{}{
		"workflows":    &model.ApprovalWorkflow{},
		"reviewers":    &model.WorkflowReviewer{},
		"stakeholders": &model.WorkflowStakeholder{},
		"comments":     &model.WorkflowComment{},
		"history":      &model.WorkflowHistory{},
	} {
		var count int64
		e.db.Model(value).Count(&count)
		if count != 0 {
			t.Fatalf("expected zero %s after cascade, found %d", name, count)
		}
	}

	var missing *NotFoundError
	if err := e.Delete(ctx, admin, workflow.ID); !errors.As(err, &missing) {
		t.Fatalf("expected NotFoundError on second delete, got %v", err)
	}
}

func TestUpdateWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e)

	title := "KubeCon platinum sponsorship"
	priority := model.PriorityHigh
	updated, err := e.Update(ctx, requester, workflow.ID, UpdateInput{
		Title:    &title,
		Priority: &priority,
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Title != title || updated.Priority != model.PriorityHigh {
		t.Fatalf("update not applied: %+v", updated)
	}

	actions := historyActions(t, e, workflow.ID)
	if actions[len(actions)-1] != model.ActionUpdated {
		t.Fatalf("expected updated history entry, got %v", actions)
	}

	empty := " "
	if _, err := e.Update(ctx, requester, workflow.ID, UpdateInput{Title: &empty}); err == nil {
		t.Fatal("expected empty title to be rejected")
	}
}

// Every successful mutation leaves at least one new history row behind.
func TestHistoryCompleteness(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	workflow := createWorkflow(t, e, ReviewerInput{ReviewerID: "a", Required: true})
	before := len(historyActions(t, e, workflow.ID))

	if _, err := e.AddReviewer(ctx, requester, workflow.ID, "dave", false); err != nil {
		t.Fatalf("AddReviewer() error: %v", err)
	}
	if _, _, err := e.RecordDecision(ctx, Principal{ID: "a"}, workflow.Reviewers[0].ID, model.ReviewerApproved, ""); err != nil {
		t.Fatalf("decision error: %v", err)
	}

	actions := historyActions(t, e, workflow.ID)
	// reviewer_added, then reviewer_decided plus the status_changed it caused.
	if len(actions) != before+3 {
		t.Fatalf("expected %d history rows, got %d: %v", before+3, len(actions), actions)
	}
}
