package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
)

func newTestStore(t *testing.T) *Store {
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

	store := NewStoreWithDB(db)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func TestMarkWorkflowNotified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	earlier := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	already := &model.WorkflowStakeholder{WorkflowID: 1, StakeholderID: "finance-team", Notified: true, NotifiedAt: &earlier}
	pending := &model.WorkflowStakeholder{WorkflowID: 1, StakeholderID: "legal-team"}
	other := &model.WorkflowStakeholder{WorkflowID: 2, StakeholderID: "ops-team"}
	for _, row := range []*model.WorkflowStakeholder{already, pending, other} {
		if err := store.DB().Create(row).Error; err != nil {
			t.Fatalf("failed to seed stakeholder: %v", err)
		}
	}

	repo := NewStakeholderRepository(store.DB())
	if err := repo.MarkWorkflowNotified(ctx, 1, time.Now().UTC()); err != nil {
		t.Fatalf("MarkWorkflowNotified() error: %v", err)
	}

	rows, err := repo.ListByWorkflow(ctx, 1)
	if err != nil {
		t.Fatalf("ListByWorkflow() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 stakeholders, got %d", len(rows))
	}
	for _, row := range rows {
		if !row.Notified || row.NotifiedAt == nil {
			t.Fatalf("expected %s notified, got %+v", row.StakeholderID, row)
		}
	}
	// The row notified earlier keeps its original timestamp.
	if !rows[0].NotifiedAt.Equal(earlier) {
		t.Fatalf("expected notified_at %v preserved, got %v", earlier, rows[0].NotifiedAt)
	}

	// Other workflows are untouched.
	untouched, err := repo.ListByWorkflow(ctx, 2)
	if err != nil {
		t.Fatalf("ListByWorkflow() error: %v", err)
	}
	if len(untouched) != 1 || untouched[0].Notified {
		t.Fatalf("expected workflow 2 stakeholder unnotified, got %+v", untouched)
	}
}
