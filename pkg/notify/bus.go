package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/confops/confops/pkg/metrics"
	"github.com/confops/confops/pkg/model"
)

// ChannelWorkflow carries resolution events for external notification
// dispatchers. The engine only decides who must be informed; delivery and
// retry policy live entirely on the consumer side of this channel.
const ChannelWorkflow = "confops:events:workflow"

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// WorkflowResolved names the stakeholders owed a notification for a workflow
// that reached a terminal status.
type WorkflowResolved struct {
	WorkflowID     uint     `json:"workflow_id"`
	ItemType       string   `json:"item_type"`
	ItemID         string   `json:"item_id"`
	Status         string   `json:"status"`
	RequesterID    string   `json:"requester_id"`
	StakeholderIDs []string `json:"stakeholder_ids"`
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

// PublishResolved is flag-and-forget: a slow or unreachable channel must never
// block a workflow state transition, so errors are returned for logging only.
func (b *Bus) PublishResolved(ctx context.Context, workflow *model.ApprovalWorkflow, stakeholders []model.WorkflowStakeholder) error {
	ids := make([]string, 0, len(stakeholders))
	for _, s := range stakeholders {
		ids = append(ids, s.StakeholderID)
	}
	data, err := json.Marshal(WorkflowResolved{
		WorkflowID:     workflow.ID,
		ItemType:       string(workflow.ItemType),
		ItemID:         workflow.ItemID,
		Status:         string(workflow.Status),
		RequesterID:    workflow.RequesterID,
		StakeholderIDs: ids,
	})
	if err != nil {
		return err
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      "workflow_resolved",
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, ChannelWorkflow, payload).Err(); err != nil {
		return err
	}
	metrics.StakeholderEvents.WithLabelValues(string(workflow.Status)).Inc()
	return nil
}

// Subscribe exposes the event stream for an in-process consumer, mainly for
// tooling and tests.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
