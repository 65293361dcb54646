// Package kafka carries lead and task events and scrape requests over Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

const (
	TopicScrapeRequests = "scrape.requests"
	TopicLeadsAccepted  = "leads.accepted"
	TopicTasksFinished  = "tasks.finished"
)

// LeadEvent is published once per persisted lead.
type LeadEvent struct {
	Type string       `json:"type"`
	At   time.Time    `json:"at"`
	Lead *domain.Lead `json:"lead"`
}

// TaskEvent is published when a task reaches a terminal state.
type TaskEvent struct {
	Type string       `json:"type"`
	At   time.Time    `json:"at"`
	Task *domain.Task `json:"task"`
}

// ScrapeRequest is the body accepted on TopicScrapeRequests. It matches the
// REST scrape request.
type ScrapeRequest struct {
	Keywords    []string `json:"keywords"`
	Locations   []string `json:"locations"`
	Parallelism int      `json:"parallel_count"`
	CallbackURL string   `json:"callback_url,omitempty"`
}

// Events publishes domain events. Records are keyed by task id.
type Events struct {
	producer Producer
	now      func() time.Time
}

// NewEvents wraps p.
func NewEvents(p Producer) *Events {
	return &Events{producer: p, now: time.Now}
}

func (e *Events) PublishLead(ctx context.Context, lead *domain.Lead) error {
	body, err := json.Marshal(LeadEvent{Type: "lead.accepted", At: e.now().UTC(), Lead: lead})
	if err != nil {
		return fmt.Errorf("marshal lead event: %w", err)
	}
	return e.producer.Publish(ctx, TopicLeadsAccepted, lead.TaskID, body)
}

func (e *Events) PublishTask(ctx context.Context, task *domain.Task) error {
	body, err := json.Marshal(TaskEvent{Type: "task." + string(task.Status), At: e.now().UTC(), Task: task})
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	return e.producer.Publish(ctx, TopicTasksFinished, task.ID, body)
}

func (e *Events) Close() error { return e.producer.Close() }

// DecodeScrapeRequest parses a TopicScrapeRequests payload.
func DecodeScrapeRequest(value []byte) (ScrapeRequest, error) {
	var req ScrapeRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return ScrapeRequest{}, &domain.InvalidRequestError{Reason: "malformed body: " + err.Error()}
	}
	return req, nil
}
