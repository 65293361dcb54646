// Package notify delivers task completion callbacks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// Webhook POSTs the final task snapshot to the task's callback URL.
type Webhook struct {
	client    *http.Client
	userAgent string
}

// NewWebhook returns a Webhook whose calls time out after timeout.
func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Webhook{
		client:    &http.Client{Timeout: timeout},
		userAgent: "leadscout-webhook/1",
	}
}

// Notify sends task to task.CallbackURL. Tasks without a callback are a
// no-op.
func (w *Webhook) Notify(ctx context.Context, task *domain.Task) error {
	if task.CallbackURL == "" {
		return nil
	}
	ctx, span := telemetry.Tracer().Start(ctx, "notify.webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.status", string(task.Status)),
		attribute.String("webhook.url", task.CallbackURL),
	)

	body, err := json.Marshal(task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.CallbackURL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("X-Leadscout-Task", task.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook call to %s: %w", task.CallbackURL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", task.CallbackURL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
