// Package intake turns Kafka scrape requests into tasks.
package intake

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/kafka"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
)

// Starter starts a scrape task.
type Starter interface {
	Start(ctx context.Context, req orchestrator.Request) (string, error)
}

// Intake consumes TopicScrapeRequests.
type Intake struct {
	starter Starter
	logger  *slog.Logger
}

func New(starter Starter, logger *slog.Logger) *Intake {
	return &Intake{starter: starter, logger: logger}
}

// Handle starts one task per message. Malformed requests are logged and
// committed so they are not redelivered forever. Any other start failure is
// returned, and the consumer hands the same record back with backoff.
func (i *Intake) Handle(ctx context.Context, msg kafka.Message) error {
	req, err := kafka.DecodeScrapeRequest(msg.Value)
	if err != nil {
		i.logger.Warn("dropping malformed scrape request",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}

	id, err := i.starter.Start(ctx, orchestrator.Request{
		Keywords:    req.Keywords,
		Locations:   req.Locations,
		Parallelism: req.Parallelism,
		CallbackURL: req.CallbackURL,
		Source:      "kafka",
	})
	var invalid *domain.InvalidRequestError
	if errors.As(err, &invalid) {
		i.logger.Warn("rejected scrape request",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err != nil {
		return err
	}

	i.logger.Info("task started from kafka",
		slog.String("task_id", id),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}

// Run subscribes c until ctx is cancelled.
func (i *Intake) Run(ctx context.Context, c kafka.Consumer) error {
	return c.Subscribe(ctx, i.Handle)
}
