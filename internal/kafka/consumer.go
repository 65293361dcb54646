package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shubhanshu-sudo/Scrapper/pkg/retry"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// Message is a consumed record.
type Message struct {
	Topic  string
	Key    []byte
	Value  []byte
	Offset int64
}

// HandlerFunc processes one message. A nil return commits the offset.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer delivers records of one topic to a handler.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// reader is the part of *segkafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (segkafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// defaultRedelivery bounds how long one failing record holds the partition
// before Subscribe gives up on it.
var defaultRedelivery = retry.Config{MaxAttempts: 8, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}

type consumer struct {
	reader     reader
	redelivery retry.Config
	logger     *slog.Logger
}

// NewConsumer joins groupID on topic. A group seen for the first time starts
// at the oldest retained record so requests queued before the first deploy
// are not skipped. Offsets are committed manually.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	return &consumer{
		reader: segkafka.NewReader(segkafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
			StartOffset:    segkafka.FirstOffset,
		}),
		redelivery: defaultRedelivery,
		logger:     logger,
	}
}

// Subscribe blocks until ctx is cancelled. A record is committed only after
// handler returns nil, so delivery is at-least-once. A failing record is
// handed to handler again with backoff and the next record is not fetched
// meanwhile. When the attempts run out Subscribe returns the error with the
// record still uncommitted, so the group redelivers it after a restart.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		cfg := c.redelivery
		cfg.OnRetry = func(attempt int, err error) {
			c.logger.Warn("scrape request not handled, redelivering",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		err = retry.Do(ctx, cfg, func(ctx context.Context) error {
			return c.deliver(ctx, m, handler)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka handle offset %d: %w", m.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) deliver(ctx context.Context, m segkafka.Message, handler HandlerFunc) error {
	ctx, span := telemetry.Tracer().Start(withRecordContext(ctx, m.Headers), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int64("messaging.kafka.message.offset", m.Offset),
		),
	)
	defer span.End()

	err := handler(ctx, Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Offset: m.Offset})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
	}
	return err
}

func (c *consumer) Close() error { return c.reader.Close() }
