package kafka

import (
	"context"
	"fmt"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// Producer writes keyed records.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type producer struct {
	writer *segkafka.Writer
}

// NewProducer returns a Producer for brokers. Records are hashed by key, so
// every event of one task lands on one partition in order.
func NewProducer(brokers []string) Producer {
	return &producer{writer: &segkafka.Writer{
		Addr:                   segkafka.TCP(brokers...),
		Balancer:               &segkafka.Hash{},
		RequiredAcks:           segkafka.RequireOne,
		Compression:            segkafka.Snappy,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := telemetry.Tracer().Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.kafka.message.key", key),
		),
	)
	defer span.End()

	err := p.writer.WriteMessages(ctx, segkafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: recordHeaders(ctx),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *producer) Close() error { return p.writer.Close() }
