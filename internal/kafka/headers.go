package kafka

import (
	"context"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const contentTypeJSON = "application/json"

// recordHeaders builds the headers of an outgoing record: the content type
// plus the trace context of ctx.
func recordHeaders(ctx context.Context) []segkafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]segkafka.Header, 0, len(carrier)+1)
	headers = append(headers, segkafka.Header{Key: "content-type", Value: []byte(contentTypeJSON)})
	for k, v := range carrier {
		headers = append(headers, segkafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// withRecordContext returns ctx carrying the trace context found in headers.
func withRecordContext(ctx context.Context, headers []segkafka.Header) context.Context {
	carrier := make(propagation.MapCarrier, len(headers))
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
