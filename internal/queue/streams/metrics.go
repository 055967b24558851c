package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	queueEvents       otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("advisor/queue/streams")
	var err error
	queueEvents, err = meter.Int64Counter(
		"advisor_queue_events_total",
		otelmetric.WithDescription("Stream envelopes by event type and outcome"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: advisor_queue_events_total: %v", err)
	}
}

// recordEvent counts an envelope. outcome is published, consumed or dropped.
func recordEvent(ctx context.Context, eventType, outcome string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if queueEvents == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	queueEvents.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}
