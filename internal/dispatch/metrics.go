package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hakari/internal/telemetry"
)

// metrics holds the dispatcher's instruments. Instrument creation failures
// leave nil instruments, which record nothing.
type metrics struct {
	passes  metric.Int64Counter
	actions metric.Int64Counter
}

func newMetrics(d *Dispatcher) *metrics {
	meter := telemetry.Meter("hakari/dispatch")

	var m metrics
	m.passes, _ = meter.Int64Counter("hakari.dispatch.passes",
		metric.WithDescription("Evaluation passes run, by event type"))
	m.actions, _ = meter.Int64Counter("hakari.dispatch.actions_applied",
		metric.WithDescription("Actions committed by the executor"))

	_, _ = meter.Int64ObservableGauge("hakari.dispatch.queue_depth",
		metric.WithDescription("Events waiting in the dispatch queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(d.queue)))
			return nil
		}),
	)
	return &m
}

func (m *metrics) recordPass(ctx context.Context, eventType string, applied int) {
	if m == nil {
		return
	}
	if m.passes != nil {
		m.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
	}
	if m.actions != nil && applied > 0 {
		m.actions.Add(ctx, int64(applied))
	}
}
