package storage

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hakari/internal/telemetry"
)

// RegisterPoolMetrics registers OTEL observable gauges over the connection
// pool. Call after telemetry.Init; when telemetry is disabled the global
// no-op meter makes this harmless.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("hakari/storage")

	total, err1 := meter.Int64ObservableGauge("hakari.db.pool.total_conns")
	idle, err2 := meter.Int64ObservableGauge("hakari.db.pool.idle_conns")
	acquired, err3 := meter.Int64ObservableGauge("hakari.db.pool.acquired_conns")
	if err1 != nil || err2 != nil || err3 != nil {
		db.logger.Warn("pool metrics registration failed",
			"errors", []error{err1, err2, err3})
		return
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(total, int64(stat.TotalConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		return nil
	}, total, idle, acquired)
	if err != nil {
		db.logger.Warn("pool metrics callback registration failed", "error", err)
	}
}
