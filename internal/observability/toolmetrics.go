package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	toolDurationOnce sync.Once
	toolDuration     otelmetric.Int64Histogram
)

// ensureToolInstruments lazily initializes the OTel instrument once a
// provider has been installed (InitOTel should run before first use in
// normal startup); a failed creation just leaves a zero-value no-op
// histogram.
func ensureToolInstruments() {
	toolDurationOnce.Do(func() {
		m := otel.Meter("internal/tools")
		var err error
		toolDuration, err = m.Int64Histogram(
			"tool_dispatch_duration_ms",
			otelmetric.WithDescription("Tool dispatch latency in milliseconds"),
			otelmetric.WithUnit("ms"),
		)
		if err != nil {
			// leave zero-value instrument (no-op) if creation fails
		}
	})
}

// RecordToolDuration reports one completed tool dispatch, surfaced through
// the Prometheus bridge at /api/performance/metrics (spec §6).
func RecordToolDuration(ctx context.Context, tool string, durationMS int64, ok bool) {
	ensureToolInstruments()
	if toolDuration == nil {
		return
	}
	toolDuration.Record(ctx, durationMS, otelmetric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("ok", ok),
	))
}
