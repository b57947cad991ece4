package resilience

import (
	"context"
	"time"

	"github.com/mattercertis/crawlcore/telemetry"
)

// TelemetryMetrics implements MetricsCollector on top of the telemetry
// package's package-level Counter/Gauge helpers.
type TelemetryMetrics struct{}

func NewTelemetryMetrics() *TelemetryMetrics {
	return &TelemetryMetrics{}
}

func (t *TelemetryMetrics) RecordSuccess(name string) {
	telemetry.Counter("circuit_breaker.calls", "name", name, "state", "success")
}

func (t *TelemetryMetrics) RecordFailure(name string, errorType string) {
	telemetry.Counter("circuit_breaker.calls", "name", name, "state", "failure")
	telemetry.Counter("circuit_breaker.failures", "name", name, "error_type", errorType)
}

func (t *TelemetryMetrics) RecordStateChange(name string, from, to string) {
	telemetry.Counter("circuit_breaker.state_changes", "name", name, "from_state", from, "to_state", to)

	stateValue := 0.0
	switch to {
	case "half-open":
		stateValue = 0.5
	case "open":
		stateValue = 1.0
	}
	telemetry.Gauge("circuit_breaker.current_state", stateValue, "name", name)
}

func (t *TelemetryMetrics) RecordRejection(name string) {
	telemetry.Counter("circuit_breaker.rejected", "name", name)
}

// ExecuteWithTelemetry wraps a circuit-breaker-protected call with a
// duration histogram, for callers that don't already go through
// NewTelemetryMetrics as the breaker's collector.
func ExecuteWithTelemetry(cb *CircuitBreaker, ctx context.Context, fn func() error) error {
	start := time.Now()
	err := cb.Execute(ctx, fn)

	status := "success"
	if err != nil {
		status = "failure"
	}
	telemetry.Histogram("circuit_breaker.duration_ms", float64(time.Since(start).Milliseconds()),
		"name", cb.config.Name, "status", status)
	return err
}
