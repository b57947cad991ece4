package resilience

import (
	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/telemetry"
)

// Dependencies holds the optional logger/telemetry every resilience
// primitive can be constructed with.
type Dependencies struct {
	Logger    corelog.Logger
	Telemetry corelog.Telemetry
}

func globalTelemetryAvailable() bool {
	return telemetry.GetRegistry() != nil
}

// NewSiteAnalyzerBreaker builds the circuit breaker that guards
// SiteAnalyzer.probe() calls, wiring telemetry-backed metrics when telemetry
// has been initialized.
func NewSiteAnalyzerBreaker(deps Dependencies) (*CircuitBreaker, error) {
	return newNamedBreaker("site-analyzer", deps)
}

// NewFetcherBreaker builds the circuit breaker that guards Fetcher.get() calls.
func NewFetcherBreaker(deps Dependencies) (*CircuitBreaker, error) {
	return newNamedBreaker("fetcher", deps)
}

func newNamedBreaker(name string, deps Dependencies) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name

	if deps.Logger != nil {
		config.Logger = deps.Logger
	} else {
		config.Logger = corelog.NewProductionLogger("crawlcore", corelog.LoggingConfig{Level: "info", Format: "json"})
	}

	if deps.Telemetry != nil || globalTelemetryAvailable() {
		config.Metrics = NewTelemetryMetrics()
	}

	return NewCircuitBreaker(config)
}

func WithLogger(logger corelog.Logger) func(*Dependencies) {
	return func(d *Dependencies) { d.Logger = logger }
}

func WithTelemetry(t corelog.Telemetry) func(*Dependencies) {
	return func(d *Dependencies) { d.Telemetry = t }
}
