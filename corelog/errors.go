package corelog

import "errors"

// Ambient sentinel errors shared by the resilience and telemetry packages.
// Domain-specific crawl errors (Transient, RateLimited, RemoteSchemaDrift,
// LocalState, Fatal, Cancelled) live in crawl/errors.go; these are the
// handful that resilience needs regardless of what domain sits on top of it.
var (
	// ErrCancelled indicates the calling context was cancelled or timed out
	// mid-operation.
	ErrCancelled = errors.New("corelog: operation cancelled")

	// ErrCircuitBreakerOpen is returned by a breaker-guarded call when the
	// breaker is open (or half-open with no token available) and the call
	// was rejected without being attempted.
	ErrCircuitBreakerOpen = errors.New("corelog: circuit breaker open")

	// ErrMaxRetriesExceeded wraps the last attempt's error once a retry
	// loop exhausts its configured attempt budget.
	ErrMaxRetriesExceeded = errors.New("corelog: max retry attempts exceeded")
)
