// Package resilience implements the retry and circuit-breaking primitives
// used to protect calls to external collaborators (SiteAnalyzer, Fetcher,
// Repository) from cascading failure.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattercertis/crawlcore/corelog"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker events for monitoring.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier decides which errors count toward the failure threshold.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier treats cancellation as not-a-failure and everything
// else (timeouts, transport errors, remote 5xx) as a failure.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, corelog.ErrCancelled) {
		return false
	}
	return true
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string
	ErrorThreshold   float64
	VolumeThreshold  int
	SleepWindow      time.Duration
	HalfOpenRequests int
	SuccessThreshold float64
	WindowSize       time.Duration
	BucketCount      int
	ErrorClassifier  ErrorClassifier
	Logger           corelog.Logger
	Metrics          MetricsCollector
}

// DefaultConfig returns sensible defaults, tuned for protecting an
// occasionally-flaky SiteAnalyzer.probe() or Fetcher.get() call.
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &corelog.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.ErrorThreshold < 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("error threshold must be between 0 and 1, got %f", c.ErrorThreshold)
	}
	if c.VolumeThreshold < 0 {
		return fmt.Errorf("volume threshold must be non-negative, got %d", c.VolumeThreshold)
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("success threshold must be between 0 and 1, got %f", c.SuccessThreshold)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half-open requests must be at least 1, got %d", c.HalfOpenRequests)
	}
	if c.SleepWindow < 0 {
		return fmt.Errorf("sleep window must be non-negative, got %v", c.SleepWindow)
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("window size must be non-negative, got %v", c.WindowSize)
	}
	if c.BucketCount < 1 {
		return fmt.Errorf("bucket count must be at least 1, got %d", c.BucketCount)
	}
	return nil
}

// executionToken tracks one in-flight half-open probe so it can't be
// double-counted or orphaned.
type executionToken struct {
	id         uint64
	startTime  time.Time
	isHalfOpen bool
}

// CircuitBreaker is a closed/open/half-open breaker backed by a time-bucketed
// sliding window of successes and failures.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	state          atomic.Value // CircuitState
	stateChangedAt atomic.Value // time.Time
	generation     uint64

	window *SlidingWindow

	halfOpenCount     atomic.Int32
	halfOpenTotal     atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32
	halfOpenTokens    sync.Map // map[uint64]executionToken
	tokenCounter      atomic.Uint64

	forceOpen   atomic.Bool
	forceClosed atomic.Bool

	failureCount atomic.Int32

	listeners []func(name string, from, to CircuitState)
	mu        sync.Mutex

	executionsInFlight atomic.Int32
	totalExecutions    atomic.Uint64
	rejectedExecutions atomic.Uint64
}

// NewCircuitBreaker validates config and constructs a closed circuit breaker.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.WindowSize == 0 {
		config.WindowSize = 60 * time.Second
	}
	if config.BucketCount == 0 {
		config.BucketCount = 10
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &corelog.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 0.6
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 5
	}

	cb := &CircuitBreaker{
		config: config,
		window: NewSlidingWindowWithLogger(config.WindowSize, config.BucketCount, config.Logger, config.Name),
	}
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())

	config.Logger.Info("circuit breaker created", map[string]interface{}{
		"name": config.Name, "error_threshold": config.ErrorThreshold, "volume_threshold": config.VolumeThreshold,
	})
	return cb, nil
}

// SetLogger rebinds the circuit breaker's logger, scoping it to the
// "resilience/circuit-breaker" component when the logger supports it.
func (cb *CircuitBreaker) SetLogger(logger corelog.Logger) {
	if logger == nil {
		cb.config.Logger = &corelog.NoOpLogger{}
		return
	}
	if cal, ok := logger.(corelog.ComponentAwareLogger); ok {
		cb.config.Logger = cal.WithComponent("resilience/circuit-breaker")
		return
	}
	cb.config.Logger = logger
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	return cb.ExecuteWithTimeout(ctx, 0, fn)
}

// ExecuteWithTimeout runs fn with circuit breaker protection and an optional
// timeout. A panic inside fn is recovered and reported as a failure.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	token, allowed := cb.startExecution()
	if !allowed {
		cb.rejectedExecutions.Add(1)
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, corelog.ErrCircuitBreakerOpen)
	}

	cb.executionsInFlight.Add(1)
	defer cb.executionsInFlight.Add(-1)
	cb.totalExecutions.Add(1)

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				done <- fmt.Errorf("panic in circuit breaker %q: %v\n%s", cb.config.Name, r, stack)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		cb.completeExecution(token, err)
		return err
	case <-ctx.Done():
		go func() {
			err := <-done
			cb.completeExecution(token, err)
		}()
		return ctx.Err()
	}
}

func (cb *CircuitBreaker) startExecution() (executionToken, bool) {
	if cb.forceClosed.Load() {
		return executionToken{}, true
	}
	if cb.forceOpen.Load() {
		return executionToken{}, false
	}

	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		return executionToken{id: cb.tokenCounter.Add(1), startTime: time.Now()}, true

	case StateOpen:
		stateChangedAt := cb.stateChangedAt.Load().(time.Time)
		if time.Since(stateChangedAt) > cb.config.SleepWindow {
			cb.mu.Lock()
			if cb.state.Load().(CircuitState) == StateOpen {
				cb.transitionToUnlocked(StateHalfOpen)
			}
			cb.mu.Unlock()
			return cb.startExecution()
		}
		return executionToken{}, false

	case StateHalfOpen:
		for {
			current := cb.halfOpenTotal.Load()
			if cb.config.HalfOpenRequests > 0 && int(current) >= cb.config.HalfOpenRequests {
				return executionToken{}, false
			}
			if cb.halfOpenTotal.CompareAndSwap(current, current+1) {
				break
			}
		}
		cb.halfOpenCount.Add(1)
		token := executionToken{id: cb.tokenCounter.Add(1), startTime: time.Now(), isHalfOpen: true}
		cb.halfOpenTokens.Store(token.id, token)
		return token, true

	default:
		return executionToken{}, false
	}
}

func (cb *CircuitBreaker) completeExecution(token executionToken, err error) {
	if cb.forceClosed.Load() || cb.forceOpen.Load() {
		return
	}
	if token.isHalfOpen {
		cb.halfOpenTokens.Delete(token.id)
		cb.halfOpenCount.Add(-1)
	}

	if err == nil {
		cb.window.RecordSuccess()
		cb.config.Metrics.RecordSuccess(cb.config.Name)
		if token.isHalfOpen {
			cb.halfOpenSuccesses.Add(1)
		}
	} else if cb.config.ErrorClassifier(err) {
		cb.window.RecordFailure()
		cb.config.Metrics.RecordFailure(cb.config.Name, fmt.Sprintf("%T", err))
		cb.failureCount.Add(1)
		if token.isHalfOpen {
			cb.halfOpenFailures.Add(1)
		}
	}

	cb.evaluateState()
}

func (cb *CircuitBreaker) evaluateState() {
	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		errorRate := cb.window.GetErrorRate()
		total := cb.window.GetTotal()
		if cb.config.VolumeThreshold > 0 && total >= uint64(cb.config.VolumeThreshold) && errorRate >= cb.config.ErrorThreshold {
			cb.config.Logger.Info("circuit breaker opening", map[string]interface{}{
				"name": cb.config.Name, "error_rate": errorRate, "total": total,
			})
			cb.mu.Lock()
			cb.transitionToUnlocked(StateOpen)
			cb.mu.Unlock()
		}

	case StateHalfOpen:
		successes := cb.halfOpenSuccesses.Load()
		failures := cb.halfOpenFailures.Load()
		totalHalfOpen := successes + failures
		if cb.config.HalfOpenRequests > 0 && int(totalHalfOpen) >= cb.config.HalfOpenRequests {
			successRate := float64(successes) / float64(totalHalfOpen)
			cb.mu.Lock()
			if successRate >= cb.config.SuccessThreshold {
				cb.transitionToUnlocked(StateClosed)
				cb.failureCount.Store(0)
			} else {
				cb.transitionToUnlocked(StateOpen)
				cb.config.SleepWindow = time.Duration(float64(cb.config.SleepWindow) * 1.5)
				if cb.config.SleepWindow > 5*time.Minute {
					cb.config.SleepWindow = 5 * time.Minute
				}
			}
			cb.mu.Unlock()
		}
	}
}

// transitionToUnlocked changes state; caller must hold cb.mu.
func (cb *CircuitBreaker) transitionToUnlocked(newState CircuitState) {
	oldState := cb.state.Load().(CircuitState)
	if oldState == newState {
		return
	}
	cb.state.Store(newState)
	cb.stateChangedAt.Store(time.Now())
	cb.generation++

	if newState == StateHalfOpen {
		cb.halfOpenCount.Store(0)
		cb.halfOpenTotal.Store(0)
		cb.halfOpenSuccesses.Store(0)
		cb.halfOpenFailures.Store(0)
		cb.halfOpenTokens.Range(func(key, value interface{}) bool {
			cb.halfOpenTokens.Delete(key)
			return true
		})
	}

	cb.config.Logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.config.Name, "from": oldState.String(), "to": newState.String(),
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())
	for _, listener := range cb.listeners {
		go listener(cb.config.Name, oldState, newState)
	}
}

// AddStateChangeListener registers a callback invoked on every state transition.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, listener)
	cb.mu.Unlock()
}

// GetState returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) GetState() string {
	return cb.state.Load().(CircuitState).String()
}

// GetMetrics returns a snapshot of counters for diagnostics/dashboards.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	success, failure := cb.window.GetCounts()
	m := map[string]interface{}{
		"name": cb.config.Name, "state": cb.GetState(), "generation": cb.generation,
		"success": success, "failure": failure, "total": success + failure,
		"error_rate": cb.window.GetErrorRate(),
		"force_open": cb.forceOpen.Load(), "force_closed": cb.forceClosed.Load(),
		"executions_in_flight": cb.executionsInFlight.Load(),
		"total_executions":     cb.totalExecutions.Load(),
		"rejected_executions":  cb.rejectedExecutions.Load(),
	}
	if cb.state.Load().(CircuitState) == StateHalfOpen {
		m["half_open_successes"] = cb.halfOpenSuccesses.Load()
		m["half_open_failures"] = cb.halfOpenFailures.Load()
	}
	return m
}

// Reset clears state back to closed with an empty window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())
	cb.failureCount.Store(0)
	cb.halfOpenCount.Store(0)
	cb.halfOpenSuccesses.Store(0)
	cb.halfOpenFailures.Store(0)
	cb.window = NewSlidingWindowWithLogger(cb.config.WindowSize, cb.config.BucketCount, cb.config.Logger, cb.config.Name)
	cb.halfOpenTokens.Range(func(key, value interface{}) bool {
		cb.halfOpenTokens.Delete(key)
		return true
	})
	cb.config.Logger.Info("circuit breaker reset", map[string]interface{}{"name": cb.config.Name})
}

// ForceOpen manually opens the circuit, overriding the sliding window.
func (cb *CircuitBreaker) ForceOpen() {
	cb.forceOpen.Store(true)
	cb.forceClosed.Store(false)
	cb.mu.Lock()
	if cb.state.Load().(CircuitState) != StateOpen {
		cb.transitionToUnlocked(StateOpen)
	}
	cb.mu.Unlock()
}

// ForceClosed manually closes the circuit, overriding the sliding window.
func (cb *CircuitBreaker) ForceClosed() {
	cb.forceClosed.Store(true)
	cb.forceOpen.Store(false)
	cb.mu.Lock()
	if cb.state.Load().(CircuitState) != StateClosed {
		cb.transitionToUnlocked(StateClosed)
	}
	cb.mu.Unlock()
}

// ClearForce removes any manual ForceOpen/ForceClosed override.
func (cb *CircuitBreaker) ClearForce() {
	cb.forceOpen.Store(false)
	cb.forceClosed.Store(false)
}

// CleanupOrphanedRequests fails half-open probes that have been in flight
// longer than maxAge, preventing a stuck half-open window.
func (cb *CircuitBreaker) CleanupOrphanedRequests(maxAge time.Duration) int {
	cleaned := 0
	now := time.Now()
	cb.halfOpenTokens.Range(func(key, value interface{}) bool {
		token, ok := value.(executionToken)
		if !ok {
			return true
		}
		if now.Sub(token.startTime) > maxAge {
			cb.halfOpenTokens.Delete(key)
			cb.completeExecution(token, errors.New("request orphaned"))
			cleaned++
		}
		return true
	})
	return cleaned
}

// CanExecute reports whether the breaker would currently allow a call,
// without actually making one.
func (cb *CircuitBreaker) CanExecute() bool {
	state := cb.state.Load().(CircuitState)
	switch state {
	case StateClosed:
		return true
	case StateOpen:
		stateChangedAt := cb.stateChangedAt.Load().(time.Time)
		if time.Since(stateChangedAt) > cb.config.SleepWindow {
			cb.mu.Lock()
			if cb.state.Load().(CircuitState) == StateOpen {
				cb.transitionToUnlocked(StateHalfOpen)
			}
			cb.mu.Unlock()
			return true
		}
		return false
	default:
		return cb.config.HalfOpenRequests > 0 && int(cb.halfOpenTotal.Load()) < cb.config.HalfOpenRequests
	}
}

// RecordSuccess records an externally-observed success (for callers that
// don't route the call itself through Execute).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.window.RecordSuccess()
	cb.evaluateState()
}

// RecordFailure records an externally-observed failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.window.RecordFailure()
	cb.failureCount.Add(1)
	cb.evaluateState()
}

// bucket holds one time slice of the sliding window.
type bucket struct {
	timestamp time.Time
	success   uint64
	failure   uint64
}

// SlidingWindow is a ring of time buckets used to compute a rolling error
// rate; it is resilient to backward clock jumps (resets rather than
// reporting a negative elapsed time).
type SlidingWindow struct {
	buckets      []bucket
	windowSize   time.Duration
	bucketSize   time.Duration
	currentIdx   int
	lastRotation time.Time
	mu           sync.RWMutex

	logger corelog.Logger
	name   string
}

func NewSlidingWindow(windowSize time.Duration, bucketCount int) *SlidingWindow {
	return NewSlidingWindowWithLogger(windowSize, bucketCount, nil, "")
}

func NewSlidingWindowWithLogger(windowSize time.Duration, bucketCount int, logger corelog.Logger, name string) *SlidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	if logger == nil {
		logger = &corelog.NoOpLogger{}
	}
	bucketSize := windowSize / time.Duration(bucketCount)
	buckets := make([]bucket, bucketCount)
	now := time.Now()
	for i := range buckets {
		buckets[i].timestamp = now
	}
	return &SlidingWindow{
		buckets: buckets, windowSize: windowSize, bucketSize: bucketSize,
		lastRotation: now, logger: logger, name: name,
	}
}

func (sw *SlidingWindow) rotateBuckets() {
	now := time.Now()
	elapsed := now.Sub(sw.lastRotation)

	if elapsed < 0 {
		sw.logger.Warn("time skew detected in sliding window, resetting", map[string]interface{}{"name": sw.name})
		sw.reset()
		return
	}

	if elapsed >= sw.bucketSize {
		bucketsToRotate := int(elapsed / sw.bucketSize)
		if bucketsToRotate > len(sw.buckets) {
			bucketsToRotate = len(sw.buckets)
		}
		for i := 0; i < bucketsToRotate; i++ {
			sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
			sw.buckets[sw.currentIdx] = bucket{timestamp: now}
		}
		sw.lastRotation = now
	}
}

func (sw *SlidingWindow) reset() {
	now := time.Now()
	for i := range sw.buckets {
		sw.buckets[i] = bucket{timestamp: now}
	}
	sw.currentIdx = 0
	sw.lastRotation = now
}

func (sw *SlidingWindow) RecordSuccess() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].success, 1)
}

func (sw *SlidingWindow) RecordFailure() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].failure, 1)
}

func (sw *SlidingWindow) GetCounts() (success, failure uint64) {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	cutoff := time.Now().Add(-sw.windowSize)
	for i := range sw.buckets {
		b := &sw.buckets[i]
		if b.timestamp.After(cutoff) {
			success += atomic.LoadUint64(&b.success)
			failure += atomic.LoadUint64(&b.failure)
		}
	}
	return success, failure
}

func (sw *SlidingWindow) GetErrorRate() float64 {
	success, failure := sw.GetCounts()
	total := success + failure
	if total == 0 {
		return 0
	}
	return float64(failure) / float64(total)
}

func (sw *SlidingWindow) GetTotal() uint64 {
	success, failure := sw.GetCounts()
	return success + failure
}
