package events

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/telemetry"
)

// MetricsConfig tunes the MetricsAggregator's windows and thresholds
// (spec.md §4.6).
type MetricsConfig struct {
	PublishInterval      time.Duration
	EMAAlpha             float64
	ErrorRateThreshold   float64
	MemoryUsageThreshold float64
	DegradationWindows   int
}

// DefaultMetricsConfig matches spec.md §4.6's stated thresholds and a
// 1.5s republish cadence (the middle of the "every 1-2 seconds" band).
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		PublishInterval:      1500 * time.Millisecond,
		EMAAlpha:             0.3,
		ErrorRateThreshold:   0.05,
		MemoryUsageThreshold: 0.8,
		DegradationWindows:   3,
	}
}

type stageMetrics struct {
	active          int
	completed       int64
	failed          int64
	totalDurationMs int64
	throughputEMA   float64 // completions per second
}

// MetricsAggregator is the single long-lived subscriber of the Hub
// described in spec.md §4.6: it turns the raw AppEvent stream into
// per-stage/session throughput, success/error rates, active task counts
// and an ETA, republished periodically as AggregatedSystemState, plus
// advisory OptimizationSuggestion events. It never changes runtime
// behavior itself — only BatchActor's adaptive-width loop (crawl/batch.go)
// acts on live concurrency, and only on its own schedule.
type MetricsAggregator struct {
	cfg MetricsConfig

	mu               sync.Mutex
	stages           map[crawl.StageKind]*stageMetrics
	sessionCompleted int64
	sessionFailed    int64
	currentCap       int
	errorRateHistory []float64
}

// NewMetricsAggregator builds an aggregator. currentCap seeds the ETA
// divisor before any BatchConfigChanged event has been observed.
func NewMetricsAggregator(cfg MetricsConfig, initialConcurrency int) *MetricsAggregator {
	if initialConcurrency <= 0 {
		initialConcurrency = 1
	}
	return &MetricsAggregator{
		cfg:        cfg,
		stages:     make(map[crawl.StageKind]*stageMetrics),
		currentCap: initialConcurrency,
	}
}

// Run subscribes to hub and blocks until ctx is cancelled, ingesting events
// and republishing AggregatedSystemState on cfg.PublishInterval.
func (m *MetricsAggregator) Run(ctx context.Context, hub *Hub) {
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(m.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.ingest(e)
		case <-ticker.C:
			m.publish(hub)
		}
	}
}

func (m *MetricsAggregator) stage(kind crawl.StageKind) *stageMetrics {
	s, ok := m.stages[kind]
	if !ok {
		s = &stageMetrics{}
		m.stages[kind] = s
	}
	return s
}

func (m *MetricsAggregator) ingest(e crawl.AppEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Type {
	case crawl.EventTaskStarted:
		if e.TaskStartedPayload != nil {
			m.stage(e.TaskStartedPayload.Kind).active++
		}
	case crawl.EventTaskCompleted:
		if p := e.TaskCompletedPayload; p != nil {
			s := m.stage(p.Kind)
			if s.active > 0 {
				s.active--
			}
			s.completed++
			s.totalDurationMs += p.DurationMs
			m.sessionCompleted++
			instantaneous := 1000.0 / float64(max64(p.DurationMs, 1))
			s.throughputEMA = ema(s.throughputEMA, instantaneous, m.cfg.EMAAlpha)
		}
	case crawl.EventTaskFailed:
		if p := e.TaskFailedPayload; p != nil {
			s := m.stage(p.Kind)
			if s.active > 0 {
				s.active--
			}
			s.failed++
			m.sessionFailed++
		}
	case crawl.EventBatchConfigChanged:
		if p := e.BatchConfigChanged; p != nil && p.NewCap > 0 {
			m.currentCap = p.NewCap
		}
	}

	telemetryForward(e)
}

// publish computes the current snapshot, emits AggregatedSystemState, and
// evaluates the three advisory rules from spec.md §4.6.
func (m *MetricsAggregator) publish(hub *Hub) {
	m.mu.Lock()

	var activeTasks int
	var throughput float64
	var pending int
	var totalDuration int64
	var completedAcrossStages int64
	for _, s := range m.stages {
		activeTasks += s.active
		throughput += s.throughputEMA
		pending += s.active
		totalDuration += s.totalDurationMs
		completedAcrossStages += s.completed
	}

	total := m.sessionCompleted + m.sessionFailed
	var errorRate float64
	if total > 0 {
		errorRate = float64(m.sessionFailed) / float64(total)
	}

	var avgDurationMs float64
	if completedAcrossStages > 0 {
		avgDurationMs = float64(totalDuration) / float64(completedAcrossStages)
	}
	eta := float64(pending) * (avgDurationMs / 1000.0) / float64(max64(int64(m.currentCap), 1))

	m.errorRateHistory = append(m.errorRateHistory, errorRate)
	if len(m.errorRateHistory) > m.cfg.DegradationWindows {
		m.errorRateHistory = m.errorRateHistory[len(m.errorRateHistory)-m.cfg.DegradationWindows:]
	}
	degrading := monotonicallyIncreasing(m.errorRateHistory) && len(m.errorRateHistory) >= m.cfg.DegradationWindows

	m.mu.Unlock()

	hub.Publish(crawl.AppEvent{
		Type:      crawl.EventAggregatedSystemState,
		Timestamp: time.Now().UTC(),
		AggregatedSystemState: &crawl.AggregatedSystemStatePayload{
			Throughput:  throughput,
			ETASeconds:  eta,
			ActiveTasks: activeTasks,
			ErrorRate:   errorRate,
		},
	})
	telemetry.Gauge("crawlcore.metrics.throughput", throughput)
	telemetry.Gauge("crawlcore.metrics.eta_seconds", eta)
	telemetry.Gauge("crawlcore.metrics.active_tasks", float64(activeTasks))
	telemetry.Gauge("crawlcore.metrics.error_rate", errorRate)

	if errorRate > m.cfg.ErrorRateThreshold {
		m.suggest(hub, "reduceConcurrency", "error rate exceeds threshold")
	}
	if usage := memoryUsage(); usage > m.cfg.MemoryUsageThreshold {
		m.suggest(hub, "reduceBatchSize", "memory usage exceeds threshold")
	}
	if degrading {
		m.suggest(hub, "TrendDegrading", "error rate has worsened for consecutive windows")
	}
}

func (m *MetricsAggregator) suggest(hub *Hub, category, reason string) {
	hub.Publish(crawl.AppEvent{
		Type:      crawl.EventOptimizationSuggestion,
		Timestamp: time.Now().UTC(),
		OptimizationSuggestion: &crawl.OptimizationSuggestionPayload{
			Category: category,
			Reason:   reason,
		},
	})
}

// memoryUsage approximates spec.md §4.6's "memory_usage > 0.8" rule as
// heap-in-use over the Go runtime's current heap size. No library in the
// reference corpus exposes process memory pressure more directly than
// runtime.ReadMemStats, so this one rule is stdlib-only by necessity.
func memoryUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.HeapSys)
}

func ema(prev, sample, alpha float64) float64 {
	if prev == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*prev
}

func monotonicallyIncreasing(vals []float64) bool {
	if len(vals) < 2 {
		return false
	}
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return false
		}
	}
	return true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
