package corelog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// traceIDFromContext pulls the active span's trace ID out of ctx, if any,
// so log lines can be correlated with traces without corelog depending on
// the telemetry package.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// LoggingConfig controls the shape of a ProductionLogger's output.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"json"` // "json" or "text"
	Output string `env:"LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig relaxes formatting for local runs (human-readable single
// line instead of JSON, regardless of LoggingConfig.Format).
type DevelopmentConfig struct {
	Enabled bool `env:"DEV_MODE" default:"false"`
}

var levelOrder = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// ProductionLogger is a structured logger that writes JSON lines by default
// and a human-readable line in development mode. It is safe for concurrent
// use and optionally emits a weak "log volume by level" metric once a
// telemetry MetricsRegistry has registered itself via SetMetricsRegistry.
type ProductionLogger struct {
	serviceName string
	component   string
	level       string
	dev         bool
	w           io.Writer
	mu          *sync.Mutex
	metrics     atomic.Bool
}

// NewProductionLogger builds a ProductionLogger for serviceName. Passing a
// DevelopmentConfig with Enabled=true switches to single-line text output,
// matching how the repo runs locally versus in a container.
func NewProductionLogger(serviceName string, logging LoggingConfig, dev ...DevelopmentConfig) *ProductionLogger {
	level := logging.Level
	if level == "" {
		level = "info"
	}
	var w io.Writer = os.Stdout
	if logging.Output == "stderr" {
		w = os.Stderr
	}
	devMode := false
	if len(dev) > 0 {
		devMode = dev[0].Enabled
	}

	l := &ProductionLogger{
		serviceName: serviceName,
		level:       level,
		dev:         devMode || logging.Format == "text",
		w:           w,
		mu:          &sync.Mutex{},
	}
	trackLogger(l)
	return l
}

func (l *ProductionLogger) enableMetrics() { l.metrics.Store(true) }

// WithComponent returns a logger scoped to component, sharing the same
// sink, level and format.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		serviceName: l.serviceName,
		component:   component,
		level:       l.level,
		dev:         l.dev,
		w:           l.w,
		mu:          l.mu,
	}
}

func (l *ProductionLogger) enabled(level string) bool {
	return levelOrder[level] >= levelOrder[l.level]
}

func (l *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	if l.metrics.Load() {
		if registry := GetGlobalMetricsRegistry(); registry != nil {
			registry.Counter("log.events", "level", level, "service", l.serviceName)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if l.dev {
		l.mu.Lock()
		defer l.mu.Unlock()
		fmt.Fprintf(l.w, "%s [%s] %s/%s: %s %v\n", now, level, l.serviceName, l.component, msg, fields)
		return
	}

	entry := map[string]interface{}{
		"timestamp": now,
		"level":     level,
		"service":   l.serviceName,
		"message":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	for k, v := range fields {
		entry[k] = v
	}
	if ctx != nil {
		if traceID := traceIDFromContext(ctx); traceID != "" {
			entry["trace_id"] = traceID
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.w)
	_ = enc.Encode(entry)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.logEvent(nil, "info", msg, fields) }
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) { l.logEvent(nil, "error", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.logEvent(nil, "warn", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) { l.logEvent(nil, "debug", msg, fields) }

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "info", msg, fields)
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "error", msg, fields)
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "warn", msg, fields)
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "debug", msg, fields)
}
