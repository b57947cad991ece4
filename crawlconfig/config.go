// Package crawlconfig builds the frozen SessionConfig a SessionActor runs
// with. Configuration layers the same way the rest of this repo's ambient
// stack does: defaults, then environment variables, then functional options
// — in that order, each layer able to override the last.
package crawlconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SessionConfig is the immutable configuration snapshot a session is built
// from (spec.md §3, invariant 1: frozen for the life of the session). Once
// built by NewSessionConfig, nothing in the crawl package may mutate it —
// callers needing different settings build a new SessionConfig and start a
// new session.
type SessionConfig struct {
	BaseURL         string `env:"CRAWLCORE_BASE_URL"`
	MatterFilterURL string `env:"CRAWLCORE_MATTER_FILTER_URL"`

	ProductsPerPage int `env:"CRAWLCORE_PRODUCTS_PER_PAGE" default:"12"`
	PageRangeLimit  int `env:"CRAWLCORE_PAGE_RANGE_LIMIT" default:"10"`
	BatchPageCount  int `env:"CRAWLCORE_BATCH_PAGE_COUNT" default:"5"`

	Workers WorkerConfig
	Timing  TimingConfig
	Retry   RetryPolicy
	Adapt   AdaptiveWidthConfig

	SessionDeadline         time.Duration `env:"CRAWLCORE_SESSION_DEADLINE" default:"2h"`
	GracefulShutdownSeconds time.Duration `env:"CRAWLCORE_GRACEFUL_SHUTDOWN" default:"10s"`
	SnapshotTTL             time.Duration `env:"CRAWLCORE_SNAPSHOT_TTL" default:"5m"`
}

// WorkerConfig holds the per-stage concurrency caps (spec.md §6).
type WorkerConfig struct {
	ListPageMaxConcurrent     int `env:"CRAWLCORE_WORKERS_LIST_PAGE" default:"4"`
	ProductDetailMaxConcurrent int `env:"CRAWLCORE_WORKERS_PRODUCT_DETAIL" default:"16"`
	DbBatchSize               int `env:"CRAWLCORE_WORKERS_DB_BATCH_SIZE" default:"100"`
}

// TimingConfig holds request pacing and per-operation timeout (spec.md §6).
type TimingConfig struct {
	RequestDelay     time.Duration `env:"CRAWLCORE_REQUEST_DELAY_MS" default:"200ms"`
	OperationTimeout time.Duration `env:"CRAWLCORE_OPERATION_TIMEOUT" default:"30s"`
}

// RetryPolicy governs how AsyncTasks and BatchActor's stage-level retry
// loop re-attempt recoverable failures (spec.md §3, §4.4).
type RetryPolicy struct {
	MaxAttempts int           `env:"CRAWLCORE_RETRY_MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `env:"CRAWLCORE_RETRY_BASE_BACKOFF" default:"200ms"`
	MaxBackoff  time.Duration `env:"CRAWLCORE_RETRY_MAX_BACKOFF" default:"30s"`
	JitterBound time.Duration `env:"CRAWLCORE_RETRY_JITTER_BOUND" default:"1s"`
}

// AdaptiveWidthConfig parameterizes BatchActor's periodic concurrency-cap
// adjustment (spec.md §4.2).
type AdaptiveWidthConfig struct {
	WindowSeconds      time.Duration `env:"CRAWLCORE_ADAPT_WINDOW" default:"30s"`
	ErrorRateHigh      float64       `env:"CRAWLCORE_ADAPT_ERROR_HIGH" default:"0.10"`
	ErrorRateLow       float64       `env:"CRAWLCORE_ADAPT_ERROR_LOW" default:"0.02"`
	ShrinkFactor       float64       `env:"CRAWLCORE_ADAPT_SHRINK" default:"0.8"`
	GrowFactor         float64       `env:"CRAWLCORE_ADAPT_GROW" default:"1.2"`
	TargetThroughput   float64       `env:"CRAWLCORE_ADAPT_TARGET_THROUGHPUT" default:"1.0"`
	HardCap            int           `env:"CRAWLCORE_ADAPT_HARD_CAP" default:"64"`
}

// Option mutates a SessionConfig during construction. Options run after
// defaults and environment variables, so they always win.
type Option func(*SessionConfig) error

// DefaultSessionConfig returns a config populated with the struct tag
// defaults above; no environment or option overrides applied yet.
func DefaultSessionConfig() *SessionConfig {
	cfg := &SessionConfig{
		ProductsPerPage: 12,
		PageRangeLimit:  10,
		BatchPageCount:  5,
		Workers: WorkerConfig{
			ListPageMaxConcurrent:      4,
			ProductDetailMaxConcurrent: 16,
			DbBatchSize:                100,
		},
		Timing: TimingConfig{
			RequestDelay:     200 * time.Millisecond,
			OperationTimeout: 30 * time.Second,
		},
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  30 * time.Second,
			JitterBound: 1 * time.Second,
		},
		Adapt: AdaptiveWidthConfig{
			WindowSeconds:    30 * time.Second,
			ErrorRateHigh:    0.10,
			ErrorRateLow:     0.02,
			ShrinkFactor:     0.8,
			GrowFactor:       1.2,
			TargetThroughput: 1.0,
			HardCap:          64,
		},
		SessionDeadline:         2 * time.Hour,
		GracefulShutdownSeconds: 10 * time.Second,
		SnapshotTTL:             5 * time.Minute,
	}
	return cfg
}

// LoadFromEnv overlays environment variables onto cfg. Missing or
// unparsable variables are left at their current value; of the URLs, only
// BaseURL is required and checked by Validate.
func (c *SessionConfig) LoadFromEnv() {
	if v := os.Getenv("CRAWLCORE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CRAWLCORE_MATTER_FILTER_URL"); v != "" {
		c.MatterFilterURL = v
	}
	if v := getEnvInt("CRAWLCORE_PRODUCTS_PER_PAGE"); v != nil {
		c.ProductsPerPage = *v
	}
	if v := getEnvInt("CRAWLCORE_PAGE_RANGE_LIMIT"); v != nil {
		c.PageRangeLimit = *v
	}
	if v := getEnvInt("CRAWLCORE_BATCH_PAGE_COUNT"); v != nil {
		c.BatchPageCount = *v
	}
	if v := getEnvInt("CRAWLCORE_WORKERS_LIST_PAGE"); v != nil {
		c.Workers.ListPageMaxConcurrent = *v
	}
	if v := getEnvInt("CRAWLCORE_WORKERS_PRODUCT_DETAIL"); v != nil {
		c.Workers.ProductDetailMaxConcurrent = *v
	}
	if v := getEnvInt("CRAWLCORE_WORKERS_DB_BATCH_SIZE"); v != nil {
		c.Workers.DbBatchSize = *v
	}
	if v := getEnvDuration("CRAWLCORE_REQUEST_DELAY_MS"); v != nil {
		c.Timing.RequestDelay = *v
	}
	if v := getEnvDuration("CRAWLCORE_OPERATION_TIMEOUT"); v != nil {
		c.Timing.OperationTimeout = *v
	}
	if v := getEnvInt("CRAWLCORE_RETRY_MAX_ATTEMPTS"); v != nil {
		c.Retry.MaxAttempts = *v
	}
	if v := getEnvDuration("CRAWLCORE_RETRY_BASE_BACKOFF"); v != nil {
		c.Retry.BaseBackoff = *v
	}
	if v := getEnvDuration("CRAWLCORE_RETRY_MAX_BACKOFF"); v != nil {
		c.Retry.MaxBackoff = *v
	}
	if v := getEnvDuration("CRAWLCORE_RETRY_JITTER_BOUND"); v != nil {
		c.Retry.JitterBound = *v
	}
	if v := getEnvDuration("CRAWLCORE_SESSION_DEADLINE"); v != nil {
		c.SessionDeadline = *v
	}
	if v := getEnvDuration("CRAWLCORE_GRACEFUL_SHUTDOWN"); v != nil {
		c.GracefulShutdownSeconds = *v
	}
	if v := getEnvDuration("CRAWLCORE_SNAPSHOT_TTL"); v != nil {
		c.SnapshotTTL = *v
	}
}

func getEnvInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func getEnvDuration(key string) *time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &d
}

// Validate checks structural requirements spec.md §3/§6 rely on.
func (c *SessionConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL is required", ErrMissingConfiguration)
	}
	if c.ProductsPerPage < 1 {
		return fmt.Errorf("%w: products_per_page must be >= 1", ErrInvalidConfiguration)
	}
	if c.PageRangeLimit < 1 {
		return fmt.Errorf("%w: page_range_limit must be >= 1", ErrInvalidConfiguration)
	}
	if c.BatchPageCount < 1 {
		return fmt.Errorf("%w: batch_page_count must be >= 1", ErrInvalidConfiguration)
	}
	if c.Workers.ListPageMaxConcurrent < 1 || c.Workers.ProductDetailMaxConcurrent < 1 {
		return fmt.Errorf("%w: worker concurrency caps must be >= 1", ErrInvalidConfiguration)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry max_attempts must be >= 1", ErrInvalidConfiguration)
	}
	if c.Adapt.HardCap < 1 {
		return fmt.Errorf("%w: adaptive width hard cap must be >= 1", ErrInvalidConfiguration)
	}
	return nil
}

// NewSessionConfig builds a SessionConfig: defaults, then environment
// variables, then the supplied options, then validation. The result is
// meant to be handed to exactly one SessionActor and never mutated again.
func NewSessionConfig(opts ...Option) (*SessionConfig, error) {
	cfg := DefaultSessionConfig()
	cfg.LoadFromEnv()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}
	return cfg, nil
}

// Functional options.

func WithBaseURL(url string) Option {
	return func(c *SessionConfig) error {
		c.BaseURL = url
		return nil
	}
}

func WithMatterFilterURL(url string) Option {
	return func(c *SessionConfig) error {
		c.MatterFilterURL = url
		return nil
	}
}

func WithProductsPerPage(n int) Option {
	return func(c *SessionConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: products_per_page must be >= 1", ErrInvalidConfiguration)
		}
		c.ProductsPerPage = n
		return nil
	}
}

func WithPageRangeLimit(n int) Option {
	return func(c *SessionConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: page_range_limit must be >= 1", ErrInvalidConfiguration)
		}
		c.PageRangeLimit = n
		return nil
	}
}

func WithBatchPageCount(n int) Option {
	return func(c *SessionConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: batch_page_count must be >= 1", ErrInvalidConfiguration)
		}
		c.BatchPageCount = n
		return nil
	}
}

func WithWorkers(listPage, productDetail, dbBatchSize int) Option {
	return func(c *SessionConfig) error {
		c.Workers = WorkerConfig{
			ListPageMaxConcurrent:      listPage,
			ProductDetailMaxConcurrent: productDetail,
			DbBatchSize:                dbBatchSize,
		}
		return nil
	}
}

func WithTiming(requestDelay, operationTimeout time.Duration) Option {
	return func(c *SessionConfig) error {
		c.Timing = TimingConfig{RequestDelay: requestDelay, OperationTimeout: operationTimeout}
		return nil
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *SessionConfig) error {
		c.Retry = policy
		return nil
	}
}

func WithAdaptiveWidth(adapt AdaptiveWidthConfig) Option {
	return func(c *SessionConfig) error {
		c.Adapt = adapt
		return nil
	}
}

func WithSessionDeadline(d time.Duration) Option {
	return func(c *SessionConfig) error {
		c.SessionDeadline = d
		return nil
	}
}

func WithGracefulShutdown(d time.Duration) Option {
	return func(c *SessionConfig) error {
		c.GracefulShutdownSeconds = d
		return nil
	}
}

func WithSnapshotTTL(d time.Duration) Option {
	return func(c *SessionConfig) error {
		c.SnapshotTTL = d
		return nil
	}
}
