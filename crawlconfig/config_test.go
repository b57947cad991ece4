package crawlconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()

	assert.Equal(t, 12, cfg.ProductsPerPage)
	assert.Equal(t, 10, cfg.PageRangeLimit)
	assert.Equal(t, 5, cfg.BatchPageCount)
	assert.Equal(t, 4, cfg.Workers.ListPageMaxConcurrent)
	assert.Equal(t, 16, cfg.Workers.ProductDetailMaxConcurrent)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseBackoff)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 0.10, cfg.Adapt.ErrorRateHigh)
	assert.Equal(t, 0.02, cfg.Adapt.ErrorRateLow)
}

func TestNewSessionConfig_RequiresBaseURL(t *testing.T) {
	_, err := NewSessionConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingConfiguration)
}

func TestNewSessionConfig_WithOptions(t *testing.T) {
	cfg, err := NewSessionConfig(
		WithBaseURL("https://example.com"),
		WithProductsPerPage(20),
		WithPageRangeLimit(15),
	)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", cfg.BaseURL)
	assert.Equal(t, 20, cfg.ProductsPerPage)
	assert.Equal(t, 15, cfg.PageRangeLimit)
}

func TestNewSessionConfig_RejectsInvalidOption(t *testing.T) {
	_, err := NewSessionConfig(
		WithBaseURL("https://example.com"),
		WithProductsPerPage(0),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	_ = os.Setenv("CRAWLCORE_BASE_URL", "https://env.example.com")
	_ = os.Setenv("CRAWLCORE_PRODUCTS_PER_PAGE", "24")
	_ = os.Setenv("CRAWLCORE_RETRY_BASE_BACKOFF", "500ms")
	defer func() {
		_ = os.Unsetenv("CRAWLCORE_BASE_URL")
		_ = os.Unsetenv("CRAWLCORE_PRODUCTS_PER_PAGE")
		_ = os.Unsetenv("CRAWLCORE_RETRY_BASE_BACKOFF")
	}()

	cfg := DefaultSessionConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, 24, cfg.ProductsPerPage)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseBackoff)
}

func TestOptionsOverrideEnv(t *testing.T) {
	_ = os.Setenv("CRAWLCORE_PRODUCTS_PER_PAGE", "24")
	defer func() { _ = os.Unsetenv("CRAWLCORE_PRODUCTS_PER_PAGE") }()

	cfg, err := NewSessionConfig(
		WithBaseURL("https://example.com"),
		WithProductsPerPage(99),
	)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.ProductsPerPage, "explicit option must win over env var")
}

func TestValidate_RejectsBadWorkerCaps(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.BaseURL = "https://example.com"
	cfg.Workers.ListPageMaxConcurrent = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
