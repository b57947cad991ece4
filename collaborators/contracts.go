// Package collaborators holds the five external-world contracts the core
// orchestration depends on (spec.md §6): SiteAnalyzer, DbAnalyzer, Fetcher,
// Parser, and Repository. Each is independently implementable; this
// package also ships the default concrete adapters (HTTP fetch, HTML
// parse, in-memory repository) plus in-memory test doubles used across
// the module's test suites, mirroring the teacher's
// mock_discovery.go/redis_test_helper.go fakes-beside-real-adapters
// layout.
package collaborators

import (
	"context"
	"time"

	"github.com/mattercertis/crawlcore/crawl"
)

// SiteProbe is the remote site's shape as SiteAnalyzer reports it
// (spec.md §6).
type SiteProbe struct {
	TotalPagesOnSite   int
	ProductsOnLastPage int
}

// SiteAnalyzer probes the remote listing to learn how many pages exist and
// how full the last one is (spec.md §4.5, §6). Implementations must
// respect ctx's deadline and return a categorized error (see
// crawl.ErrorKind) on failure — a probe failure is always fatal for
// planning, per spec.md §4.5's "Failure semantics".
type SiteAnalyzer interface {
	Probe(ctx context.Context) (SiteProbe, error)
}

// DbAnalyzer reports how far the local database has already progressed.
// A nil *crawl.DbCursor with a nil error means "empty DB", not an error
// (spec.md §6: "never panics on empty DB").
type DbAnalyzer interface {
	Cursor(ctx context.Context) (*crawl.DbCursor, error)
}

// FetchErrorKind categorizes why a Fetcher.Get call failed, independent of
// crawl.ErrorKind — the fetch-layer taxonomy is narrower and the caller
// (an AsyncTask's fetch stage action) is the one that maps it onto
// crawl.ErrorKind via classifyFetchErr in cmd/crawlerd/stagerunner.go.
type FetchErrorKind string

const (
	FetchTimeout FetchErrorKind = "timeout"
	FetchHTTP    FetchErrorKind = "http"
	FetchNetwork FetchErrorKind = "network"
	FetchParse   FetchErrorKind = "parse"
)

// FetchError is the error Fetcher.Get returns on failure.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int // populated when Kind == FetchHTTP
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.URL
	}
	return string(e.Kind) + ": " + e.URL + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves a single URL's HTML body (spec.md §6).
type Fetcher interface {
	Get(ctx context.Context, url string) (html string, err error)
}

// ProductURL is one entry a list page yields for the detail-collection
// stage to fetch next.
type ProductURL struct {
	URL        string
	NaturalKey string
}

// Parser turns fetched HTML into the structured data the later stages
// need (spec.md §6).
type Parser interface {
	ParseList(ctx context.Context, html string) ([]ProductURL, error)
	ParseDetail(ctx context.Context, html string) (*crawl.ProductRecord, error)
}

// UpsertStats is Repository.UpsertBatch's result (spec.md §6).
type UpsertStats struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Repository persists parsed products. Upserts are idempotent on
// NaturalKey (spec.md §6): calling UpsertBatch twice with the same
// records must not double-count inserted/updated.
type Repository interface {
	UpsertBatch(ctx context.Context, records []*crawl.ProductRecord) (UpsertStats, error)
}

// defaultHTTPTimeout bounds a single Fetcher.Get call when the caller's
// context carries no deadline of its own.
const defaultHTTPTimeout = 30 * time.Second
