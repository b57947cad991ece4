package collaborators

import (
	"context"
	"sync"

	"github.com/mattercertis/crawlcore/crawl"
)

// FakeSiteAnalyzer is a scriptable in-memory SiteAnalyzer used by
// planner/session test suites, mirroring the teacher's MockDiscovery: a
// plain struct implementing the contract, not a *_test.go-only type, so
// it can be shared across package boundaries (spec.md §10.4's "fake
// collaborators" tooling).
type FakeSiteAnalyzer struct {
	Result SiteProbe
	Err    error
}

func (f *FakeSiteAnalyzer) Probe(ctx context.Context) (SiteProbe, error) {
	return f.Result, f.Err
}

// FakeDbAnalyzer returns a scripted cursor or error.
type FakeDbAnalyzer struct {
	Cur *crawl.DbCursor
	Err error
}

func (f *FakeDbAnalyzer) Cursor(ctx context.Context) (*crawl.DbCursor, error) {
	return f.Cur, f.Err
}

// FakeFetcher returns canned HTML per URL, or Err if set.
type FakeFetcher struct {
	mu     sync.Mutex
	Pages  map[string]string
	Err    error
	Called []string
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{Pages: make(map[string]string)}
}

func (f *FakeFetcher) Get(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.Called = append(f.Called, url)
	f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	body, ok := f.Pages[url]
	if !ok {
		return "", &FetchError{Kind: FetchHTTP, StatusCode: 404, URL: url}
	}
	return body, nil
}

// FakeParser returns scripted results regardless of its HTML input,
// letting tests exercise stage wiring without a real DOM.
type FakeParser struct {
	ListResult   []ProductURL
	ListErr      error
	DetailResult *crawl.ProductRecord
	DetailErr    error
}

func (f *FakeParser) ParseList(ctx context.Context, html string) ([]ProductURL, error) {
	return f.ListResult, f.ListErr
}

func (f *FakeParser) ParseDetail(ctx context.Context, html string) (*crawl.ProductRecord, error) {
	return f.DetailResult, f.DetailErr
}
