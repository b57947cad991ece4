// Package planner implements crawl.Planner: turning a fresh look at the
// remote site and the local database into an AnalysisSnapshot, then
// carving that snapshot into an ordered sequence of BatchPlans (spec.md
// §4.5).
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattercertis/crawlcore/collaborators"
	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/resilience"
)

// SnapshotCache is the optional distributed extension point for the
// session-scoped cache spec.md §4.5 requires (see RedisSnapshotCache).
// A Planner with no SnapshotCache falls back to its own in-memory field.
type SnapshotCache interface {
	Load(ctx context.Context) (*crawl.AnalysisSnapshot, error)
	Store(ctx context.Context, snapshot *crawl.AnalysisSnapshot) error
}

// Planner is the concrete crawl.Planner: a pure function of
// (SessionConfig, AnalysisSnapshot) for Plan, plus the two collaborator
// calls Analyze orchestrates (spec.md §4.5).
type Planner struct {
	site collaborators.SiteAnalyzer
	db   collaborators.DbAnalyzer
	ttl  time.Duration

	logger  corelog.Logger
	breaker *resilience.CircuitBreaker
	cache   SnapshotCache

	mu       sync.Mutex
	snapshot *crawl.AnalysisSnapshot
}

// Option configures optional Planner dependencies.
type Option func(*Planner)

// WithLogger scopes the planner's logs (spec §10.1's per-component logger
// convention: "crawl/planner").
func WithLogger(logger corelog.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// WithBreaker overrides the default SiteAnalyzer circuit breaker. Mostly
// useful in tests that want a forced-open breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Planner) { p.breaker = cb }
}

// WithSnapshotCache wires an external cache (e.g. RedisSnapshotCache) that
// is consulted before probing and written through after a fresh probe, so
// multiple orchestrator processes can share one AnalysisSnapshot.
func WithSnapshotCache(cache SnapshotCache) Option {
	return func(p *Planner) { p.cache = cache }
}

// New builds a Planner. ttl is the AnalysisSnapshot freshness window
// (spec.md §4.5 default: 5 minutes, see crawlconfig.SessionConfig.SnapshotTTL).
func New(site collaborators.SiteAnalyzer, db collaborators.DbAnalyzer, ttl time.Duration, opts ...Option) *Planner {
	p := &Planner{site: site, db: db, ttl: ttl, logger: &corelog.NoOpLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		if cb, err := resilience.NewSiteAnalyzerBreaker(resilience.Dependencies{Logger: p.logger}); err == nil {
			p.breaker = cb
		}
	}
	return p
}

// Analyze satisfies crawl.Planner. It is the sole "state-ensuring gateway"
// (spec.md §4.5): if the cached snapshot is missing or stale, it probes
// the site and the database before returning, so correctness never
// depends on a caller having run a preview first.
func (p *Planner) Analyze(ctx context.Context) (*crawl.AnalysisSnapshot, error) {
	now := time.Now()

	p.mu.Lock()
	cached := p.snapshot
	p.mu.Unlock()
	if cached.Fresh(now) {
		snap := *cached
		return &snap, nil
	}

	if p.cache != nil {
		if remote, err := p.cache.Load(ctx); err != nil {
			p.logger.Warn("planner: snapshot cache load failed, probing directly", map[string]interface{}{"error": err.Error()})
		} else if remote.Fresh(now) {
			p.mu.Lock()
			p.snapshot = remote
			p.mu.Unlock()
			snap := *remote
			return &snap, nil
		}
	}

	probe, err := p.probeSite(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner: site probe: %w", err)
	}

	cursor, err := p.db.Cursor(ctx)
	if err != nil {
		p.logger.Warn("planner: db cursor lookup failed, treating as empty db", map[string]interface{}{"error": err.Error()})
		cursor = nil
	}

	snapshot := &crawl.AnalysisSnapshot{
		TotalPagesOnSite:   probe.TotalPagesOnSite,
		ProductsOnLastPage: probe.ProductsOnLastPage,
		Cursor:             cursor,
		CapturedAt:         now,
		TTL:                p.ttl,
	}

	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.Store(ctx, snapshot); err != nil {
			p.logger.Warn("planner: snapshot cache store failed", map[string]interface{}{"error": err.Error()})
		}
	}

	out := *snapshot
	return &out, nil
}

func (p *Planner) probeSite(ctx context.Context) (collaborators.SiteProbe, error) {
	if p.breaker == nil {
		return p.site.Probe(ctx)
	}
	var probe collaborators.SiteProbe
	err := p.breaker.Execute(ctx, func() error {
		var innerErr error
		probe, innerErr = p.site.Probe(ctx)
		return innerErr
	})
	return probe, err
}

// Plan satisfies crawl.Planner, implementing spec.md §4.5's range
// algorithm and batching exactly. It is a pure function of its
// arguments: no I/O, no mutation of snapshot or cfg.
func (p *Planner) Plan(ctx context.Context, snapshot *crawl.AnalysisSnapshot, cfg *crawlconfig.SessionConfig) ([]crawl.BatchPlan, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("planner: plan called with nil snapshot")
	}

	rng := Range(snapshot, cfg.PageRangeLimit)
	if rng.Empty() {
		return nil, nil
	}

	pages := rng.Pages()
	caps := crawl.WorkerCaps{
		ListPage:      cfg.Workers.ListPageMaxConcurrent,
		ProductDetail: cfg.Workers.ProductDetailMaxConcurrent,
	}
	stages := crawl.DefaultStageSequence()

	batchSize := cfg.BatchPageCount
	if batchSize < 1 {
		batchSize = len(pages)
	}

	plans := make([]crawl.BatchPlan, 0, (len(pages)+batchSize-1)/batchSize)
	for i := 0; i < len(pages); i += batchSize {
		end := i + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		chunk := append([]int(nil), pages[i:end]...)
		plans = append(plans, crawl.BatchPlan{
			BatchID: newBatchID(),
			Pages:   chunk,
			Workers: caps,
			Stages:  stages,
		})
	}
	return plans, nil
}

// Range implements spec.md §4.5's range algorithm in isolation, exported
// so it can be tested as a pure function independent of Plan's batching.
func Range(snapshot *crawl.AnalysisSnapshot, pageRangeLimit int) crawl.CrawlRange {
	n := snapshot.TotalPagesOnSite

	startPage := n
	if snapshot.Cursor != nil {
		// Re-include the partially-covered page to guarantee no gaps;
		// the reincluded page's already-seen products are re-upserted,
		// which Repository.UpsertBatch's natural-key idempotence makes
		// harmless rather than a correctness bug.
		startPage = n - snapshot.Cursor.PageID
	}

	if startPage < 1 {
		return crawl.CrawlRange{}
	}

	endPage := startPage - pageRangeLimit + 1
	if endPage < 1 {
		endPage = 1
	}

	return crawl.CrawlRange{StartPage: startPage, EndPage: endPage}
}

// newBatchID mints a batch identifier. Plan has no SessionID in scope
// (crawl.Planner's signature is deliberately session-agnostic so the
// same Planner can be reused for Analyze/Plan previews outside a live
// session), so batch IDs here are flat rather than session-parented;
// SessionActor only ever treats BatchID as an opaque key.
func newBatchID() crawl.BatchID {
	return crawl.BatchID(fmt.Sprintf("batch/%s", uuid.New().String()[:12]))
}
