package collaborators

import (
	"context"
	"sync"

	"github.com/mattercertis/crawlcore/crawl"
)

// InMemoryRepository implements Repository without a backing database. A
// real deployment swaps this for a driver-backed adapter; this module's
// core budget (spec.md §1's "thin repository code" carve-out) stops at the
// Repository contract itself.
type InMemoryRepository struct {
	mu    sync.Mutex
	byKey map[string]*crawl.ProductRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byKey: make(map[string]*crawl.ProductRecord)}
}

// UpsertBatch is idempotent on NaturalKey (spec.md §6): re-upserting the
// same key updates it again but is never counted as a second insert.
func (r *InMemoryRepository) UpsertBatch(ctx context.Context, records []*crawl.ProductRecord) (UpsertStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats UpsertStats
	for _, rec := range records {
		if rec == nil || rec.NaturalKey == "" {
			stats.Skipped++
			continue
		}
		if _, exists := r.byKey[rec.NaturalKey]; exists {
			stats.Updated++
		} else {
			stats.Inserted++
		}
		r.byKey[rec.NaturalKey] = rec
	}
	return stats, nil
}

func (r *InMemoryRepository) Get(key string) (*crawl.ProductRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[key]
	return rec, ok
}

func (r *InMemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// RepositoryDbAnalyzer derives a DbCursor from an InMemoryRepository's
// current size (the cursor points at the last stored record), treating an empty repository as "empty DB" (spec.md §6:
// DbAnalyzer "never panics on empty DB").
type RepositoryDbAnalyzer struct {
	repo            *InMemoryRepository
	productsPerPage int
}

func NewRepositoryDbAnalyzer(repo *InMemoryRepository, productsPerPage int) *RepositoryDbAnalyzer {
	if productsPerPage <= 0 {
		productsPerPage = 1
	}
	return &RepositoryDbAnalyzer{repo: repo, productsPerPage: productsPerPage}
}

func (a *RepositoryDbAnalyzer) Cursor(ctx context.Context) (*crawl.DbCursor, error) {
	n := a.repo.Len()
	if n == 0 {
		return nil, nil
	}
	last := n - 1
	return &crawl.DbCursor{
		PageID:          last / a.productsPerPage,
		IndexInPage:     last % a.productsPerPage,
		ProductsPerPage: a.productsPerPage,
		TotalProducts:   n,
	}, nil
}
