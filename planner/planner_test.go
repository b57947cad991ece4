package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattercertis/crawlcore/collaborators"
	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/crawlconfig"
)

func testConfig(t *testing.T) *crawlconfig.SessionConfig {
	t.Helper()
	cfg := crawlconfig.DefaultSessionConfig()
	cfg.BaseURL = "https://example.test"
	cfg.MatterFilterURL = "https://example.test/filter"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRange_NoCursorStartsAtLastPage(t *testing.T) {
	snap := &crawl.AnalysisSnapshot{TotalPagesOnSite: 50}
	rng := Range(snap, 10)
	assert.Equal(t, 50, rng.StartPage)
	assert.Equal(t, 41, rng.EndPage)
	assert.False(t, rng.Empty())
}

func TestRange_CursorReincludesPartiallyCoveredPage(t *testing.T) {
	snap := &crawl.AnalysisSnapshot{
		TotalPagesOnSite: 50,
		Cursor:           &crawl.DbCursor{PageID: 3, IndexInPage: 5, ProductsPerPage: 12},
	}
	rng := Range(snap, 10)
	assert.Equal(t, 47, rng.StartPage)
	assert.Equal(t, 38, rng.EndPage)
}

func TestRange_EndPageClampedToOne(t *testing.T) {
	snap := &crawl.AnalysisSnapshot{TotalPagesOnSite: 5}
	rng := Range(snap, 10)
	assert.Equal(t, 5, rng.StartPage)
	assert.Equal(t, 1, rng.EndPage)
}

func TestRange_FullyCoveredSiteIsEmpty(t *testing.T) {
	snap := &crawl.AnalysisSnapshot{
		TotalPagesOnSite: 50,
		Cursor:           &crawl.DbCursor{PageID: 50},
	}
	rng := Range(snap, 10)
	assert.True(t, rng.Empty())
}

func TestPlanner_PlanChunksPagesIntoBatchPageCountSizedBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchPageCount = 4
	cfg.PageRangeLimit = 10

	p := New(&collaborators.FakeSiteAnalyzer{}, &collaborators.FakeDbAnalyzer{}, cfg.SnapshotTTL)
	snap := &crawl.AnalysisSnapshot{TotalPagesOnSite: 20}

	plans, err := p.Plan(context.Background(), snap, cfg)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []int{20, 19, 18, 17}, plans[0].Pages)
	assert.Equal(t, []int{16, 15, 14, 13}, plans[1].Pages)
	assert.Equal(t, []int{12, 11}, plans[2].Pages)
	for _, pl := range plans {
		assert.NotEmpty(t, pl.BatchID)
		assert.Equal(t, crawl.DefaultStageSequence(), pl.Stages)
		assert.Equal(t, cfg.Workers.ListPageMaxConcurrent, pl.Workers.ListPage)
	}
}

func TestPlanner_PlanUpToDateReturnsEmptyBatchList(t *testing.T) {
	cfg := testConfig(t)
	p := New(&collaborators.FakeSiteAnalyzer{}, &collaborators.FakeDbAnalyzer{}, cfg.SnapshotTTL)
	snap := &crawl.AnalysisSnapshot{TotalPagesOnSite: 10, Cursor: &crawl.DbCursor{PageID: 10}}

	plans, err := p.Plan(context.Background(), snap, cfg)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestPlanner_AnalyzeProbesAndCaches(t *testing.T) {
	site := &collaborators.FakeSiteAnalyzer{Result: collaborators.SiteProbe{TotalPagesOnSite: 30, ProductsOnLastPage: 4}}
	db := &collaborators.FakeDbAnalyzer{Cur: &crawl.DbCursor{PageID: 1, ProductsPerPage: 12}}
	p := New(site, db, time.Minute)

	snap, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, snap.TotalPagesOnSite)
	require.NotNil(t, snap.Cursor)
	assert.Equal(t, 1, snap.Cursor.PageID)

	// second call within TTL must not re-probe: flip the fake's result and
	// confirm the cached snapshot (not the new one) comes back.
	site.Result = collaborators.SiteProbe{TotalPagesOnSite: 999}
	snap2, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, snap2.TotalPagesOnSite)
}

func TestPlanner_AnalyzeReProbesAfterTTLExpires(t *testing.T) {
	site := &collaborators.FakeSiteAnalyzer{Result: collaborators.SiteProbe{TotalPagesOnSite: 30}}
	db := &collaborators.FakeDbAnalyzer{}
	p := New(site, db, time.Millisecond)

	_, err := p.Analyze(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	site.Result = collaborators.SiteProbe{TotalPagesOnSite: 99}

	snap, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, snap.TotalPagesOnSite)
}

func TestPlanner_AnalyzeSiteProbeFailureIsFatal(t *testing.T) {
	site := &collaborators.FakeSiteAnalyzer{Err: errors.New("boom")}
	db := &collaborators.FakeDbAnalyzer{}
	p := New(site, db, time.Minute)

	_, err := p.Analyze(context.Background())
	assert.Error(t, err)
}

func TestPlanner_AnalyzeDbCursorFailureTreatedAsEmptyDb(t *testing.T) {
	site := &collaborators.FakeSiteAnalyzer{Result: collaborators.SiteProbe{TotalPagesOnSite: 10}}
	db := &collaborators.FakeDbAnalyzer{Err: errors.New("db unreachable")}
	p := New(site, db, time.Minute)

	snap, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Cursor)
}
