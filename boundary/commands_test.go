package boundary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/events"
)

type fakePlanner struct {
	snapshot   *crawl.AnalysisSnapshot
	analyzeErr error
	plans      []crawl.BatchPlan
	planErr    error
}

func (f *fakePlanner) Analyze(ctx context.Context) (*crawl.AnalysisSnapshot, error) {
	return f.snapshot, f.analyzeErr
}

func (f *fakePlanner) Plan(ctx context.Context, snapshot *crawl.AnalysisSnapshot, cfg *crawlconfig.SessionConfig) ([]crawl.BatchPlan, error) {
	return f.plans, f.planErr
}

func slowStageRunner(delay time.Duration) crawl.StageRunner {
	return func(kind crawl.StageKind) crawl.TaskAction {
		return func(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
			time.Sleep(delay)
			return &item, nil
		}
	}
}

func testCfg(t *testing.T) *crawlconfig.SessionConfig {
	t.Helper()
	cfg := crawlconfig.DefaultSessionConfig()
	cfg.BaseURL = "https://example.test"
	cfg.MatterFilterURL = "https://example.test/filter"
	cfg.SessionDeadline = time.Minute
	require.NoError(t, cfg.Validate())
	return cfg
}

func onePageOneStagePlan() []crawl.BatchPlan {
	return []crawl.BatchPlan{{
		BatchID: "batch/t1",
		Pages:   []int{1},
		Workers: crawl.WorkerCaps{ListPage: 1, ProductDetail: 1},
		Stages:  []crawl.StageKind{crawl.StageListCollection},
	}}
}

func TestServer_StartCrawlingRejectsConcurrentSessions(t *testing.T) {
	cfg := testCfg(t)
	hub := events.NewHub(8)
	pl := &fakePlanner{snapshot: &crawl.AnalysisSnapshot{TotalPagesOnSite: 1, CapturedAt: time.Now(), TTL: time.Minute}, plans: onePageOneStagePlan()}
	srv := New(cfg, hub, pl, slowStageRunner(30*time.Millisecond), nil)

	require.NoError(t, srv.StartCrawling("default"))
	err := srv.StartCrawling("default")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.Eventually(t, func() bool { return !srv.GetState().Running }, time.Second, 5*time.Millisecond)
}

func TestServer_GetStateReportsRunningThenTerminal(t *testing.T) {
	cfg := testCfg(t)
	hub := events.NewHub(8)
	pl := &fakePlanner{snapshot: &crawl.AnalysisSnapshot{TotalPagesOnSite: 1, CapturedAt: time.Now(), TTL: time.Minute}, plans: onePageOneStagePlan()}
	srv := New(cfg, hub, pl, slowStageRunner(10*time.Millisecond), nil)

	require.NoError(t, srv.StartCrawling("default"))
	assert.True(t, srv.GetState().Running)

	require.Eventually(t, func() bool {
		snap := srv.GetState()
		return !snap.Running && snap.LastReport != nil
	}, time.Second, 5*time.Millisecond)

	final := srv.GetState()
	assert.Equal(t, crawl.StateCompleted, final.State)
	assert.Equal(t, crawl.ExitCompleted, final.LastReport.ExitCode())
}

func TestServer_PauseResumeCancelWithoutSessionReturnErrNoActiveSession(t *testing.T) {
	cfg := testCfg(t)
	hub := events.NewHub(8)
	pl := &fakePlanner{}
	srv := New(cfg, hub, pl, slowStageRunner(time.Millisecond), nil)

	assert.ErrorIs(t, srv.Pause(""), ErrNoActiveSession)
	assert.ErrorIs(t, srv.Resume(), ErrNoActiveSession)
	assert.ErrorIs(t, srv.Cancel(false), ErrNoActiveSession)
}

func TestServer_AnalyzeSystemStatusComputesBacklog(t *testing.T) {
	cfg := testCfg(t)
	hub := events.NewHub(8)
	pl := &fakePlanner{snapshot: &crawl.AnalysisSnapshot{
		TotalPagesOnSite: 50,
		Cursor:           &crawl.DbCursor{PageID: 10},
		CapturedAt:       time.Now(),
		TTL:              time.Minute,
	}}
	srv := New(cfg, hub, pl, slowStageRunner(time.Millisecond), nil)

	status, err := srv.AnalyzeSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, status.TotalPagesOnSite)
	assert.Equal(t, 10, status.LocalPagesCovered)
	assert.Equal(t, 40, status.EstimatedNewPages)
	assert.True(t, status.SnapshotFresh)
}

func TestServer_AnalyzeSystemStatusPropagatesPlannerError(t *testing.T) {
	cfg := testCfg(t)
	hub := events.NewHub(8)
	pl := &fakePlanner{analyzeErr: assertAnError{}}
	srv := New(cfg, hub, pl, slowStageRunner(time.Millisecond), nil)

	_, err := srv.AnalyzeSystemStatus(context.Background())
	assert.Error(t, err)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "probe failed" }
