package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattercertis/crawlcore/crawlconfig"
)

var errStageAction = errors.New("stage action failed")

func fastAdapt() crawlconfig.AdaptiveWidthConfig {
	return crawlconfig.AdaptiveWidthConfig{
		WindowSeconds:    time.Hour, // tests drive adaptWidth directly, not via the window
		ErrorRateHigh:    0.10,
		ErrorRateLow:     0.02,
		ShrinkFactor:     0.8,
		GrowFactor:       1.2,
		TargetThroughput: 1.0,
		HardCap:          64,
	}
}

func TestBatchActor_SequencesStagesAndStitchesOutput(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	var stageOrder []StageKind
	runner := func(kind StageKind) TaskAction {
		return func(ctx context.Context, item StageItem) (*StageItem, error) {
			stageOrder = append(stageOrder, kind)
			out := item
			if kind == StagePersist {
				out.ParsedProduct = &ProductRecord{NaturalKey: "k"}
			}
			return &out, nil
		}
	}

	plan := BatchPlan{
		BatchID: NewBatchID(apex.SessionID),
		Pages:   []int{1, 2},
		Workers: WorkerCaps{ListPage: 2, ProductDetail: 2},
		Stages:  []StageKind{StageListCollection, StagePersist},
	}

	batch := NewBatchActor(apex, plan, runner, fastRetry(), fastAdapt())
	reply := make(chan BatchResult, 1)
	batch.Run(context.Background(), plan, reply)

	result := <-reply
	require.NoError(t, result.FatalErr)
	assert.Equal(t, 2, result.ProductsUpserted)
	assert.Empty(t, result.RetryablePages)
	assert.Equal(t, 1, pub.countOf(EventBatchStarted))
	assert.Equal(t, 1, pub.countOf(EventBatchCompleted))
}

func TestBatchActor_ListCollectionFansOutProductBatchIntoPerURLItems(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	var detailPages []int
	runner := func(kind StageKind) TaskAction {
		return func(ctx context.Context, item StageItem) (*StageItem, error) {
			switch kind {
			case StageListCollection:
				out := StageItem{
					Kind: ItemProductBatch,
					Page: item.Page,
					ProductBatch: []*ProductRecord{
						{NaturalKey: "a", Fields: map[string]string{"url": "https://x/a"}},
						{NaturalKey: "b", Fields: map[string]string{"url": "https://x/b"}},
						{NaturalKey: "c", Fields: map[string]string{"url": "https://x/c"}},
					},
				}
				return &out, nil
			case StagePersist:
				detailPages = append(detailPages, item.Page)
				out := item
				out.ParsedProduct = &ProductRecord{NaturalKey: item.ProductURL}
				return &out, nil
			default:
				return &item, nil
			}
		}
	}

	plan := BatchPlan{
		BatchID: NewBatchID(apex.SessionID),
		Pages:   []int{7},
		Workers: WorkerCaps{ListPage: 1, ProductDetail: 3},
		Stages:  []StageKind{StageListCollection, StagePersist},
	}

	batch := NewBatchActor(apex, plan, runner, fastRetry(), fastAdapt())
	reply := make(chan BatchResult, 1)
	batch.Run(context.Background(), plan, reply)

	result := <-reply
	require.NoError(t, result.FatalErr)
	assert.Equal(t, 3, result.ProductsUpserted, "one page's ProductBatch of 3 URLs must persist as 3 products, not 1")
	assert.Equal(t, []int{7, 7, 7}, detailPages)
}

func TestBatchActor_ProductsUpsertedCountsInsertedAndUpdatedNotSkipped(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	runner := func(kind StageKind) TaskAction {
		return func(ctx context.Context, item StageItem) (*StageItem, error) {
			if kind != StagePersist {
				return &item, nil
			}
			out := item
			out.ParsedProduct = &ProductRecord{NaturalKey: item.ProductURL}
			switch item.Page {
			case 1:
				out.PersistStats = &UpsertStats{Inserted: 1}
			case 2:
				out.PersistStats = &UpsertStats{Updated: 1}
			case 3:
				out.PersistStats = &UpsertStats{Skipped: 1}
			}
			return &out, nil
		}
	}

	plan := BatchPlan{
		BatchID: NewBatchID(apex.SessionID),
		Pages:   []int{1, 2, 3},
		Workers: WorkerCaps{ListPage: 3, ProductDetail: 3},
		Stages:  []StageKind{StageListCollection, StagePersist},
	}

	batch := NewBatchActor(apex, plan, runner, fastRetry(), fastAdapt())
	reply := make(chan BatchResult, 1)
	batch.Run(context.Background(), plan, reply)

	result := <-reply
	require.NoError(t, result.FatalErr)
	assert.Equal(t, 2, result.ProductsUpserted, "an inserted and an updated record count, a skipped one doesn't")
}

func TestBatchActor_FatalErrorShortCircuits(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	runner := func(kind StageKind) TaskAction {
		return func(ctx context.Context, item StageItem) (*StageItem, error) {
			return nil, NewCrawlError("list", KindFatal, errStageAction)
		}
	}

	plan := BatchPlan{
		BatchID: NewBatchID(apex.SessionID),
		Pages:   []int{1},
		Workers: WorkerCaps{ListPage: 1, ProductDetail: 1},
		Stages:  []StageKind{StageListCollection, StagePersist},
	}

	batch := NewBatchActor(apex, plan, runner, fastRetry(), fastAdapt())
	reply := make(chan BatchResult, 1)
	batch.Run(context.Background(), plan, reply)

	result := <-reply
	assert.Error(t, result.FatalErr)
	assert.NotContains(t, result.StageStats, StagePersist, "persist must never run after list_collection fails fatally")
}

func TestBatchActor_RetriesRecoverableStageFailures(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	calls := map[int]int{}
	runner := func(kind StageKind) TaskAction {
		return func(ctx context.Context, item StageItem) (*StageItem, error) {
			calls[item.Page]++
			if item.Page == 2 && calls[item.Page] < 2 {
				return nil, NewCrawlError("list", KindTransient, errStageAction)
			}
			return &item, nil
		}
	}

	plan := BatchPlan{
		BatchID: NewBatchID(apex.SessionID),
		Pages:   []int{1, 2},
		Workers: WorkerCaps{ListPage: 2, ProductDetail: 2},
		Stages:  []StageKind{StageListCollection},
	}

	batch := NewBatchActor(apex, plan, runner, fastRetry(), fastAdapt())
	reply := make(chan BatchResult, 1)
	batch.Run(context.Background(), plan, reply)

	result := <-reply
	require.NoError(t, result.FatalErr)
	assert.Empty(t, result.RetryablePages)
	assert.Equal(t, 2, calls[2], "page 2 should have been retried exactly once after its first failure")
}

func TestBatchActor_AdaptWidth_ShrinksOnHighErrorRate(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	batch := NewBatchActor(apex, BatchPlan{BatchID: NewBatchID(apex.SessionID)}, nil, fastRetry(), fastAdapt())
	caps := WorkerCaps{ListPage: 10, ProductDetail: 10}

	batch.adaptWidth(&caps, 10, 8, 2, time.Second) // error rate 0.20 > 0.10
	assert.Equal(t, 8, caps.ListPage)
	assert.Equal(t, 8, caps.ProductDetail)
	assert.Equal(t, 2, pub.countOf(EventBatchConfigChanged), "both caps changed, so two events publish")
}

func TestBatchActor_AdaptWidth_GrowsOnLowErrorAndThroughput(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	batch := NewBatchActor(apex, BatchPlan{BatchID: NewBatchID(apex.SessionID)}, nil, fastRetry(), fastAdapt())
	caps := WorkerCaps{ListPage: 10, ProductDetail: 10}

	batch.adaptWidth(&caps, 1, 1, 0, 5*time.Second) // throughput 0.2 < target 1.0, error rate 0
	assert.Equal(t, 12, caps.ListPage)
	assert.Equal(t, 12, caps.ProductDetail)
}

func TestBatchActor_AdaptWidth_HardCapNeverExceeded(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	batch := NewBatchActor(apex, BatchPlan{BatchID: NewBatchID(apex.SessionID)}, nil, fastRetry(), fastAdapt())
	caps := WorkerCaps{ListPage: 60, ProductDetail: 60}

	batch.adaptWidth(&caps, 1, 1, 0, 5*time.Second)
	assert.Equal(t, 64, caps.ListPage)
	assert.Equal(t, 64, caps.ProductDetail)
}
