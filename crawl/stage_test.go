package crawl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(n int) []StageItem {
	out := make([]StageItem, n)
	for i := range out {
		out[i] = StageItem{Kind: ItemPage, Page: i + 1, SortKey: [2]int{i + 1, 0}}
	}
	return out
}

func TestStageActor_RespectsConcurrencyCap(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	var inFlight, maxInFlight int32
	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if cur <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &item, nil
	}

	stage := NewStageActor(apex, NewBatchID(apex.SessionID), StageListCollection, action, fastRetry())
	reply := make(chan StageResult, 1)
	stage.Run(context.Background(), StageListCollection, items(20), 3, reply)

	result := <-reply
	require.Len(t, result.Successes, 20)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxInFlight)), 3)
}

func TestStageActor_PauseStopsNewTasksButLetsInFlightFinish(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	var started int32
	startedCh := make(chan struct{}, 5)
	unblock := make(chan struct{})
	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		atomic.AddInt32(&started, 1)
		startedCh <- struct{}{}
		<-unblock
		return &item, nil
	}

	stage := NewStageActor(apex, NewBatchID(apex.SessionID), StageListCollection, action, fastRetry())
	reply := make(chan StageResult, 1)
	go stage.Run(context.Background(), StageListCollection, items(5), 2, reply)

	// Let the two permitted tasks start, then pause: the remaining three
	// must never start until Resume, even though two are still in flight.
	<-startedCh
	<-startedCh
	apex.PauseAware().Pause()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&started), "no new task should start once paused")

	apex.PauseAware().Resume()
	close(unblock)

	result := <-reply
	require.Len(t, result.Successes, 5)
}

func TestStageActor_RecoversFromPanic(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		if item.Page == 2 {
			panic("boom")
		}
		return &item, nil
	}

	stage := NewStageActor(apex, NewBatchID(apex.SessionID), StageListCollection, action, fastRetry())
	reply := make(chan StageResult, 1)
	stage.Run(context.Background(), StageListCollection, items(3), 4, reply)

	result := <-reply
	assert.Error(t, result.FatalErr)
	assert.Len(t, result.Successes, 2)
}

func TestStageActor_RepliesExactlyOnce(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	action := func(ctx context.Context, item StageItem) (*StageItem, error) { return &item, nil }
	stage := NewStageActor(apex, NewBatchID(apex.SessionID), StageListCollection, action, fastRetry())

	reply := make(chan StageResult, 1)
	stage.Run(context.Background(), StageListCollection, items(5), 2, reply)

	assert.Len(t, reply, 1)
}

func TestStageActor_Accept_DispatchesRunStage(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	action := func(ctx context.Context, item StageItem) (*StageItem, error) { return &item, nil }
	stage := NewStageActor(apex, NewBatchID(apex.SessionID), StageListCollection, action, fastRetry())

	reply := make(chan StageResult, 1)
	stage.Accept(context.Background(), RunStage{
		Kind: StageListCollection, Items: items(4),
		Caps: WorkerCaps{ListPage: 2, ProductDetail: 8}, Reply: reply,
	})

	result := <-reply
	assert.Len(t, result.Successes, 4)
}
