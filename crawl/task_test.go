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

func fastRetry() crawlconfig.RetryPolicy {
	return crawlconfig.RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		JitterBound: time.Millisecond,
	}
}

func newTestApex(t *testing.T, pub EventPublisher) (*AppContext, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	return NewAppContext(ctx, NewSessionID(), &crawlconfig.SessionConfig{}, pub), cancel
}

func TestAsyncTask_SucceedsFirstTry(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		return &item, nil
	}

	task := NewAsyncTask(apex, NewBatchID(apex.SessionID), NewStageID(NewBatchID(apex.SessionID), StageParse), StageParse, StageItem{Kind: ItemPage, Page: 1}, action, fastRetry(), nil)
	result := task.Run(context.Background())

	require.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, pub.countOf(EventTaskStarted))
	assert.Equal(t, 1, pub.countOf(EventTaskCompleted))
}

func TestAsyncTask_RetriesRecoverableThenSucceeds(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	attempts := 0
	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		attempts++
		if attempts < 2 {
			return nil, NewCrawlError("fetch", KindTransient, errors.New("timeout"))
		}
		return &item, nil
	}

	task := NewAsyncTask(apex, NewBatchID(apex.SessionID), NewStageID(NewBatchID(apex.SessionID), StageParse), StageParse, StageItem{}, action, fastRetry(), nil)
	result := task.Run(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, pub.countOf(EventTaskRetrying))
}

func TestAsyncTask_PermanentErrorStopsImmediately(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	defer cancel()

	attempts := 0
	fatalErr := NewCrawlError("fetch", KindFatal, errors.New("unauthorized"))
	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		attempts++
		return nil, fatalErr
	}

	task := NewAsyncTask(apex, NewBatchID(apex.SessionID), NewStageID(NewBatchID(apex.SessionID), StageParse), StageParse, StageItem{}, action, fastRetry(), nil)
	result := task.Run(context.Background())

	require.False(t, result.Success)
	assert.Equal(t, 1, attempts, "a fatal classification must not consume the retry budget")
	assert.Equal(t, 1, pub.countOf(EventTaskFailed))
}

func TestAsyncTask_AlreadyCancelledNeverRunsAction(t *testing.T) {
	pub := &recordingPublisher{}
	apex, cancel := newTestApex(t, pub)
	cancel()

	called := false
	action := func(ctx context.Context, item StageItem) (*StageItem, error) {
		called = true
		return &item, nil
	}

	task := NewAsyncTask(apex, NewBatchID(apex.SessionID), NewStageID(NewBatchID(apex.SessionID), StageParse), StageParse, StageItem{}, action, fastRetry(), nil)
	result := task.Run(context.Background())

	assert.False(t, result.Success)
	assert.False(t, called)
	assert.Equal(t, 0, pub.countOf(EventTaskStarted))
}
