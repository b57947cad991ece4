package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppContext_CancelledReflectsParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	apex := NewAppContext(ctx, NewSessionID(), nil, nil)

	assert.False(t, apex.Cancelled())
	cancel()
	assert.True(t, apex.Cancelled())
}

func TestPauseGate_BlocksUntilResumed(t *testing.T) {
	gate := newPauseGate()
	gate.Pause()

	done := make(chan struct{})
	go func() {
		gate.Wait(context.Background(), nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Resume was called")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}
}

func TestPauseGate_CancelUnblocksEvenWhilePaused(t *testing.T) {
	gate := newPauseGate()
	gate.Pause()
	cancel := make(chan struct{})

	done := make(chan struct{})
	go func() {
		gate.Wait(context.Background(), cancel)
		close(done)
	}()

	close(cancel)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestPauseGate_DoublePauseIsIdempotent(t *testing.T) {
	gate := newPauseGate()
	gate.Pause()
	gate.Pause()
	gate.Resume()

	done := make(chan struct{})
	go func() {
		gate.Wait(context.Background(), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return once fully resumed")
	}
}
