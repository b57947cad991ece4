package crawl

import (
	"context"
	"sync"

	"github.com/mattercertis/crawlcore/crawlconfig"
)

// EventPublisher is the one method every actor needs from the EventHub. It
// is defined here, not in package events, so crawl has no import on
// events — events imports crawl for AppEvent instead, avoiding a cycle.
type EventPublisher interface {
	Publish(AppEvent)
}

// AppContext is the shared, read-mostly bundle every actor carries instead
// of a parent pointer (spec.md §9 "Actor identity without cyclic
// references"): an event sender, a cancellation signal, and a pointer to
// the frozen SessionConfig. Children never walk back up to a parent; any
// parent-directed reporting goes through Events.
type AppContext struct {
	SessionID SessionID
	Config    *crawlconfig.SessionConfig
	Events    EventPublisher

	cancel context.Context
	pause  *pauseGate
}

// NewAppContext builds the root AppContext for a session. ctx's
// cancellation (via its parent context.CancelFunc) is the session-wide
// watch signal cloned into every descendant (spec.md §5).
func NewAppContext(ctx context.Context, sessionID SessionID, cfg *crawlconfig.SessionConfig, events EventPublisher) *AppContext {
	return &AppContext{
		SessionID: sessionID,
		Config:    cfg,
		Events:    events,
		cancel:    ctx,
		pause:     newPauseGate(),
	}
}

// Done returns the cancellation signal every select-based suspension point
// races against (spec.md §5).
func (c *AppContext) Done() <-chan struct{} { return c.cancel.Done() }

// Cancelled reports whether the session-wide watch signal has fired.
func (c *AppContext) Cancelled() bool {
	select {
	case <-c.cancel.Done():
		return true
	default:
		return false
	}
}

// PauseAware returns the pause gate shared across the whole session tree,
// so SessionActor's Pause/Resume (spec.md §4.1) is visible to every
// descendant without a broadcast round-trip per actor.
func (c *AppContext) PauseAware() *pauseGate { return c.pause }

// pauseGate lets AsyncTasks block at their next suspension point when
// paused, and unblock instantly on Resume or on cancellation.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	ch     chan struct{} // closed while NOT paused; replaced on Pause
}

func newPauseGate() *pauseGate {
	g := &pauseGate{ch: make(chan struct{})}
	close(g.ch) // starts unpaused
	return g
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.ch = make(chan struct{})
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.ch)
}

// Wait blocks until resumed, cancelled, or ctx done, whichever is first.
// Called at a task's "next suspension point" (spec.md §4.1).
func (g *pauseGate) Wait(ctx context.Context, cancel <-chan struct{}) {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
	case <-cancel:
	case <-ctx.Done():
	}
}
