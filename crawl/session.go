package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattercertis/crawlcore/crawlconfig"
)

// Planner is what SessionActor needs from the planning package: turn a
// fresh look at the remote site and the local DB into an AnalysisSnapshot,
// then carve that snapshot into an ordered sequence of BatchPlans
// (spec.md §3, §4.5). The concrete implementation lives in package
// planner; crawl only depends on this narrow contract to avoid an import
// cycle.
type Planner interface {
	Analyze(ctx context.Context) (*AnalysisSnapshot, error)
	Plan(ctx context.Context, snapshot *AnalysisSnapshot, cfg *crawlconfig.SessionConfig) ([]BatchPlan, error)
}

// Exit codes for the crawler's process boundary (spec.md §6). Planner
// fatal (no range produced during Analyze/Plan) and a persistent fatal
// mid-run (a batch's FatalErr during Execute) are distinct outcomes, not
// the same "failed" exit code.
const (
	ExitCompleted      = 0
	ExitUnexpected     = 1
	ExitCancelled      = 2
	ExitPlannerFatal   = 3
	ExitExecutionFatal = 4
)

// SessionActor is the root of the actor hierarchy: one per crawl run,
// owning the session-wide AppContext every BatchActor, StageActor and
// AsyncTask descends from (spec.md §3, §4.1).
type SessionActor struct {
	ID     SessionID
	apex   *AppContext
	cancel context.CancelFunc

	planner     Planner
	stageRunner StageRunner
	cfg         *crawlconfig.SessionConfig

	mu    sync.Mutex
	state SessionState

	softCancel atomic.Bool
}

// NewSessionActor builds a session bound to cfg's deadline. cfg must
// already be validated (spec.md §3 invariant 1: config is frozen for the
// life of the session).
func NewSessionActor(parent context.Context, cfg *crawlconfig.SessionConfig, events EventPublisher, planner Planner, stageRunner StageRunner) *SessionActor {
	id := NewSessionID()
	ctx, cancel := context.WithTimeout(parent, cfg.SessionDeadline)
	apex := NewAppContext(ctx, id, cfg, events)
	return &SessionActor{
		ID:          id,
		apex:        apex,
		cancel:      cancel,
		planner:     planner,
		stageRunner: stageRunner,
		cfg:         cfg,
		state:       StateInitializing,
	}
}

func (s *SessionActor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionActor) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Dispatch applies a command that doesn't drive the main crawl loop
// itself (spec.md §4.1 "Pause/Resume", "Cancel"). StartCrawling is not
// accepted here — call Start directly, since it runs the session to
// completion and returns a SessionReport.
func (s *SessionActor) Dispatch(cmd SessionCommand) error {
	switch c := cmd.(type) {
	case Pause:
		s.pause(c.Reason)
		return nil
	case Resume:
		s.resume()
		return nil
	case Cancel:
		s.requestCancel(c.Force)
		return nil
	case Shutdown:
		s.requestCancel(!c.Graceful)
		return nil
	case StartCrawling:
		return errors.New("crawl: StartCrawling must be issued via Start, not Dispatch")
	default:
		return fmt.Errorf("crawl: unsupported session command %T", cmd)
	}
}

func (s *SessionActor) pause(reason string) {
	if s.State() != StateExecuting {
		return
	}
	s.apex.PauseAware().Pause()
	s.setState(StatePaused)
	s.publish(EventSessionStateChanged, &SessionStateChangedPayload{State: StatePaused})
	_ = reason // carried on the event envelope by callers that log it; not part of AppEvent's fixed schema
}

func (s *SessionActor) resume() {
	if s.State() != StatePaused {
		return
	}
	s.apex.PauseAware().Resume()
	s.setState(StateExecuting)
	s.publish(EventSessionStateChanged, &SessionStateChangedPayload{State: StateExecuting})
}

// requestCancel marks the session for cancellation. A forced cancel trips
// the shared AppContext immediately, reaching every descendant at its next
// suspension point. A graceful cancel only stops new batches from
// starting, giving the in-flight batch up to GracefulShutdownSeconds to
// finish before the same hard cutoff fires (spec.md §4.1).
func (s *SessionActor) requestCancel(force bool) {
	if force {
		s.cancel()
		return
	}
	if !s.softCancel.CompareAndSwap(false, true) {
		return
	}
	go func() {
		select {
		case <-time.After(s.cfg.GracefulShutdownSeconds):
			s.cancel()
		case <-s.apex.Done():
		}
	}()
}

// Start runs StartCrawling to completion: Analyze, Plan, then execute
// every BatchPlan in order, honoring pause and cancellation between
// batches (spec.md §4.1). It returns exactly once, with a SessionReport
// reflecting whichever terminal state the session reached. Start uses
// the context the session was constructed with (already deadline-bound
// to cfg.SessionDeadline), not a caller-supplied one — a session owns
// exactly one lifetime, fixed at NewSessionActor.
func (s *SessionActor) Start() *SessionReport {
	defer s.cancel()

	s.setState(StateInitializing)
	s.publish(EventSessionStarted, nil)

	s.setState(StateAnalyzing)
	s.publish(EventSessionStateChanged, &SessionStateChangedPayload{State: StateAnalyzing})

	snapshot, err := s.planner.Analyze(s.apex.cancel)
	if err != nil {
		return s.fail(err, FailurePhasePlanning)
	}
	s.publish(EventAnalysisCompleted, &AnalysisCompletedPayload{Snapshot: *snapshot})

	s.setState(StatePlanning)
	s.publish(EventSessionStateChanged, &SessionStateChangedPayload{State: StatePlanning})

	plans, err := s.planner.Plan(s.apex.cancel, snapshot, s.cfg)
	if err != nil {
		return s.fail(err, FailurePhasePlanning)
	}

	s.setState(StateExecuting)
	s.publish(EventSessionStateChanged, &SessionStateChangedPayload{State: StateExecuting})

	var (
		productsUpserted int
		pagesCovered     int
		firstErrors      []string
	)

batchLoop:
	for _, plan := range plans {
		if s.apex.Cancelled() || s.softCancel.Load() {
			break batchLoop
		}
		s.apex.PauseAware().Wait(s.apex.cancel, s.apex.Done())
		if s.apex.Cancelled() {
			break batchLoop
		}

		batch := NewBatchActor(s.apex, plan, s.stageRunner, s.cfg.Retry, s.cfg.Adapt)
		reply := make(chan BatchResult, 1)
		go batch.Accept(s.apex.cancel, RunBatch{Plan: plan, Reply: reply})

		select {
		case br := <-reply:
			productsUpserted += br.ProductsUpserted
			pagesCovered += len(plan.Pages) - len(br.RetryablePages)
			if br.FatalErr != nil {
				firstErrors = append(firstErrors, br.FatalErr.Error())
				return s.fail(br.FatalErr, FailurePhaseExecution)
			}
			if len(br.RetryablePages) > 0 {
				firstErrors = append(firstErrors, fmt.Sprintf("batch %s: %d page(s) exhausted retries", br.BatchID, len(br.RetryablePages)))
			}
		case <-s.apex.Done():
			break batchLoop
		}
	}

	if s.apex.Cancelled() {
		return s.cancelled(productsUpserted, pagesCovered, firstErrors)
	}
	return s.complete(productsUpserted, pagesCovered, firstErrors)
}

func (s *SessionActor) complete(products, pages int, firstErrors []string) *SessionReport {
	s.setState(StateCompleted)
	msg := fmt.Sprintf("completed: %d pages covered, %d products upserted", pages, products)
	s.publish(EventSessionCompleted, &SessionCompletedPayload{ProductsUpserted: products, Message: msg})
	return &SessionReport{
		SessionID: s.ID, FinalState: StateCompleted, PagesCovered: pages,
		ProductsUpserted: products, FirstErrors: firstErrors, Message: msg,
	}
}

func (s *SessionActor) cancelled(products, pages int, firstErrors []string) *SessionReport {
	s.setState(StateCancelled)
	force := !s.softCancel.Load()
	msg := fmt.Sprintf("cancelled: %d pages covered, %d products upserted", pages, products)
	s.publish(EventSessionCancelled, &SessionCancelledPayload{Force: force})
	return &SessionReport{
		SessionID: s.ID, FinalState: StateCancelled, PagesCovered: pages,
		ProductsUpserted: products, FirstErrors: firstErrors, Message: msg,
	}
}

func (s *SessionActor) fail(err error, phase FailurePhase) *SessionReport {
	kind := KindOf(err)
	s.setState(StateFailed)
	msg := fmt.Sprintf("failed (%s, %s): %v", phase, kind, err)
	s.publish(EventSessionFailed, &SessionFailedPayload{Kind: kind, Cause: err.Error()})
	return &SessionReport{
		SessionID: s.ID, FinalState: StateFailed, FailurePhase: phase,
		FirstErrors: []string{err.Error()}, Message: msg,
	}
}

// ExitCode maps a terminal SessionReport onto the process exit codes
// spec.md §6 defines. A planner fatal (Analyze/Plan never produced a
// range) and a persistent fatal mid-run (a batch's FatalErr during
// Execute) are reported as distinct codes via FailurePhase.
func (r *SessionReport) ExitCode() int {
	switch r.FinalState {
	case StateCompleted:
		return ExitCompleted
	case StateCancelled:
		return ExitCancelled
	case StateFailed:
		if r.FailurePhase == FailurePhaseExecution {
			return ExitExecutionFatal
		}
		return ExitPlannerFatal
	default:
		return ExitUnexpected
	}
}

func (s *SessionActor) publish(evt EventType, payload interface{}) {
	if s.apex.Events == nil {
		return
	}
	ae := AppEvent{Type: evt, SessionID: s.ID, Timestamp: time.Now().UTC()}
	switch p := payload.(type) {
	case *SessionStateChangedPayload:
		ae.SessionStateChanged = p
	case *SessionCompletedPayload:
		ae.SessionCompleted = p
	case *SessionCancelledPayload:
		ae.SessionCancelled = p
	case *SessionFailedPayload:
		ae.SessionFailed = p
	}
	s.apex.Events.Publish(ae)
}
