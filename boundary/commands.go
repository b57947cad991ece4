// Package boundary is the host shell/UI surface spec.md §6 describes:
// start_crawling, pause, resume, cancel, get_state, analyze_system_status.
// None of this is part of the crawl core — it is a thin command layer
// plus an optional admin HTTP server wrapping one crawl.SessionActor at a
// time.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/crawlconfig"
)

// ErrAlreadyRunning is returned by StartCrawling when a session is already
// executing.
var ErrAlreadyRunning = errors.New("boundary: a crawl session is already running")

// ErrNoActiveSession is returned by Pause/Resume/Cancel when no session is
// currently running.
var ErrNoActiveSession = errors.New("boundary: no active crawl session")

// StateSnapshot answers get_state: the current session's observable state,
// or the last terminal SessionReport if nothing is running right now.
type StateSnapshot struct {
	Running    bool
	State      crawl.SessionState
	SessionID  crawl.SessionID
	LastReport *crawl.SessionReport
}

// SystemStatus answers analyze_system_status without starting a crawl
// (SPEC_FULL.md §11.1): how far the local database trails the remote
// site, and how fresh the cached analysis is.
type SystemStatus struct {
	TotalPagesOnSite   int
	LocalPagesCovered  int
	EstimatedNewPages  int
	SnapshotCapturedAt time.Time
	SnapshotFresh      bool
}

// Server holds exactly one SessionActor at a time (spec.md §6: the
// boundary is a single-session command surface; running a second
// concurrent session is a caller error, not something this layer
// serializes for you).
type Server struct {
	cfg         *crawlconfig.SessionConfig
	events      crawl.EventPublisher
	planner     crawl.Planner
	stageRunner crawl.StageRunner
	logger      corelog.Logger

	mu         sync.Mutex
	session    *crawl.SessionActor
	lastReport *crawl.SessionReport
}

// New builds a Server bound to one SessionConfig, EventHub, Planner and
// StageRunner. Every StartCrawling call builds a fresh SessionActor from
// these, per spec.md §3 invariant 1 (a session's config is frozen for its
// own lifetime, but a new session may start with a newly built one).
func New(cfg *crawlconfig.SessionConfig, events crawl.EventPublisher, planner crawl.Planner, stageRunner crawl.StageRunner, logger corelog.Logger) *Server {
	if logger == nil {
		logger = &corelog.NoOpLogger{}
	}
	return &Server{cfg: cfg, events: events, planner: planner, stageRunner: stageRunner, logger: logger}
}

// StartCrawling implements start_crawling(profile). profile is carried for
// the host shell's own bookkeeping (spec.md §6 names it but all derived
// behavior comes from config and the analysis snapshot, not from profile
// itself); it is logged, not branched on. StartCrawling returns as soon as
// the session is launched — callers poll GetState or subscribe to the
// EventHub for progress, since a crawl may run for the full session
// deadline.
func (s *Server) StartCrawling(profile string) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	session := crawl.NewSessionActor(context.Background(), s.cfg, s.events, s.planner, s.stageRunner)
	s.session = session
	s.mu.Unlock()

	s.logger.Info("boundary: crawl session starting", map[string]interface{}{"profile": profile, "session_id": string(session.ID)})

	go func() {
		report := session.Start()
		s.mu.Lock()
		s.session = nil
		s.lastReport = report
		s.mu.Unlock()
		s.logger.Info("boundary: crawl session finished", map[string]interface{}{
			"session_id":  string(report.SessionID),
			"final_state": string(report.FinalState),
			"exit_code":   report.ExitCode(),
		})
	}()
	return nil
}

// Pause implements pause.
func (s *Server) Pause(reason string) error {
	session, err := s.activeSession()
	if err != nil {
		return err
	}
	return session.Dispatch(crawl.Pause{Reason: reason})
}

// Resume implements resume.
func (s *Server) Resume() error {
	session, err := s.activeSession()
	if err != nil {
		return err
	}
	return session.Dispatch(crawl.Resume{})
}

// Cancel implements cancel(force).
func (s *Server) Cancel(force bool) error {
	session, err := s.activeSession()
	if err != nil {
		return err
	}
	return session.Dispatch(crawl.Cancel{Force: force})
}

func (s *Server) activeSession() (*crawl.SessionActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveSession
	}
	return s.session, nil
}

// GetState implements get_state.
func (s *Server) GetState() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return StateSnapshot{Running: true, State: s.session.State(), SessionID: s.session.ID}
	}
	snap := StateSnapshot{Running: false}
	if s.lastReport != nil {
		snap.State = s.lastReport.FinalState
		snap.SessionID = s.lastReport.SessionID
		snap.LastReport = s.lastReport
	}
	return snap
}

// AnalyzeSystemStatus implements analyze_system_status: it calls
// Planner.Analyze directly, without starting a session, so a caller can
// ask "how far behind are we" at any time (SPEC_FULL.md §11.1).
func (s *Server) AnalyzeSystemStatus(ctx context.Context) (*SystemStatus, error) {
	snapshot, err := s.planner.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("boundary: analyze system status: %w", err)
	}

	covered := 0
	if snapshot.Cursor != nil {
		covered = snapshot.Cursor.PageID
	}
	newPages := snapshot.TotalPagesOnSite - covered
	if newPages < 0 {
		newPages = 0
	}

	return &SystemStatus{
		TotalPagesOnSite:   snapshot.TotalPagesOnSite,
		LocalPagesCovered:  covered,
		EstimatedNewPages:  newPages,
		SnapshotCapturedAt: snapshot.CapturedAt,
		SnapshotFresh:      snapshot.Fresh(time.Now()),
	}, nil
}
