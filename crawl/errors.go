package crawl

import (
	"errors"
	"fmt"
)

// ErrorKind is the spec's six-kind error taxonomy (spec.md §7). It
// classifies behavior (retry? escalate? terminal?), not Go error types.
type ErrorKind string

const (
	// KindTransient covers timeouts, transient 5xx, transient network
	// failure. Retried with backoff; reported as warnings.
	KindTransient ErrorKind = "transient"

	// KindRateLimited covers an explicit 429 or repeated transients.
	// Triggers exponential backoff plus adaptive-width downshift.
	KindRateLimited ErrorKind = "rate_limited"

	// KindRemoteSchemaDrift covers parse errors whose structure is
	// recognized but values are missing. Retried a small number of times;
	// repeated occurrences escalate to fatal for that item only.
	KindRemoteSchemaDrift ErrorKind = "remote_schema_drift"

	// KindLocalState covers a DB upsert conflict after conflict
	// resolution, or cursor inconsistency. Recoverable at batch level via
	// item-skip; fatal if it repeats across batches.
	KindLocalState ErrorKind = "local_state"

	// KindFatal covers unauthorized, persistent 4xx on the listing path,
	// Planner unable to produce a range, session deadline exceeded,
	// corruption detected in the snapshot cache.
	KindFatal ErrorKind = "fatal"

	// KindCancelled is not an error; a clean terminal state.
	KindCancelled ErrorKind = "cancelled"
)

// Recoverable reports whether a kind should be retried/skipped rather than
// immediately escalated to a fatal session outcome.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindTransient, KindRateLimited, KindRemoteSchemaDrift, KindLocalState:
		return true
	default:
		return false
	}
}

// CrawlError carries the classification alongside the usual Go error
// wrapping, so callers can both errors.Is() against a sentinel and
// switch on Kind for policy decisions (retry budget, event severity).
type CrawlError struct {
	Op      string
	Kind    ErrorKind
	Attempt int
	Err     error
}

func (e *CrawlError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CrawlError) Unwrap() error { return e.Err }

func NewCrawlError(op string, kind ErrorKind, err error) *CrawlError {
	return &CrawlError{Op: op, Kind: kind, Err: err}
}

// Sentinel errors for conditions named directly in the spec, comparable
// with errors.Is regardless of which collaborator produced them.
var (
	ErrPlannerNoRange       = errors.New("crawl: planner could not produce a safe range")
	ErrSessionDeadline      = errors.New("crawl: session deadline exceeded")
	ErrSnapshotCorrupted    = errors.New("crawl: analysis snapshot cache corrupted")
	ErrUnauthorized         = errors.New("crawl: unauthorized")
	ErrPersistentListingErr = errors.New("crawl: persistent 4xx on listing path")
	ErrCursorInconsistent   = errors.New("crawl: local db cursor inconsistent")
)

// KindOf classifies err using errors.Is against the sentinels above, plus
// any *CrawlError already carrying an explicit Kind. Unrecognized errors
// default to KindFatal: an unclassified failure must not be silently
// treated as recoverable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrPlannerNoRange),
		errors.Is(err, ErrSessionDeadline),
		errors.Is(err, ErrSnapshotCorrupted),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrPersistentListingErr):
		return KindFatal
	case errors.Is(err, ErrCursorInconsistent):
		return KindLocalState
	default:
		return KindFatal
	}
}
