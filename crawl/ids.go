package crawl

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifiers embed their parent's id so any actor id is self-describing
// and greppable in logs without a lookup table (spec.md §3, invariant 3).
//
//	session/<sid>
//	session/<sid>/batch/<bid>
//	session/<sid>/batch/<bid>/stage/<stage>
//	session/<sid>/batch/<bid>/stage/<stage>/task/<tid>

type SessionID string
type BatchID string
type StageID string
type TaskID string

func newShortID() string {
	return uuid.New().String()[:12]
}

// NewSessionID mints a process-unique session identifier.
func NewSessionID() SessionID {
	return SessionID(fmt.Sprintf("session/%s", newShortID()))
}

// NewBatchID mints a batch identifier scoped under parent.
func NewBatchID(parent SessionID) BatchID {
	return BatchID(fmt.Sprintf("%s/batch/%s", parent, newShortID()))
}

// NewStageID mints a stage identifier scoped under parent, named by kind
// rather than a random suffix: a batch has exactly one StageActor per
// StageKind, so the kind alone is unique within the parent.
func NewStageID(parent BatchID, kind StageKind) StageID {
	return StageID(fmt.Sprintf("%s/stage/%s", parent, kind))
}

// NewTaskID mints a task identifier scoped under parent.
func NewTaskID(parent StageID) TaskID {
	return TaskID(fmt.Sprintf("%s/task/%s", parent, newShortID()))
}

func (s SessionID) String() string { return string(s) }
func (b BatchID) String() string   { return string(b) }
func (s StageID) String() string   { return string(s) }
func (t TaskID) String() string    { return string(t) }
