package crawl

import "time"

// EventType is the stable discriminator string carried on the wire
// (spec.md §6, AppEvent envelope).
type EventType string

const (
	EventSessionStarted        EventType = "SessionStarted"
	EventSessionStateChanged   EventType = "SessionStateChanged"
	EventSessionCompleted      EventType = "SessionCompleted"
	EventSessionCancelled      EventType = "SessionCancelled"
	EventSessionFailed         EventType = "SessionFailed"
	EventBatchStarted          EventType = "BatchStarted"
	EventBatchCompleted        EventType = "BatchCompleted"
	EventBatchConfigChanged    EventType = "BatchConfigChanged"
	EventStageStarted          EventType = "StageStarted"
	EventStageCompleted        EventType = "StageCompleted"
	EventTaskStarted           EventType = "TaskStarted"
	EventTaskCompleted         EventType = "TaskCompleted"
	EventTaskFailed            EventType = "TaskFailed"
	EventTaskRetrying          EventType = "TaskRetrying"
	EventAnalysisCompleted     EventType = "AnalysisCompleted"
	EventAggregatedSystemState EventType = "AggregatedSystemState"
	EventOptimizationSuggestion EventType = "OptimizationSuggestion"
)

// AppEvent is the tagged union every actor publishes to the EventHub
// without knowing its subscribers (spec.md §3, §6). At most one of the
// payload fields is populated, matching Type; some types (BatchStarted and
// StageStarted among them) carry none.
type AppEvent struct {
	Type      EventType
	SessionID SessionID
	BatchID   BatchID   // optional
	Stage     StageKind // optional
	TaskID    TaskID    // optional
	Timestamp time.Time

	SessionStateChanged   *SessionStateChangedPayload   `json:",omitempty"`
	SessionCompleted      *SessionCompletedPayload      `json:",omitempty"`
	SessionCancelled      *SessionCancelledPayload      `json:",omitempty"`
	SessionFailed         *SessionFailedPayload         `json:",omitempty"`
	BatchCompleted        *BatchCompletedPayload        `json:",omitempty"`
	BatchConfigChanged    *BatchConfigChangedPayload    `json:",omitempty"`
	StageCompleted        *StageCompletedPayload        `json:",omitempty"`
	TaskStartedPayload    *TaskStartedPayload            `json:",omitempty"`
	TaskCompletedPayload  *TaskCompletedPayload          `json:",omitempty"`
	TaskFailedPayload     *TaskFailedPayload              `json:",omitempty"`
	TaskRetryingPayload   *TaskRetryingPayload            `json:",omitempty"`
	AnalysisCompleted     *AnalysisCompletedPayload      `json:",omitempty"`
	AggregatedSystemState *AggregatedSystemStatePayload  `json:",omitempty"`
	OptimizationSuggestion *OptimizationSuggestionPayload `json:",omitempty"`
}

type SessionStateChangedPayload struct{ State SessionState }

type SessionCompletedPayload struct {
	ProductsUpserted int
	Message          string
}

type SessionCancelledPayload struct{ Force bool }

type SessionFailedPayload struct {
	Kind  ErrorKind
	Cause string
}

type BatchCompletedPayload struct {
	ProductsUpserted int
	RetryablePages   []int
}

type BatchConfigChangedPayload struct {
	NewCap int
	Reason string
}

type StageCompletedPayload struct {
	Kind      StageKind
	Successes int
	Failures  int
}

type TaskStartedPayload struct{ Kind StageKind }

type TaskCompletedPayload struct {
	Kind       StageKind
	DurationMs int64
}

type TaskFailedPayload struct {
	Kind     StageKind
	Attempts int
	Message  string
}

type TaskRetryingPayload struct {
	Kind    StageKind
	Attempt int
}

type AnalysisCompletedPayload struct{ Snapshot AnalysisSnapshot }

type AggregatedSystemStatePayload struct {
	Throughput  float64
	ETASeconds  float64
	ActiveTasks int
	ErrorRate   float64
}

type OptimizationSuggestionPayload struct {
	Category string
	Reason   string
}
