package crawl

import (
	"context"
	"time"

	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/resilience"
	"github.com/mattercertis/crawlcore/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// TaskAction is the externally observable action an AsyncTask performs:
// fetch, parse, validate, or persist-one-batch (spec.md §4.4). The
// concrete fetch/parse/persist implementations live behind the
// collaborators package contracts; TaskAction is how they're plugged in
// without crawl importing collaborators directly.
type TaskAction func(ctx context.Context, item StageItem) (*StageItem, error)

// AsyncTask is the leaf unit of work. It is stateless beyond its own
// retry counters (spec.md §4.4) — a single TaskID, Kind and retry budget,
// executed once per StageActor-issued item.
type AsyncTask struct {
	ID    TaskID
	Kind  StageKind
	Item  StageItem
	apex  *AppContext
	batch BatchID
	stage StageID

	action       TaskAction
	retry        crawlconfig.RetryPolicy
	isRecoverable func(error) bool
}

// NewAsyncTask builds a task bound to one stage item. isRecoverable
// classifies a failed attempt's error as retryable; nil defaults to
// ErrorKind.Recoverable() via KindOf.
func NewAsyncTask(apex *AppContext, batch BatchID, stage StageID, kind StageKind, item StageItem, action TaskAction, retry crawlconfig.RetryPolicy, isRecoverable func(error) bool) *AsyncTask {
	if isRecoverable == nil {
		isRecoverable = func(err error) bool { return KindOf(err).Recoverable() }
	}
	return &AsyncTask{
		ID:            NewTaskID(stage),
		Kind:          kind,
		Item:          item,
		apex:          apex,
		batch:         batch,
		stage:         stage,
		action:        action,
		retry:         retry,
		isRecoverable: isRecoverable,
	}
}

// Run executes the task's retry loop and returns its terminal verdict. Run
// does not recover a panic raised by action; the caller (StageActor's spawn
// loop) wraps Run in its own panic recovery, matching spec.md §4.3's
// defense in depth.
//
// Suspension points: before acquiring the concurrency permit (handled by
// the caller) and before each external call via action, the cancellation
// signal is checked (spec.md §4.4).
func (t *AsyncTask) Run(ctx context.Context) TaskResult {
	start := time.Now()

	if t.apex.Cancelled() {
		return TaskResult{TaskID: t.ID, Kind: t.Kind, Duration: 0, Success: false, Err: context.Canceled}
	}

	t.publish(EventTaskStarted, &TaskStartedPayload{Kind: t.Kind})
	telemetry.Counter("crawlcore.task.started", "stage", string(t.Kind))
	telemetry.AddSpanEvent(ctx, "task.started",
		attribute.String("task_id", string(t.ID)),
		attribute.String("stage", string(t.Kind)),
	)

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = t.retry.MaxAttempts
	cfg.BaseDelay = t.retry.BaseBackoff
	cfg.MaxDelay = t.retry.MaxBackoff
	cfg.JitterBound = t.retry.JitterBound

	var artifact *StageItem
	attempts := 0

	err := resilience.Retry(ctx, cfg, func(attempt int, retryErr error) {
		t.publish(EventTaskRetrying, &TaskRetryingPayload{Kind: t.Kind, Attempt: attempt + 1})
	}, func() error {
		attempts++
		if t.apex.Cancelled() {
			return context.Canceled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, runErr := t.action(ctx, t.Item)
		if runErr != nil {
			if !t.isRecoverable(runErr) {
				return resilience.Permanent(runErr)
			}
			return runErr
		}
		artifact = out
		return nil
	})

	duration := time.Since(start)

	if err != nil {
		t.publish(EventTaskFailed, &TaskFailedPayload{Kind: t.Kind, Attempts: attempts, Message: err.Error()})
		telemetry.Counter("crawlcore.task.completed", "stage", string(t.Kind), "status", "failed")
		telemetry.Histogram("crawlcore.task.duration_ms", float64(duration.Milliseconds()), "stage", string(t.Kind), "status", "failed")
		telemetry.RecordSpanError(ctx, err)
		return TaskResult{TaskID: t.ID, Kind: t.Kind, Duration: duration, Success: false, Err: err}
	}

	t.publish(EventTaskCompleted, &TaskCompletedPayload{Kind: t.Kind, DurationMs: duration.Milliseconds()})
	telemetry.Counter("crawlcore.task.completed", "stage", string(t.Kind), "status", "completed")
	telemetry.Histogram("crawlcore.task.duration_ms", float64(duration.Milliseconds()), "stage", string(t.Kind), "status", "completed")
	return TaskResult{TaskID: t.ID, Kind: t.Kind, Duration: duration, Success: true, Artifact: artifact}
}

func (t *AsyncTask) publish(evt EventType, payload interface{}) {
	if t.apex == nil || t.apex.Events == nil {
		return
	}
	ae := AppEvent{
		Type:      evt,
		SessionID: t.apex.SessionID,
		BatchID:   t.batch,
		Stage:     t.Kind,
		TaskID:    t.ID,
		Timestamp: time.Now().UTC(),
	}
	switch p := payload.(type) {
	case *TaskStartedPayload:
		ae.TaskStartedPayload = p
	case *TaskCompletedPayload:
		ae.TaskCompletedPayload = p
	case *TaskFailedPayload:
		ae.TaskFailedPayload = p
	case *TaskRetryingPayload:
		ae.TaskRetryingPayload = p
	}
	t.apex.Events.Publish(ae)
}
