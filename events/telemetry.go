package events

import (
	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/telemetry"
)

// telemetryForward mirrors the teacher's per-event metric emission
// (orchestration.EmitTaskSubmitted/EmitTaskCompleted and friends): session
// lifecycle, batch started/completed/config-changed, stage-completed and
// optimization-suggestion events each become an OTel counter or gauge
// (other event types are not forwarded), so a dashboard can graph the same data the event stream carries without
// replaying it. Task-level span events are emitted at the source in
// crawl/task.go, where the live context.Context is available; this
// forwarder only counts, it never opens spans.
func telemetryForward(e crawl.AppEvent) {
	switch e.Type {
	case crawl.EventSessionStarted:
		telemetry.Counter("crawlcore.session.started")
	case crawl.EventSessionCompleted:
		telemetry.Counter("crawlcore.session.completed", "outcome", "completed")
	case crawl.EventSessionCancelled:
		telemetry.Counter("crawlcore.session.completed", "outcome", "cancelled")
	case crawl.EventSessionFailed:
		telemetry.Counter("crawlcore.session.completed", "outcome", "failed")
	case crawl.EventBatchStarted:
		telemetry.Counter("crawlcore.batch.started")
	case crawl.EventBatchCompleted:
		if p := e.BatchCompleted; p != nil {
			telemetry.Gauge("crawlcore.batch.products_upserted", float64(p.ProductsUpserted))
			telemetry.Gauge("crawlcore.batch.retryable_pages", float64(len(p.RetryablePages)))
		}
	case crawl.EventBatchConfigChanged:
		if p := e.BatchConfigChanged; p != nil {
			telemetry.Gauge("crawlcore.batch.concurrency_cap", float64(p.NewCap), "reason", p.Reason)
		}
	case crawl.EventStageCompleted:
		if p := e.StageCompleted; p != nil {
			telemetry.Gauge("crawlcore.stage.successes", float64(p.Successes), "stage", string(p.Kind))
			telemetry.Gauge("crawlcore.stage.failures", float64(p.Failures), "stage", string(p.Kind))
		}
	case crawl.EventOptimizationSuggestion:
		if p := e.OptimizationSuggestion; p != nil {
			telemetry.Counter("crawlcore.optimization_suggestion", "category", p.Category)
		}
	}
}
