package crawl

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/resilience"
)

// StageRunner resolves the TaskAction for a given StageKind. BatchActor
// doesn't know how to fetch or parse; it asks the runner for the action
// and lets StageActor execute it (keeps crawl/ free of a direct
// collaborators/ dependency while still wiring the pipeline together).
type StageRunner func(kind StageKind) TaskAction

// BatchActor executes one BatchPlan by sequencing stages, adapting batch
// width, and publishing batch-scoped events (spec.md §4.2).
type BatchActor struct {
	ID    BatchID
	apex  *AppContext
	stage StageRunner
	retry crawlconfig.RetryPolicy
	adapt crawlconfig.AdaptiveWidthConfig
}

func NewBatchActor(apex *AppContext, plan BatchPlan, stage StageRunner, retry crawlconfig.RetryPolicy, adapt crawlconfig.AdaptiveWidthConfig) *BatchActor {
	return &BatchActor{ID: plan.BatchID, apex: apex, stage: stage, retry: retry, adapt: adapt}
}

// Run executes plan's stage sequence, stitching each stage's output into
// the next stage's input (spec.md §4.2 "Data flow between stages"), and
// returns the aggregated BatchResult. It replies via reply exactly once,
// matching the same contract StageActor holds one level down.
func (b *BatchActor) Run(ctx context.Context, plan BatchPlan, reply chan<- BatchResult) {
	if b.apex.Events != nil {
		b.apex.Events.Publish(AppEvent{Type: EventBatchStarted, SessionID: b.apex.SessionID, BatchID: b.ID})
	}

	caps := plan.Workers
	stats := make(map[StageKind]*StageResult, len(plan.Stages))

	items := pagesToItems(plan.Pages)
	var productsUpserted int
	var retryablePages []int
	var fatal error

	windowStart := time.Now()
	var completedInWindow, successInWindow, failInWindow int

	for _, kind := range plan.Stages {
		if b.apex.Cancelled() {
			fatal = context.Canceled
			break
		}

		result := b.runStageWithRetry(ctx, kind, items, caps)
		stats[kind] = &result

		completedInWindow += len(result.Successes) + len(result.RecoverableFailures)
		successInWindow += len(result.Successes)
		failInWindow += len(result.RecoverableFailures)

		if result.FatalOutcome() {
			fatal = result.FatalErr
			break
		}

		for key := range result.RecoverableFailures {
			if p, ok := pageFromKey(key); ok {
				retryablePages = append(retryablePages, p)
			}
		}

		if kind == StagePersist {
			productsUpserted += upsertedCount(result.Successes)
		}
		items = nextStageItems(kind, result.Successes)

		if elapsed := time.Since(windowStart); elapsed >= b.adapt.WindowSeconds {
			b.adaptWidth(&caps, completedInWindow, successInWindow, failInWindow, elapsed)
			windowStart = time.Now()
			completedInWindow, successInWindow, failInWindow = 0, 0, 0
		}
	}

	br := BatchResult{
		BatchID:          b.ID,
		StageStats:       stats,
		ProductsUpserted: productsUpserted,
		RetryablePages:   dedupInts(retryablePages),
		FatalErr:         fatal,
	}

	if b.apex.Events != nil {
		b.apex.Events.Publish(AppEvent{
			Type: EventBatchCompleted, SessionID: b.apex.SessionID, BatchID: b.ID,
			BatchCompleted: &BatchCompletedPayload{ProductsUpserted: br.ProductsUpserted, RetryablePages: br.RetryablePages},
		})
	}

	select {
	case reply <- br:
	default:
	}
}

// runStageWithRetry re-invokes a stage with only its still-failed items
// when it returns a RecoverableError and attempts < RetryPolicy.MaxAttempts,
// waiting base*2^attempts+jitter between tries (spec.md §4.2). A
// FatalError short-circuits immediately without consuming the retry budget.
func (b *BatchActor) runStageWithRetry(ctx context.Context, kind StageKind, items []StageItem, caps WorkerCaps) StageResult {
	action := b.stage(kind)
	stageActor := NewStageActor(b.apex, b.ID, kind, action, b.retry)

	var last StageResult
	attempt := 0

	for {
		reply := make(chan StageResult, 1)
		go stageActor.Accept(ctx, RunStage{Kind: kind, Items: items, Caps: caps, Reply: reply})

		select {
		case last = <-reply:
		case <-b.apex.Done():
			return StageResult{Kind: kind, RecoverableFailures: map[string]int{}}
		}

		last.Attempts = attempt + 1

		if last.FatalOutcome() || len(last.RecoverableFailures) == 0 {
			return last
		}
		if attempt+1 >= b.retry.MaxAttempts {
			return last
		}

		delay := resilience.Delay(b.retry.BaseBackoff, b.retry.MaxBackoff, b.retry.JitterBound, attempt)
		select {
		case <-time.After(delay):
		case <-b.apex.Done():
			return last
		}

		items = itemsForKeys(items, last.RecoverableFailures)
		attempt++
	}
}

// adaptWidth applies spec.md §4.2's policy and publishes BatchConfigChanged
// when the cap actually changes. Changes apply at the next stage boundary
// only — the caller always calls this between stages, never mid-stage.
func (b *BatchActor) adaptWidth(caps *WorkerCaps, completed, successes, failures int, elapsed time.Duration) {
	total := successes + failures
	if total == 0 {
		return
	}
	errorRate := float64(failures) / float64(total)
	throughput := float64(completed) / elapsed.Seconds()

	adjust := func(cap int) (int, string, bool) {
		switch {
		case errorRate > b.adapt.ErrorRateHigh:
			next := int(float64(cap) * b.adapt.ShrinkFactor)
			if next < 1 {
				next = 1
			}
			return next, "error_rate_high", next != cap
		case errorRate < b.adapt.ErrorRateLow && throughput < b.adapt.TargetThroughput:
			next := int(float64(cap) * b.adapt.GrowFactor)
			if next > b.adapt.HardCap {
				next = b.adapt.HardCap
			}
			return next, "throughput_low", next != cap
		default:
			return cap, "", false
		}
	}

	if next, reason, changed := adjust(caps.ListPage); changed {
		caps.ListPage = next
		b.publishConfigChanged(next, reason)
	}
	if next, reason, changed := adjust(caps.ProductDetail); changed {
		caps.ProductDetail = next
		b.publishConfigChanged(next, reason)
	}
}

func (b *BatchActor) publishConfigChanged(newCap int, reason string) {
	if b.apex.Events == nil {
		return
	}
	b.apex.Events.Publish(AppEvent{
		Type: EventBatchConfigChanged, SessionID: b.apex.SessionID, BatchID: b.ID,
		BatchConfigChanged: &BatchConfigChangedPayload{NewCap: newCap, Reason: reason},
	})
}

// Accept dispatches a BatchCommand. RunBatch is the only command that
// produces a reply; Pause/Resume/Cancel are no-ops here for the same
// reason as StageActor.Accept.
func (b *BatchActor) Accept(ctx context.Context, cmd BatchCommand) {
	switch c := cmd.(type) {
	case RunBatch:
		b.Run(ctx, c.Plan, c.Reply)
	case Pause, Resume, Cancel:
	}
}

func currentCap(kind StageKind, caps WorkerCaps) int {
	if kind == StageListCollection {
		return caps.ListPage
	}
	return caps.ProductDetail
}

func pagesToItems(pages []int) []StageItem {
	items := make([]StageItem, 0, len(pages))
	for _, p := range pages {
		items = append(items, StageItem{Kind: ItemPage, Page: p, SortKey: [2]int{p, 0}})
	}
	return items
}

// nextStageItems stitches stage N's output into stage N+1's input
// (spec.md §4.2): ListCollection yields product URLs, DetailCollection
// yields HTML blobs, Parse yields parsed products, Validate passes
// through the records that cleared validation, Persist is terminal.
//
// ListCollection is the one stage where a single task's artifact expands
// into many next-stage items: a list_collection task covers a whole page
// but discovers N product URLs on it. Since a task may only return one
// artifact (spec.md §4.3), it carries those URLs home as a ProductBatch of
// stub records (NaturalKey/Fields["url"] populated, nothing else), and
// nextStageItems flattens that batch into one ItemProductURL per stub. A
// success with no ProductBatch passes through unchanged, so stage runners
// that never populate it (tests, or any future single-URL-per-page site)
// keep the plain one-in-one-out behavior every other stage has.
func nextStageItems(kind StageKind, successes []*StageItem) []StageItem {
	if kind == StagePersist {
		return nil
	}
	if kind == StageListCollection {
		return flattenProductBatches(successes)
	}
	items := make([]StageItem, 0, len(successes))
	for _, s := range successes {
		if s != nil {
			items = append(items, *s)
		}
	}
	return items
}

func flattenProductBatches(successes []*StageItem) []StageItem {
	items := make([]StageItem, 0, len(successes))
	for _, s := range successes {
		if s == nil {
			continue
		}
		if len(s.ProductBatch) == 0 {
			items = append(items, *s)
			continue
		}
		for i, rec := range s.ProductBatch {
			items = append(items, StageItem{
				Kind:       ItemProductURL,
				Page:       s.Page,
				ProductURL: rec.Fields["url"],
				SortKey:    [2]int{s.Page, i},
			})
		}
	}
	return items
}

// upsertedCount sums each Persist success's Inserted+Updated counts
// (spec.md §7 "products upserted"); Skipped doesn't count toward it since
// an idempotent re-upsert changed nothing. When PersistStats wasn't
// populated, a success counts as one if it carries a ParsedProduct and as
// zero otherwise, so stage runners that never set it (tests, any
// collaborator that doesn't report stats) count one per persisted product.
func upsertedCount(successes []*StageItem) int {
	total := 0
	for _, s := range successes {
		if s == nil {
			continue
		}
		if s.PersistStats != nil {
			total += s.PersistStats.Inserted + s.PersistStats.Updated
		} else if s.ParsedProduct != nil {
			total++
		}
	}
	return total
}

func itemsForKeys(items []StageItem, keys map[string]int) []StageItem {
	out := make([]StageItem, 0, len(keys))
	for _, it := range items {
		if _, retry := keys[itemKey(it)]; retry {
			out = append(out, it)
		}
	}
	return out
}

// pageFromKey recovers the page number from an itemKey built for an
// ItemPage item ("page:<n>"); keys from other item kinds yield ok=false
// since only list_collection failures are reported as retryable pages
// (spec.md §3 BatchResult.RetryablePages).
func pageFromKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "page:")
	if !ok {
		return 0, false
	}
	p, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return p, true
}

func dedupInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
