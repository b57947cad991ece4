package crawl

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/mattercertis/crawlcore/crawlconfig"
)

// StageActor executes one (batch, stage) pair: spawn AsyncTasks up to a
// concurrency cap, collect results, reply exactly once (spec.md §4.3).
type StageActor struct {
	ID    StageID
	Batch BatchID
	apex  *AppContext

	action TaskAction
	retry  crawlconfig.RetryPolicy
}

// NewStageActor builds a StageActor. action is the TaskAction every spawned
// AsyncTask runs; it is supplied by BatchActor, which knows which
// collaborator (Fetcher, Parser, Repository) backs this stage kind.
func NewStageActor(apex *AppContext, batch BatchID, kind StageKind, action TaskAction, retry crawlconfig.RetryPolicy) *StageActor {
	return &StageActor{
		ID:     NewStageID(batch, kind),
		Batch:  batch,
		apex:   apex,
		action: action,
		retry:  retry,
	}
}

// Run spawns one AsyncTask per item, enforcing caps.ListPage or
// caps.ProductDetail (whichever applies to this stage) via a semaphore of
// that many permits. All items are spawned immediately so cancellation
// reaches every one of them; each goroutine blocks on the semaphore before
// doing any external I/O (spec.md §4.3: "spawn-all + bounded-parallelism").
//
// StageActor replies exactly once via reply, even under cancellation or
// panic in a spawned task (spec.md §4.3, §5).
func (s *StageActor) Run(ctx context.Context, kind StageKind, items []StageItem, cap int, reply chan<- StageResult) {
	if s.apex.Events != nil {
		s.apex.Events.Publish(AppEvent{
			Type: EventStageStarted, SessionID: s.apex.SessionID, BatchID: s.Batch, Stage: kind,
		})
	}

	if cap < 1 {
		cap = 1
	}
	sem := make(chan struct{}, cap)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success []*StageItem
		failed  = map[string]int{}
		fatal   error
	)

	for i := range items {
		item := items[i]
		wg.Add(1)
		go func() {
			// Paused stages stop here, before ever touching the semaphore:
			// a Pause issued mid-batch must mean no new task starts, while
			// tasks already past this point run to completion (spec.md
			// §4.1's "next suspension point").
			s.apex.PauseAware().Wait(ctx, s.apex.Done())

			// Acquire the permit before the deferred release so a panic
			// before acquisition never double-releases (mirrors the
			// teacher's executor.go spawn loop).
			select {
			case sem <- struct{}{}:
			case <-s.apex.Done():
				wg.Done()
				mu.Lock()
				failed[itemKey(item)]++
				mu.Unlock()
				return
			}

			defer func() {
				<-sem
				if r := recover(); r != nil {
					mu.Lock()
					failed[itemKey(item)]++
					fatal = fmt.Errorf("task panic for %s: %v\n%s", itemKey(item), r, debug.Stack())
					mu.Unlock()
				}
				wg.Done()
			}()

			task := NewAsyncTask(s.apex, s.Batch, s.ID, kind, item, s.action, s.retry, nil)
			result := task.Run(ctx)

			mu.Lock()
			defer mu.Unlock()
			if result.Success {
				success = append(success, result.Artifact)
			} else if KindOf(result.Err) == KindFatal {
				fatal = result.Err
			} else {
				failed[itemKey(item)]++
			}
		}()
	}

	wg.Wait()

	sort.Slice(success, func(i, j int) bool {
		a, b := success[i].SortKey, success[j].SortKey
		if a[0] != b[0] {
			return a[0] > b[0] // descending page
		}
		return a[1] < b[1] // ascending in-page index
	})

	result := StageResult{
		Kind:                kind,
		Successes:           success,
		RecoverableFailures: failed,
		FatalErr:            fatal,
	}

	if s.apex.Events != nil {
		s.apex.Events.Publish(AppEvent{
			Type: EventStageCompleted, SessionID: s.apex.SessionID, BatchID: s.Batch, Stage: kind,
			StageCompleted: &StageCompletedPayload{Kind: kind, Successes: len(success), Failures: len(failed)},
		})
	}

	// Exactly one reply, always, regardless of how Run exits.
	select {
	case reply <- result:
	default:
		// Reply channel is sized 1 and held solely by this stage's
		// command; a full channel here would mean a second call to Run
		// for the same command, which the BatchActor never does.
	}
}

// Accept dispatches a StageCommand. RunStage is the only command that
// produces a reply; Pause/Resume/Cancel are no-ops here since suspension
// and cancellation are carried by the shared AppContext, not per-actor
// state (spec.md §9).
func (s *StageActor) Accept(ctx context.Context, cmd StageCommand) {
	switch c := cmd.(type) {
	case RunStage:
		s.Run(ctx, c.Kind, c.Items, currentCap(c.Kind, c.Caps), c.Reply)
	case Pause, Resume, Cancel:
	}
}

func itemKey(item StageItem) string {
	switch item.Kind {
	case ItemPage:
		return fmt.Sprintf("page:%d", item.Page)
	case ItemProductURL:
		return item.ProductURL
	default:
		return fmt.Sprintf("%s:%d:%d", item.Kind, item.SortKey[0], item.SortKey[1])
	}
}
