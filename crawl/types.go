package crawl

import "time"

// DbCursor is the deepest point already crawled locally (spec.md §3).
// page_id and index_in_page are 0-based; nil means "empty DB" (the
// documented resolution to the NULL-cursor Open Question — see DESIGN.md).
type DbCursor struct {
	PageID          int
	IndexInPage     int
	ProductsPerPage int
	TotalProducts   int
}

// NextAbsoluteIndex is the next absolute product index to crawl, per
// invariant 2: page_id*PPP + index_in_page + 1.
func (c *DbCursor) NextAbsoluteIndex() int {
	return c.PageID*c.ProductsPerPage + c.IndexInPage + 1
}

// AnalysisSnapshot is the Planner's cached view of the external world
// (spec.md §3, §4.5).
type AnalysisSnapshot struct {
	TotalPagesOnSite  int
	ProductsOnLastPage int
	Cursor            *DbCursor
	CapturedAt        time.Time
	TTL               time.Duration
}

// Fresh reports whether the snapshot is still within its TTL at "now".
func (s *AnalysisSnapshot) Fresh(now time.Time) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.CapturedAt) < s.TTL
}

// CrawlRange is the page interval, inclusive at both ends, the Planner derives from an
// AnalysisSnapshot (spec.md §3, §4.5). Direction is always descending:
// StartPage is the higher (older) page, EndPage the lower (newer) page.
type CrawlRange struct {
	StartPage int
	EndPage   int
}

// Empty reports whether the range produces no work ("up to date").
func (r CrawlRange) Empty() bool {
	return r.StartPage < 1
}

// Pages returns the descending page sequence StartPage..EndPage inclusive.
func (r CrawlRange) Pages() []int {
	if r.Empty() {
		return nil
	}
	pages := make([]int, 0, r.StartPage-r.EndPage+1)
	for p := r.StartPage; p >= r.EndPage; p-- {
		pages = append(pages, p)
	}
	return pages
}

// StageKind enumerates the crawl phases a batch traverses (spec.md §3, §4.2).
type StageKind string

const (
	StageListCollection   StageKind = "list_collection"
	StageDetailCollection StageKind = "detail_collection"
	StageParse            StageKind = "parse"
	StageValidate          StageKind = "validate"
	StagePersist           StageKind = "persist"
)

// DefaultStageSequence is the standard batch pipeline (spec.md §4.2).
func DefaultStageSequence() []StageKind {
	return []StageKind{
		StageListCollection,
		StageDetailCollection,
		StageParse,
		StageValidate,
		StagePersist,
	}
}

// StageItemKind discriminates the StageItem variants (spec.md §3).
type StageItemKind string

const (
	ItemPage          StageItemKind = "page"
	ItemProductURL    StageItemKind = "product_url"
	ItemHTMLBlob      StageItemKind = "html_blob"
	ItemParsedProduct StageItemKind = "parsed_product"
	ItemProductBatch  StageItemKind = "product_batch"
)

// StageItem is the unit a StageActor hands to an AsyncTask. The payload
// field matching the variant in Kind is populated; Page is also set on
// items of the later kinds.
type StageItem struct {
	Kind StageItemKind

	Page          int
	ProductURL    string
	HTMLBlob      string
	ParsedProduct *ProductRecord
	ProductBatch  []*ProductRecord

	// PersistStats is set only on a Persist success, carrying the
	// Repository.UpsertBatch outcome home so BatchActor can count products
	// upserted by inserted+updated rather than by success count alone
	// (spec.md §7).
	PersistStats *UpsertStats

	// SortKey orders items within a stage when the next stage needs it
	// (spec.md §4.3: descending page, then ascending in-page index).
	SortKey [2]int
}

// UpsertStats mirrors collaborators.Repository.UpsertBatch's result.
// Duplicated here, rather than imported, to keep the one-way dependency
// StageRunner already enforces: crawl defines the contract shape,
// collaborators and cmd/crawlerd depend on crawl, never the reverse.
type UpsertStats struct {
	Inserted int
	Updated  int
	Skipped  int
}

// ProductRecord is a parsed, not-yet-persisted product (grounds the
// Parser/Repository collaborator contracts in spec.md §6).
type ProductRecord struct {
	NaturalKey string
	Page       int
	IndexInPage int
	Fields     map[string]string
}

// TaskResult is the outcome of one AsyncTask (spec.md §3).
type TaskResult struct {
	TaskID   TaskID
	Kind     StageKind
	Duration time.Duration
	Success  bool
	Artifact *StageItem
	Err      error
}

// StageResult is the outcome of one stage, handed to BatchActor via a
// reply channel (spec.md §3, §4.3).
type StageResult struct {
	Kind                StageKind
	Successes           []*StageItem
	RecoverableFailures map[string]int // failed item key -> attempt count
	FatalErr            error
	Attempts            int
}

// FatalOutcome reports whether this result must short-circuit to
// SessionActor (spec.md §4.2).
func (r *StageResult) FatalOutcome() bool { return r.FatalErr != nil }

// BatchResult is the outcome of one batch, handed to SessionActor
// (spec.md §3, §4.1).
type BatchResult struct {
	BatchID          BatchID
	StageStats       map[StageKind]*StageResult
	ProductsUpserted int
	RetryablePages   []int
	FatalErr         error
}

// SessionState is the observable FSM of a session (spec.md §3).
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateAnalyzing     SessionState = "analyzing"
	StatePlanning      SessionState = "planning"
	StateExecuting     SessionState = "executing"
	StatePaused        SessionState = "paused"
	StateCompleted     SessionState = "completed"
	StateFailed        SessionState = "failed"
	StateCancelled     SessionState = "cancelled"
)

// BatchPlan is one batch of work carved by the Planner (spec.md §3, §4.5).
type BatchPlan struct {
	BatchID BatchID
	Pages   []int // descending order
	Workers WorkerCaps
	Stages  []StageKind
}

// WorkerCaps is a per-batch copy of stage concurrency caps (spec.md §3);
// BatchActor's adaptive-width policy mutates its own copy, never the
// Planner's or SessionConfig's.
type WorkerCaps struct {
	ListPage      int
	ProductDetail int
}

// FailurePhase distinguishes where a StateFailed report's fatal error
// originated (spec.md §6 splits this into separate exit codes: planner
// fatal vs. persistent fatal mid-run). Zero value means FinalState isn't
// StateFailed.
type FailurePhase string

const (
	FailurePhasePlanning  FailurePhase = "planning"
	FailurePhaseExecution FailurePhase = "execution"
)

// SessionReport is the human-readable terminal summary spec.md §7 requires
// ("Terminal states always emit a human-readable message with counts").
type SessionReport struct {
	SessionID        SessionID
	FinalState       SessionState
	FailurePhase     FailurePhase
	PagesCovered     int
	ProductsUpserted int
	ItemsSkipped     int
	FirstErrors      []string
	Message          string
}
