package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattercertis/crawlcore/collaborators"
	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/crawl"
	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/resilience"
)

// stageRunnerDeps bundles the collaborators and pacing settings every
// TaskAction below closes over. Built once in main and handed to
// newStageRunner.
type stageRunnerDeps struct {
	fetcher  collaborators.Fetcher
	parser   collaborators.Parser
	repo     collaborators.Repository
	breaker  *resilience.CircuitBreaker
	timing   crawlconfig.TimingConfig
	listURL  string
	logger   corelog.Logger
}

// newStageRunner builds the crawl.StageRunner main wires into every
// SessionActor: the one place collaborators' fetch/parse/persist contracts
// meet the stage pipeline's TaskAction signature.
//
// list_collection is the one stage whose unit of work (a page) naturally
// discovers many URLs, so its TaskAction returns an ItemProductBatch of URL
// stubs rather than a single record; nextStageItems (crawl/batch.go)
// flattens that into one ItemProductURL per stub before detail_collection
// runs, so every stage from there on is plain one-in-one-out.
func newStageRunner(deps stageRunnerDeps) crawl.StageRunner {
	return func(kind crawl.StageKind) crawl.TaskAction {
		switch kind {
		case crawl.StageListCollection:
			return deps.listCollection
		case crawl.StageDetailCollection:
			return deps.detailCollection
		case crawl.StageParse:
			return deps.parse
		case crawl.StageValidate:
			return deps.validate
		case crawl.StagePersist:
			return deps.persist
		default:
			return func(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
				return nil, crawl.NewCrawlError(string(kind), crawl.KindFatal, fmt.Errorf("no task action registered for stage %q", kind))
			}
		}
	}
}

func (d stageRunnerDeps) pace(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timing.RequestDelay > 0 {
		select {
		case <-time.After(d.timing.RequestDelay):
		case <-ctx.Done():
		}
	}
	if d.timing.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timing.OperationTimeout)
}

func (d stageRunnerDeps) fetch(ctx context.Context, url string) (string, error) {
	if d.breaker == nil {
		return d.fetcher.Get(ctx, url)
	}
	var body string
	err := d.breaker.Execute(ctx, func() error {
		var innerErr error
		body, innerErr = d.fetcher.Get(ctx, url)
		return innerErr
	})
	return body, err
}

func (d stageRunnerDeps) listCollection(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
	ctx, cancel := d.pace(ctx)
	defer cancel()

	url := fmt.Sprintf("%s?page=%d", d.listURL, item.Page)
	body, err := d.fetch(ctx, url)
	if err != nil {
		return nil, classifyFetchErr("list_collection", err)
	}

	urls, err := d.parser.ParseList(ctx, body)
	if err != nil {
		return nil, crawl.NewCrawlError("list_collection", crawl.KindRemoteSchemaDrift, err)
	}

	stubs := make([]*crawl.ProductRecord, 0, len(urls))
	for _, u := range urls {
		stubs = append(stubs, &crawl.ProductRecord{
			NaturalKey: u.NaturalKey,
			Page:       item.Page,
			Fields:     map[string]string{"url": u.URL},
		})
	}

	out := crawl.StageItem{Kind: crawl.ItemProductBatch, Page: item.Page, SortKey: item.SortKey, ProductBatch: stubs}
	return &out, nil
}

func (d stageRunnerDeps) detailCollection(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
	ctx, cancel := d.pace(ctx)
	defer cancel()

	body, err := d.fetch(ctx, item.ProductURL)
	if err != nil {
		return nil, classifyFetchErr("detail_collection", err)
	}

	out := crawl.StageItem{Kind: crawl.ItemHTMLBlob, Page: item.Page, HTMLBlob: body, SortKey: item.SortKey}
	return &out, nil
}

func (d stageRunnerDeps) parse(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
	record, err := d.parser.ParseDetail(ctx, item.HTMLBlob)
	if err != nil {
		return nil, crawl.NewCrawlError("parse", crawl.KindRemoteSchemaDrift, err)
	}
	record.Page = item.Page

	out := crawl.StageItem{Kind: crawl.ItemParsedProduct, Page: item.Page, ParsedProduct: record, SortKey: item.SortKey}
	return &out, nil
}

// validate rejects a parsed record that is nil, has no natural key, or has
// no fields at all (spec.md §7's remote_schema_drift: "structure is
// recognized but values are missing"). A record failing here never reaches
// persist.
func (d stageRunnerDeps) validate(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
	record := item.ParsedProduct
	if record == nil || record.NaturalKey == "" {
		return nil, crawl.NewCrawlError("validate", crawl.KindRemoteSchemaDrift, fmt.Errorf("parsed product missing natural key"))
	}
	if len(record.Fields) == 0 {
		return nil, crawl.NewCrawlError("validate", crawl.KindRemoteSchemaDrift, fmt.Errorf("parsed product %s has no fields", record.NaturalKey))
	}
	return &item, nil
}

func (d stageRunnerDeps) persist(ctx context.Context, item crawl.StageItem) (*crawl.StageItem, error) {
	stats, err := d.repo.UpsertBatch(ctx, []*crawl.ProductRecord{item.ParsedProduct})
	if err != nil {
		return nil, crawl.NewCrawlError("persist", crawl.KindLocalState, err)
	}
	d.logger.Debug("persisted product", map[string]interface{}{
		"natural_key": item.ParsedProduct.NaturalKey,
		"inserted":    stats.Inserted,
		"updated":     stats.Updated,
		"skipped":     stats.Skipped,
	})
	out := item
	out.PersistStats = &crawl.UpsertStats{Inserted: stats.Inserted, Updated: stats.Updated, Skipped: stats.Skipped}
	return &out, nil
}

// classifyFetchErr maps collaborators.FetchError onto spec.md §7's
// taxonomy; any other error defaults to transient since a fetch failure
// that doesn't carry a FetchError is assumed to be a plain network hiccup.
func classifyFetchErr(op string, err error) error {
	var fe *collaborators.FetchError
	if !errors.As(err, &fe) {
		return crawl.NewCrawlError(op, crawl.KindTransient, err)
	}
	switch fe.Kind {
	case collaborators.FetchHTTP:
		if fe.StatusCode == 429 {
			return crawl.NewCrawlError(op, crawl.KindRateLimited, err)
		}
		if fe.StatusCode == 401 || fe.StatusCode == 403 {
			return crawl.NewCrawlError(op, crawl.KindFatal, err)
		}
		if fe.StatusCode >= 400 && fe.StatusCode < 500 {
			return crawl.NewCrawlError(op, crawl.KindFatal, err)
		}
		return crawl.NewCrawlError(op, crawl.KindTransient, err)
	case collaborators.FetchTimeout, collaborators.FetchNetwork:
		return crawl.NewCrawlError(op, crawl.KindTransient, err)
	case collaborators.FetchParse:
		return crawl.NewCrawlError(op, crawl.KindRemoteSchemaDrift, err)
	default:
		return crawl.NewCrawlError(op, crawl.KindTransient, err)
	}
}

