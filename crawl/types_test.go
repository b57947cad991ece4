package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDbCursor_NextAbsoluteIndex(t *testing.T) {
	c := &DbCursor{PageID: 3, IndexInPage: 4, ProductsPerPage: 12}
	assert.Equal(t, 3*12+4+1, c.NextAbsoluteIndex())
}

func TestAnalysisSnapshot_Fresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := &AnalysisSnapshot{CapturedAt: now.Add(-1 * time.Minute), TTL: 5 * time.Minute}
	stale := &AnalysisSnapshot{CapturedAt: now.Add(-10 * time.Minute), TTL: 5 * time.Minute}

	assert.True(t, fresh.Fresh(now))
	assert.False(t, stale.Fresh(now))
	assert.False(t, (*AnalysisSnapshot)(nil).Fresh(now))
}

func TestCrawlRange_EmptyAndPages(t *testing.T) {
	empty := CrawlRange{StartPage: 0, EndPage: 0}
	assert.True(t, empty.Empty())
	assert.Nil(t, empty.Pages())

	r := CrawlRange{StartPage: 5, EndPage: 3}
	assert.False(t, r.Empty())
	assert.Equal(t, []int{5, 4, 3}, r.Pages())
}

func TestStageResult_FatalOutcome(t *testing.T) {
	ok := &StageResult{}
	assert.False(t, ok.FatalOutcome())

	bad := &StageResult{FatalErr: ErrCursorInconsistent}
	assert.True(t, bad.FatalOutcome())
}

func TestDefaultStageSequence_Order(t *testing.T) {
	seq := DefaultStageSequence()
	assert.Equal(t, []StageKind{
		StageListCollection, StageDetailCollection, StageParse, StageValidate, StagePersist,
	}, seq)
}
