package collaborators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattercertis/crawlcore/crawl"
)

func TestInMemoryRepository_UpsertIsIdempotentOnNaturalKey(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	stats, err := repo.UpsertBatch(ctx, []*crawl.ProductRecord{{NaturalKey: "sku-1"}, {NaturalKey: "sku-2"}})
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{Inserted: 2}, stats)

	stats, err = repo.UpsertBatch(ctx, []*crawl.ProductRecord{{NaturalKey: "sku-1"}})
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{Updated: 1}, stats)
	assert.Equal(t, 2, repo.Len())
}

func TestInMemoryRepository_SkipsRecordsWithoutNaturalKey(t *testing.T) {
	repo := NewInMemoryRepository()
	stats, err := repo.UpsertBatch(context.Background(), []*crawl.ProductRecord{nil, {NaturalKey: ""}})
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{Skipped: 2}, stats)
}

func TestRepositoryDbAnalyzer_EmptyRepoIsNilCursorNoError(t *testing.T) {
	repo := NewInMemoryRepository()
	analyzer := NewRepositoryDbAnalyzer(repo, 20)

	cursor, err := analyzer.Cursor(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestRepositoryDbAnalyzer_DerivesCursorFromRepoSize(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	records := make([]*crawl.ProductRecord, 0, 45)
	for i := 0; i < 45; i++ {
		records = append(records, &crawl.ProductRecord{NaturalKey: string(rune('a' + i))})
	}
	_, err := repo.UpsertBatch(ctx, records)
	require.NoError(t, err)

	analyzer := NewRepositoryDbAnalyzer(repo, 20)
	cursor, err := analyzer.Cursor(ctx)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, 2, cursor.PageID)
	assert.Equal(t, 4, cursor.IndexInPage)
	assert.Equal(t, 45, cursor.TotalProducts)
}
