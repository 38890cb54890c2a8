package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/internal/store"
)

func TestConsistencyChecker_DetectsAndRepairsUnlisted(t *testing.T) {
	ctx := context.Background()
	catalog, err := store.OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer func() { _ = catalog.Close() }()

	idx, err := store.NewVectorIndex(store.IndexConfig{Dimensions: 2})
	require.NoError(t, err)

	// Given: the index holds two titles, the catalog lists one of them plus a ghost
	require.NoError(t, idx.Add([]store.Entry{
		{Vector: []float32{1, 0}, Chunk: chunk.Chunk{ID: "1", Title: "Penal Code", Source: "Official PDF", Type: "Act"}},
		{Vector: []float32{0, 1}, Chunk: chunk.Chunk{ID: "2", Title: "Contract Act.pdf", Source: "Gazette", Type: "Act"}},
		{Vector: []float32{1, 1}, Chunk: chunk.Chunk{ID: "3", Title: "Contract Act.pdf", Source: "Gazette", Type: "Act"}},
	}))
	require.NoError(t, catalog.MarkIndexed(ctx,
		[]record.Record{{Title: "Penal Code"}, {Title: "Ghost Ordinance"}},
		map[string]int{"penal code": 1}))

	checker := NewConsistencyChecker(catalog, idx)

	// When: checking
	res, err := checker.Check(ctx)
	require.NoError(t, err)

	// Then: one unlisted and one missing title are reported
	assert.False(t, res.Consistent())
	assert.Equal(t, 2, res.IndexTitles)
	assert.Equal(t, 2, res.CatalogTitles)
	require.Len(t, res.Issues, 2)

	byType := map[IssueType]Issue{}
	for _, is := range res.Issues {
		byType[is.Type] = is
	}
	assert.Equal(t, "contract act", byType[IssueUnlisted].Title)
	assert.Equal(t, 2, byType[IssueUnlisted].Stat.Chunks)
	assert.Equal(t, "ghost ordinance", byType[IssueMissing].Title)

	// When: repairing
	require.NoError(t, checker.Repair(ctx, res.Issues))

	// Then: the unlisted title is now listed with its chunk count
	titles, err := catalog.IndexedTitles(ctx)
	require.NoError(t, err)
	assert.Contains(t, titles, "contract act")
	stats, err := catalog.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)
}

func TestIssueType_String(t *testing.T) {
	assert.Equal(t, "unlisted", IssueUnlisted.String())
	assert.Equal(t, "missing", IssueMissing.String())
	assert.Equal(t, "unknown", IssueType(9).String())
}
