package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	"github.com/Aman-CERP/qanoon/internal/embed"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/internal/store"
)

const testDims = 16

// countingEmbedder wraps a static embedder, counts texts, and can fail
// from a given batch call onwards.
type countingEmbedder struct {
	*embed.StaticEmbedder
	model     string
	calls     atomic.Int64
	texts     atomic.Int64
	failAfter int64 // fail on call number > failAfter; 0 disables

	mu   sync.Mutex
	seen []string
}

func newCountingEmbedder(model string) *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(testDims), model: model}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.calls.Add(1)
	if c.failAfter > 0 && n > c.failAfter {
		return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed, "provider down", nil)
	}
	c.texts.Add(int64(len(texts)))
	c.mu.Lock()
	c.seen = append(c.seen, texts...)
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) ModelName() string { return c.model }

type fixture struct {
	dir     string
	catalog *store.Catalog
	lock    *store.BuildLock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	catalog, err := store.OpenCatalog(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	return &fixture{dir: dir, catalog: catalog, lock: store.NewBuildLock(filepath.Join(dir, "build.lock"))}
}

func (f *fixture) indexPath() string { return filepath.Join(f.dir, "index.gob.zst") }

func (f *fixture) builder(t *testing.T, emb embed.Embedder, batch int) (*Builder, *store.VectorIndex) {
	t.Helper()
	idx, err := store.NewVectorIndex(store.IndexConfig{Dimensions: testDims, Model: emb.ModelName()})
	require.NoError(t, err)
	splitter, err := chunk.NewSplitter(200, 20)
	require.NoError(t, err)
	b, err := NewBuilder(Dependencies{
		Embedder: emb,
		Index:    idx,
		Catalog:  f.catalog,
		Lock:     f.lock,
		Splitter: splitter,
	}, Config{IndexPath: f.indexPath(), BatchSize: batch, CheckpointEvery: 1})
	require.NoError(t, err)
	return b, idx
}

// records returns n short records, one chunk each.
func records(n int, prefix string) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{
			Title:  fmt.Sprintf("%s Act %d", prefix, i),
			Text:   fmt.Sprintf("Section %d of the %s Act governs offences number %d.", i, prefix, i*7),
			Source: "Official PDF",
			Type:   "Act",
		}
	}
	return out
}

func TestBuilder_BuildIndexesAllRecords(t *testing.T) {
	// Given: ten single-chunk records and a batch size of three
	f := newFixture(t)
	emb := newCountingEmbedder("test-model")
	var stages []Stage
	b, idx := f.builder(t, emb, 3)
	b.progress = func(s Stage, _, _ int) { stages = append(stages, s) }

	// When: building
	res, err := b.Build(context.Background(), records(10, "Penal"))

	// Then: every chunk is embedded once in four batches
	require.NoError(t, err)
	assert.Equal(t, 10, res.Records)
	assert.Equal(t, 10, res.Chunks)
	assert.Equal(t, 10, res.Total)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(4), emb.calls.Load())
	assert.Equal(t, 10, idx.Count())
	assert.Contains(t, stages, StageEmbedding)

	// And: the index is on disk, the catalog lists every title, no checkpoint remains
	info, err := store.ReadIndexInfo(f.indexPath())
	require.NoError(t, err)
	assert.Equal(t, 10, info.Count)
	assert.Equal(t, "test-model", info.Model)

	titles, err := f.catalog.IndexedTitles(context.Background())
	require.NoError(t, err)
	assert.Len(t, titles, 10)
	assert.Contains(t, titles, "penal act 3")

	cp, err := f.catalog.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestBuilder_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := records(10, "Contract")

	// Given: a build that dies on its third batch
	failing := newCountingEmbedder("test-model")
	failing.failAfter = 2
	b1, _ := f.builder(t, failing, 3)
	_, err := b1.Build(ctx, recs)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeIndexFailed, qerrors.GetCode(err))

	cp, err := f.catalog.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 6, cp.Embedded)
	assert.Equal(t, 10, cp.Total)

	// When: building again with a healthy embedder of the same model
	healthy := newCountingEmbedder("test-model")
	b2, idx := f.builder(t, healthy, 3)
	res, err := b2.Build(ctx, recs)

	// Then: only the last four chunks are embedded
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, int64(4), healthy.texts.Load())
	assert.Equal(t, 10, idx.Count())
	assert.Len(t, idx.Titles(), 10)
}

func TestBuilder_ResumeWithOtherModelFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := records(6, "Evidence")

	failing := newCountingEmbedder("model-a")
	failing.failAfter = 1
	b1, _ := f.builder(t, failing, 2)
	_, err := b1.Build(ctx, recs)
	require.Error(t, err)

	b2, _ := f.builder(t, newCountingEmbedder("model-b"), 2)
	_, err = b2.Build(ctx, recs)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeModelMismatch))

	// Rebuild discards the partial work
	other := newCountingEmbedder("model-b")
	b3, idx := f.builder(t, other, 2)
	res, err := b3.Rebuild(ctx, recs)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(6), other.texts.Load())
	assert.Equal(t, 6, idx.Count())
}

func TestBuilder_ChangedPlanStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	failing := newCountingEmbedder("test-model")
	failing.failAfter = 1
	b1, _ := f.builder(t, failing, 2)
	_, err := b1.Build(ctx, records(6, "Tax"))
	require.Error(t, err)

	healthy := newCountingEmbedder("test-model")
	b2, idx := f.builder(t, healthy, 2)
	res, err := b2.Build(ctx, records(8, "Tax"))
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(8), healthy.texts.Load())
	assert.Equal(t, 8, idx.Count())
}

func TestBuilder_ResumesFromSavedIndexAheadOfCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := records(10, "Contract")

	// Given: a build that saved six chunks to the index and then died
	failing := newCountingEmbedder("test-model")
	failing.failAfter = 2
	b1, _ := f.builder(t, failing, 3)
	_, err := b1.Build(ctx, recs)
	require.Error(t, err)

	// And: a checkpoint row that lags the saved index, as after a crash
	// between the index save and the checkpoint write
	cp, err := f.catalog.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	cp.Embedded = 3
	require.NoError(t, f.catalog.SaveCheckpoint(ctx, *cp))

	// When: building again
	healthy := newCountingEmbedder("test-model")
	b2, idx := f.builder(t, healthy, 3)
	res, err := b2.Build(ctx, recs)

	// Then: embedding continues after the saved entries, none duplicated
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, int64(4), healthy.texts.Load())
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 10, idx.Count())
	assert.Len(t, idx.Titles(), 10)
}

func TestBuilder_SameCountDifferentChunksStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: an interrupted build of six "Tax" records
	failing := newCountingEmbedder("test-model")
	failing.failAfter = 1
	b1, _ := f.builder(t, failing, 2)
	_, err := b1.Build(ctx, records(6, "Tax"))
	require.Error(t, err)

	// When: building six different records, the same chunk count
	healthy := newCountingEmbedder("test-model")
	b2, idx := f.builder(t, healthy, 2)
	res, err := b2.Build(ctx, records(6, "Customs"))

	// Then: the partial index is discarded rather than mixed in
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(6), healthy.texts.Load())
	assert.Equal(t, 6, idx.Count())
	for _, title := range idx.Titles() {
		assert.Contains(t, title, "Customs")
	}
}

func TestBuilder_UpdateMatchesFullBuild(t *testing.T) {
	ctx := context.Background()
	first := records(5, "Penal")
	second := records(5, "Contract")

	// Given: one index built from the first set and updated with the second
	incremental := newFixture(t)
	bi, incIdx := incremental.builder(t, newCountingEmbedder("test-model"), 3)
	_, err := bi.Build(ctx, first)
	require.NoError(t, err)
	_, err = bi.Update(ctx, second)
	require.NoError(t, err)

	// And: another built from both sets at once
	full := newFixture(t)
	bf, fullIdx := full.builder(t, newCountingEmbedder("test-model"), 3)
	_, err = bf.Build(ctx, append(append([]record.Record{}, first...), second...))
	require.NoError(t, err)

	require.Equal(t, fullIdx.Count(), incIdx.Count())

	emb := embed.NewStaticEmbedder(testDims)
	queries := []string{
		"offences under the Penal Act",
		"Section 3 of the Contract Act",
		"governs offences number 14",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			vec, err := emb.Embed(ctx, q)
			require.NoError(t, err)

			// When: searching both indexes
			got, err := incIdx.Search(ctx, vec, 4)
			require.NoError(t, err)
			want, err := fullIdx.Search(ctx, vec, 4)
			require.NoError(t, err)

			// Then: both return the same chunks in the same order
			assert.Equal(t, resultIDs(want), resultIDs(got))
		})
	}
}

func resultIDs(results []store.Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestBuilder_UpdateAddsOnlyNewTitles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: an index built from three records
	b, _ := f.builder(t, newCountingEmbedder("test-model"), 10)
	_, err := b.Build(ctx, records(3, "Penal"))
	require.NoError(t, err)

	// And: candidates repeating those, a case/extension variant, and two new ones
	candidates := append(records(3, "Penal"),
		record.Record{Title: "PENAL ACT 1.pdf", Text: "variant of an existing title"},
		record.Record{Title: "Companies Act", Text: "A company may be formed by seven persons."},
		record.Record{Title: "Arbitration Act", Text: "An arbitration agreement shall be in writing."},
		record.Record{Title: "companies act.json", Text: "Every company shall keep a register of members."},
		record.Record{Title: "Arbitration Act", Text: "An arbitration agreement shall be in writing."},
	)

	// When: updating with a fresh builder (as a separate process would)
	emb := newCountingEmbedder("test-model")
	b2, idx := f.builder(t, emb, 10)
	res, err := b2.Update(ctx, candidates)

	// Then: every record of the two new titles is appended once
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, int64(3), emb.texts.Load())
	assert.ElementsMatch(t, []string{
		"A company may be formed by seven persons.",
		"An arbitration agreement shall be in writing.",
		"Every company shall keep a register of members.",
	}, emb.seen)
	assert.Equal(t, 6, idx.Count())

	titles, err := f.catalog.IndexedTitles(ctx)
	require.NoError(t, err)
	assert.Contains(t, titles, "companies act")
	assert.Contains(t, titles, "arbitration act")
}

func TestBuilder_UpdateWithNothingNewSkipsDisk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _ := f.builder(t, newCountingEmbedder("test-model"), 10)
	_, err := b.Build(ctx, records(2, "Penal"))
	require.NoError(t, err)

	before, err := os.Stat(f.indexPath())
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	emb := newCountingEmbedder("test-model")
	b2, _ := f.builder(t, emb, 10)
	res, err := b2.Update(ctx, records(2, "Penal"))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Records)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int64(0), emb.calls.Load())

	after, err := os.Stat(f.indexPath())
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestBuilder_UpdateOnEmptyIndex(t *testing.T) {
	f := newFixture(t)
	b, idx := f.builder(t, newCountingEmbedder("test-model"), 10)

	res, err := b.Update(context.Background(), records(2, "Land"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, idx.Count())
}

func TestBuilder_UpdateRefusesPendingBuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.SaveCheckpoint(ctx, store.Checkpoint{Stage: "embedding", Total: 5, Embedded: 2, Model: "test-model"}))

	b, _ := f.builder(t, newCountingEmbedder("test-model"), 10)
	_, err := b.Update(ctx, records(1, "Land"))
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeIndexFailed))
}

func TestBuilder_UpdateFailureLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, _ := f.builder(t, newCountingEmbedder("test-model"), 10)
	_, err := b.Build(ctx, records(2, "Penal"))
	require.NoError(t, err)

	failing := newCountingEmbedder("test-model")
	failing.failAfter = 1
	b2, idx := f.builder(t, failing, 1)
	_, err = b2.Update(ctx, records(3, "Trust"))
	require.Error(t, err)

	assert.Equal(t, 2, idx.Count())
	info, err := store.ReadIndexInfo(f.indexPath())
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
}

func TestBuilder_HoldsLock(t *testing.T) {
	f := newFixture(t)
	b, _ := f.builder(t, newCountingEmbedder("test-model"), 10)

	require.NoError(t, f.lock.Lock(context.Background()))
	defer func() { _ = f.lock.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := b.Build(ctx, records(1, "Penal"))
	assert.ErrorIs(t, err, store.ErrIndexLocked)
}

func TestNewBuilder_Validation(t *testing.T) {
	f := newFixture(t)
	idx, err := store.NewVectorIndex(store.IndexConfig{Dimensions: 8})
	require.NoError(t, err)

	_, err = NewBuilder(Dependencies{Index: idx, Catalog: f.catalog, Lock: f.lock}, Config{IndexPath: f.indexPath()})
	assert.Error(t, err, "embedder required")

	_, err = NewBuilder(Dependencies{Embedder: embed.NewStaticEmbedder(16), Index: idx, Catalog: f.catalog, Lock: f.lock},
		Config{IndexPath: f.indexPath()})
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeDimensionMismatch))
}
