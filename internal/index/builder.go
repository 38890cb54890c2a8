// Package index builds and incrementally extends the vector index from
// normalized records.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	"github.com/Aman-CERP/qanoon/internal/embed"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/internal/store"
)

// Stage names reported to ProgressFunc.
type Stage string

const (
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageSaving    Stage = "saving"
)

// checkpointStage is the stage recorded while batches are being appended.
const checkpointStage = "embedding"

// ProgressFunc receives progress updates. done and total count chunks
// during embedding and records otherwise.
type ProgressFunc func(stage Stage, done, total int)

// Config tunes a Builder.
type Config struct {
	// IndexPath is where the index artifact is saved.
	IndexPath string

	// BatchSize is the number of chunks embedded per call (default: 2000).
	BatchSize int

	// CheckpointEvery saves the index after this many batches (default: 1).
	CheckpointEvery int

	// BatchTimeout bounds each embedding call; 0 means no extra bound.
	BatchTimeout time.Duration
}

// Dependencies are the collaborators a Builder mutates.
type Dependencies struct {
	Embedder embed.Embedder
	Index    *store.VectorIndex
	Catalog  *store.Catalog
	Lock     *store.BuildLock
	Splitter *chunk.Splitter
	Progress ProgressFunc
}

// Result describes a finished Build or Update.
type Result struct {
	Records  int // records chunked and embedded
	Chunks   int // chunks appended by this run
	Skipped  int // candidates already indexed (Update only)
	Total    int // entries in the index afterwards
	Resumed  bool
	Duration time.Duration

	// Added holds the records Update indexed.
	Added []record.Record
}

// Builder runs index construction. Build and Update hold the BuildLock for
// their whole duration, so only one mutation runs at a time.
type Builder struct {
	embedder embed.Embedder
	index    *store.VectorIndex
	catalog  *store.Catalog
	lock     *store.BuildLock
	splitter *chunk.Splitter
	progress ProgressFunc
	cfg      Config
}

// NewBuilder validates deps and applies config defaults.
func NewBuilder(deps Dependencies, cfg Config) (*Builder, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.Lock == nil {
		return nil, fmt.Errorf("build lock is required")
	}
	if cfg.IndexPath == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if deps.Embedder.Dimensions() != deps.Index.Dimensions() {
		return nil, qerrors.New(qerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d dimensions, index expects %d", deps.Embedder.Dimensions(), deps.Index.Dimensions()), nil)
	}

	splitter := deps.Splitter
	if splitter == nil {
		var err error
		splitter, err = chunk.NewSplitter(chunk.DefaultSize, chunk.DefaultOverlap)
		if err != nil {
			return nil, err
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 1
	}
	progress := deps.Progress
	if progress == nil {
		progress = func(Stage, int, int) {}
	}

	return &Builder{
		embedder: deps.Embedder,
		index:    deps.Index,
		catalog:  deps.Catalog,
		lock:     deps.Lock,
		splitter: splitter,
		progress: progress,
		cfg:      cfg,
	}, nil
}

// Build indexes records from scratch, or resumes an interrupted build when
// the saved checkpoint matches the current model and chunk plan.
func (b *Builder) Build(ctx context.Context, records []record.Record) (*Result, error) {
	return b.build(ctx, records, false)
}

// Rebuild discards any checkpoint and existing index, then builds.
func (b *Builder) Rebuild(ctx context.Context, records []record.Record) (*Result, error) {
	return b.build(ctx, records, true)
}

func (b *Builder) build(ctx context.Context, records []record.Record, force bool) (*Result, error) {
	if err := b.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = b.lock.Unlock() }()

	start := time.Now()
	model := b.embedder.ModelName()

	b.progress(StageChunking, 0, len(records))
	chunks := b.splitter.Chunk(records)
	b.progress(StageChunking, len(records), len(records))

	slog.Info("build_started",
		slog.Int("records", len(records)),
		slog.Int("chunks", len(chunks)),
		slog.String("model", model),
		slog.Int("batch_size", b.cfg.BatchSize),
		slog.Bool("force", force))

	plan := planDigest(chunks)
	from, err := b.resumePoint(ctx, len(chunks), plan, model, force)
	if err != nil {
		return nil, err
	}
	resumed := from > 0

	cp := store.Checkpoint{
		Stage:      checkpointStage,
		Total:      len(chunks),
		Embedded:   from,
		Model:      model,
		Dimensions: b.index.Dimensions(),
		Plan:       plan,
	}
	if err := b.catalog.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	embedded := from
	batches := 0
	dirty := false
	for lo := from; lo < len(chunks); lo += b.cfg.BatchSize {
		hi := min(lo+b.cfg.BatchSize, len(chunks))
		if err := b.appendBatch(ctx, chunks[lo:hi]); err != nil {
			slog.Error("build_failed",
				slog.Int("embedded", embedded),
				slog.Int("total", len(chunks)),
				slog.String("error", err.Error()))
			return nil, qerrors.New(qerrors.ErrCodeIndexFailed,
				fmt.Sprintf("build stopped at %d/%d chunks", embedded, len(chunks)), err).
				WithSuggestion("rerun 'qanoon build' to resume from the last checkpoint")
		}
		embedded = hi
		batches++
		dirty = true
		b.progress(StageEmbedding, embedded, len(chunks))
		slog.Info("batch_embedded",
			slog.Int("batch", batches),
			slog.Int("embedded", embedded),
			slog.Int("total", len(chunks)))

		if batches%b.cfg.CheckpointEvery == 0 {
			if err := b.checkpoint(ctx, cp, embedded); err != nil {
				return nil, err
			}
			dirty = false
		}
	}

	b.progress(StageSaving, 0, 1)
	if dirty || len(chunks) == 0 {
		if err := b.index.Save(b.cfg.IndexPath); err != nil {
			return nil, err
		}
	}
	if err := b.catalog.MarkIndexed(ctx, records, chunkCounts(chunks)); err != nil {
		return nil, err
	}
	if err := b.catalog.ClearCheckpoint(ctx); err != nil {
		slog.Warn("failed to clear checkpoint", slog.String("error", err.Error()))
	}
	b.progress(StageSaving, 1, 1)

	res := &Result{
		Records:  len(records),
		Chunks:   len(chunks) - from,
		Total:    b.index.Count(),
		Resumed:  resumed,
		Duration: time.Since(start),
	}
	slog.Info("build_complete",
		slog.Int("records", res.Records),
		slog.Int("chunks", res.Chunks),
		slog.Int("total", res.Total),
		slog.Bool("resumed", res.Resumed),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// resumePoint returns the chunk offset to start embedding from, resetting
// the index and catalog when starting over.
func (b *Builder) resumePoint(ctx context.Context, total int, plan, model string, force bool) (int, error) {
	if !force {
		cp, err := b.catalog.LoadCheckpoint(ctx)
		if err != nil {
			return 0, err
		}
		if cp != nil && cp.Stage == checkpointStage {
			if cp.Model != model {
				return 0, qerrors.New(qerrors.ErrCodeModelMismatch,
					fmt.Sprintf("interrupted build used model %s, current embedder is %s", cp.Model, model), nil).
					WithSuggestion("rerun with --force to discard the partial index")
			}
			if from, ok := b.tryResume(cp, total, plan); ok {
				slog.Info("build_resumed",
					slog.Int("embedded", from),
					slog.Int("total", total),
					slog.String("model", model))
				return from, nil
			}
			slog.Warn("build_restart",
				slog.Int("checkpoint_embedded", cp.Embedded),
				slog.Int("checkpoint_total", cp.Total),
				slog.Int("total", total))
		}
	}

	b.index.Reset()
	if err := b.catalog.Reset(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

// tryResume reports where an interrupted build of the same plan can
// continue. The index is saved before the checkpoint row, so the artifact
// may hold more entries than the checkpoint records; entries are appended
// in plan order, so the artifact count is the resume point.
func (b *Builder) tryResume(cp *store.Checkpoint, total int, plan string) (int, bool) {
	if cp.Total != total || cp.Plan != plan || cp.Embedded < 0 || cp.Embedded > total {
		return 0, false
	}
	if err := b.index.Load(b.cfg.IndexPath); err != nil {
		slog.Warn("resume_load_failed", slog.String("error", err.Error()))
		return 0, false
	}
	n := b.index.Count()
	if n == 0 || n < cp.Embedded || n > total {
		return 0, false
	}
	return n, true
}

// planDigest identifies a build plan by its ordered chunk IDs.
func planDigest(chunks []chunk.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Builder) appendBatch(ctx context.Context, batch []chunk.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := b.embedChunks(ctx, batch)
	if err != nil {
		return err
	}
	return b.index.Add(entries)
}

func (b *Builder) embedChunks(ctx context.Context, batch []chunk.Chunk) ([]store.Entry, error) {
	callCtx := ctx
	if b.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.BatchTimeout)
		defer cancel()
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vecs, err := b.embedder.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(batch)), nil)
	}

	entries := make([]store.Entry, len(batch))
	for i, c := range batch {
		entries[i] = store.Entry{Vector: vecs[i], Chunk: c}
	}
	return entries, nil
}

func (b *Builder) checkpoint(ctx context.Context, cp store.Checkpoint, embedded int) error {
	if err := b.index.Save(b.cfg.IndexPath); err != nil {
		return err
	}
	cp.Embedded = embedded
	if err := b.catalog.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	slog.Debug("checkpoint_saved",
		slog.Int("embedded", embedded),
		slog.Int("total", cp.Total))
	return nil
}

// Update indexes only the candidates whose normalized title is not yet in
// the catalog, appending to the persisted index. Existing content is never
// re-embedded. With nothing new it returns without touching disk.
func (b *Builder) Update(ctx context.Context, candidates []record.Record) (*Result, error) {
	if err := b.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = b.lock.Unlock() }()

	start := time.Now()

	cp, err := b.catalog.LoadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		return nil, qerrors.New(qerrors.ErrCodeIndexFailed, "an interrupted build is pending", nil).
			WithSuggestion("run 'qanoon build' to finish it before updating")
	}

	if err := b.index.Load(b.cfg.IndexPath); err != nil {
		if !qerrors.HasCode(err, qerrors.ErrCodeIndexNotFound) {
			return nil, err
		}
		b.index.Reset()
	}

	// Titles saved to the index but not yet listed would otherwise be
	// embedded a second time.
	checker := NewConsistencyChecker(b.catalog, b.index)
	check, err := checker.Check(ctx)
	if err != nil {
		return nil, err
	}
	if err := checker.Repair(ctx, check.Issues); err != nil {
		return nil, err
	}

	indexed, err := b.catalog.IndexedTitles(ctx)
	if err != nil {
		return nil, err
	}
	fresh := record.Difference(candidates, indexed)
	skipped := len(candidates) - len(fresh)

	if len(fresh) == 0 {
		slog.Info("update_complete",
			slog.Int("added", 0),
			slog.Int("skipped", skipped))
		return &Result{Skipped: skipped, Total: b.index.Count(), Duration: time.Since(start)}, nil
	}

	chunks := b.splitter.Chunk(fresh)
	entries := make([]store.Entry, 0, len(chunks))
	for lo := 0; lo < len(chunks); lo += b.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+b.cfg.BatchSize, len(chunks))
		batch, err := b.embedChunks(ctx, chunks[lo:hi])
		if err != nil {
			return nil, qerrors.New(qerrors.ErrCodeIndexFailed, "update failed while embedding", err)
		}
		entries = append(entries, batch...)
		b.progress(StageEmbedding, hi, len(chunks))
	}

	// Appended in one call so a failure above leaves the index untouched.
	if err := b.index.Add(entries); err != nil {
		return nil, err
	}
	b.progress(StageSaving, 0, 1)
	if err := b.index.Save(b.cfg.IndexPath); err != nil {
		return nil, err
	}
	if err := b.catalog.MarkIndexed(ctx, fresh, chunkCounts(chunks)); err != nil {
		return nil, err
	}
	b.progress(StageSaving, 1, 1)

	res := &Result{
		Records:  len(fresh),
		Chunks:   len(chunks),
		Skipped:  skipped,
		Total:    b.index.Count(),
		Duration: time.Since(start),
		Added:    fresh,
	}
	slog.Info("update_complete",
		slog.Int("added", res.Records),
		slog.Int("chunks", res.Chunks),
		slog.Int("skipped", res.Skipped),
		slog.Int("total", res.Total),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

func chunkCounts(chunks []chunk.Chunk) map[string]int {
	counts := make(map[string]int)
	for _, c := range chunks {
		counts[record.NormalizeTitle(c.Title)]++
	}
	return counts
}
