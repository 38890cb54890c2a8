package qanoon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	"github.com/Aman-CERP/qanoon/internal/config"
	"github.com/Aman-CERP/qanoon/internal/embed"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/generate"
	"github.com/Aman-CERP/qanoon/internal/index"
	"github.com/Aman-CERP/qanoon/internal/keepalive"
	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/internal/retrieve"
	"github.com/Aman-CERP/qanoon/internal/store"
)

// Service owns every long-lived component. It is safe for concurrent use;
// index mutations are serialized by the build lock.
type Service struct {
	cfg *config.Config

	embedder  embed.Embedder
	query     *embed.CachedEmbedder
	index     *store.VectorIndex
	catalog   *store.Catalog
	lock      *store.BuildLock
	builder   *index.Builder
	retrieval *retrieve.Service
	keeper    *keepalive.Keeper

	orchestrator *generate.Orchestrator
	genErr       error

	closeOnce sync.Once
}

// Open constructs the service from cfg. A missing index artifact is not an
// error; retrieval returns nothing until a build runs.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = embed.NewEmbedder(cfg.Embeddings); err != nil {
			return nil, err
		}
	}

	s, err := open(ctx, cfg, embedder, o)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, cfg *config.Config, embedder embed.Embedder, o openOptions) (*Service, error) {
	metric, err := store.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	mode, err := store.ParseMode(cfg.Index.Mode)
	if err != nil {
		return nil, err
	}
	idx, err := store.NewVectorIndex(store.IndexConfig{
		Dimensions: embedder.Dimensions(),
		Metric:     metric,
		Mode:       mode,
		Model:      embedder.ModelName(),
	})
	if err != nil {
		return nil, err
	}

	if !o.skipIndexLoad {
		switch err := idx.Load(cfg.Index.Path); {
		case err == nil:
			slog.Info("index_loaded", slog.String("path", cfg.Index.Path), slog.Int("entries", idx.Count()))
		case errors.Is(err, store.ErrIndexNotFound):
			slog.Warn("index_missing", slog.String("path", cfg.Index.Path))
		default:
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeFilePermission, "create data directory", err).
			WithDetail("path", cfg.DataDir())
	}
	catalog, err := store.OpenCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	lock := store.NewBuildLock(cfg.LockPath())

	splitter, err := chunk.NewSplitter(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	builder, err := index.NewBuilder(index.Dependencies{
		Embedder: embedder,
		Index:    idx,
		Catalog:  catalog,
		Lock:     lock,
		Splitter: splitter,
		Progress: o.progress,
	}, index.Config{
		IndexPath:       cfg.Index.Path,
		BatchSize:       cfg.Build.BatchSize,
		CheckpointEvery: cfg.Build.CheckpointEvery,
		BatchTimeout:    cfg.Build.Timeout,
	})
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	query := embed.NewCachedEmbedder(embedder, cfg.Embeddings.CacheSize)
	retrieval := retrieve.NewService(query, idx, retrieve.Config{
		K:               cfg.Retrieval.K,
		BreakerFailures: cfg.Retrieval.BreakerFailures,
		BreakerReset:    cfg.Retrieval.BreakerReset,
	})

	s := &Service{
		cfg:       cfg,
		embedder:  embedder,
		query:     query,
		index:     idx,
		catalog:   catalog,
		lock:      lock,
		builder:   builder,
		retrieval: retrieval,
		keeper: keepalive.New(embedder, keepalive.Config{
			Interval: cfg.KeepAlive.Interval,
			Timeout:  cfg.KeepAlive.Timeout,
		}),
	}

	client := o.streamClient
	if client == nil {
		client = generate.NewOpenAIStreamClient(cfg.Generation.BaseURL, nil)
	}
	s.orchestrator, s.genErr = generate.NewOrchestrator(client, generate.Config{
		Model:          cfg.Generation.Model,
		Temperature:    cfg.Generation.Temperature,
		MaxRetries:     cfg.Generation.MaxRetries,
		BackoffBase:    cfg.Generation.BackoffBase,
		AttemptTimeout: cfg.Generation.Timeout,
		Credentials:    toCredentials(cfg.Generation.Credentials),
	})
	if s.genErr != nil {
		slog.Warn("generation_disabled", slog.String("error", s.genErr.Error()))
	}

	if o.keepAlive && cfg.KeepAlive.Enabled {
		s.keeper.Start(context.WithoutCancel(ctx))
	}
	return s, nil
}

func toCredentials(keys []string) []generate.Credential {
	out := make([]generate.Credential, len(keys))
	for i, k := range keys {
		out[i] = generate.Credential(k)
	}
	return out
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() *config.Config { return s.cfg }

// Retrieve returns up to k passages for text (k <= 0 uses the configured
// default). It never fails.
func (s *Service) Retrieve(ctx context.Context, text string, k int) []retrieve.Passage {
	return s.retrieval.Search(ctx, text, k)
}

// Search is Retrieve with scores and errors, for diagnostics.
func (s *Service) Search(ctx context.Context, text string, k int) ([]retrieve.ScoredPassage, error) {
	return s.retrieval.SearchScored(ctx, text, k)
}

// Answer streams a completion for a single prompt.
func (s *Service) Answer(ctx context.Context, prompt string) <-chan string {
	return s.stream(ctx, []generate.Message{{Role: generate.RoleUser, Content: prompt}})
}

func (s *Service) stream(ctx context.Context, messages []generate.Message) <-chan string {
	if s.orchestrator == nil {
		ch := make(chan string, 1)
		ch <- generate.APIErrorPrefix + s.genErr.Error()
		close(ch)
		return ch
	}
	return s.orchestrator.Stream(ctx, messages)
}

// Build indexes records, resuming an interrupted build when possible.
func (s *Service) Build(ctx context.Context, records []record.Record) (*index.Result, error) {
	return s.builder.Build(ctx, records)
}

// Rebuild discards the existing index and builds from scratch.
func (s *Service) Rebuild(ctx context.Context, records []record.Record) (*index.Result, error) {
	return s.builder.Rebuild(ctx, records)
}

// Update appends records whose titles are not yet indexed.
func (s *Service) Update(ctx context.Context, records []record.Record) (*index.Result, error) {
	return s.builder.Update(ctx, records)
}

// Keeper exposes the liveness keeper.
func (s *Service) Keeper() *keepalive.Keeper { return s.keeper }

// Status summarizes the on-disk and in-memory index state.
type Status struct {
	IndexPath  string             `json:"index_path"`
	Artifact   *store.IndexInfo   `json:"artifact,omitempty"`
	Loaded     int                `json:"loaded_entries"`
	Catalog    store.CatalogStats `json:"catalog"`
	Checkpoint *store.Checkpoint  `json:"checkpoint,omitempty"`
	Issues     []index.Issue      `json:"issues,omitempty"`
	Embedder   string             `json:"embedder"`
	Dimensions int                `json:"dimensions"`
	Generation bool               `json:"generation_enabled"`
	Breaker    string             `json:"breaker"`
	KeepAlive  *keepalive.Stats   `json:"keepalive,omitempty"`
	CheckedAt  time.Time          `json:"checked_at"`
}

// Status gathers catalog, artifact, and consistency information.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		IndexPath:  s.cfg.Index.Path,
		Loaded:     s.index.Count(),
		Embedder:   s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
		Generation: s.orchestrator != nil,
		Breaker:    s.retrieval.BreakerState().String(),
		CheckedAt:  time.Now(),
	}

	info, err := store.ReadIndexInfo(s.cfg.Index.Path)
	switch {
	case err == nil:
		st.Artifact = info
	case !errors.Is(err, store.ErrIndexNotFound):
		return nil, err
	}

	if st.Catalog, err = s.catalog.Stats(ctx); err != nil {
		return nil, err
	}
	if st.Checkpoint, err = s.catalog.LoadCheckpoint(ctx); err != nil {
		return nil, err
	}

	check, err := index.NewConsistencyChecker(s.catalog, s.index).Check(ctx)
	if err != nil {
		return nil, err
	}
	st.Issues = check.Issues

	if s.keeper.Running() {
		ks := s.keeper.Stats()
		st.KeepAlive = &ks
	}
	return st, nil
}

// Close stops the keeper and releases the catalog and embedder. It is
// safe to call more than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.keeper.Stop()
		if err := s.catalog.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.query.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
