// Package retrieve answers similarity queries against the vector index.
// Search never fails: any error degrades to an empty result.
package retrieve

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/qanoon/internal/embed"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/store"
)

// DefaultK is the number of passages returned when k <= 0.
const DefaultK = 8

// Passage is a retrieved chunk without its score.
type Passage struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

// ScoredPassage keeps score and provenance for display.
type ScoredPassage struct {
	Passage
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Type   string  `json:"type"`
	Score  float32 `json:"score"`
}

// Searcher is the index surface retrieval needs.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]store.Result, error)
	Count() int
}

// Config tunes the Service.
type Config struct {
	// K is the default passage count (default: 8).
	K int

	// BreakerFailures opens the circuit after this many consecutive
	// embedding failures (default: 5).
	BreakerFailures int

	// BreakerReset is how long the circuit stays open (default: 30s).
	BreakerReset time.Duration
}

// Service embeds queries and searches the index.
type Service struct {
	embedder embed.Embedder
	index    Searcher
	breaker  *qerrors.CircuitBreaker
	k        int
}

// NewService creates a retrieval service.
func NewService(embedder embed.Embedder, index Searcher, cfg Config) *Service {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	return &Service{
		embedder: embedder,
		index:    index,
		breaker: qerrors.NewCircuitBreaker("query-embedder",
			qerrors.WithMaxFailures(cfg.BreakerFailures),
			qerrors.WithResetTimeout(cfg.BreakerReset)),
		k: cfg.K,
	}
}

// Search returns up to k passages most similar to text, best first. It
// returns an empty slice on any failure and logs the cause.
func (s *Service) Search(ctx context.Context, text string, k int) []Passage {
	scored, err := s.SearchScored(ctx, text, k)
	if err != nil {
		slog.Warn("retrieval_failed",
			slog.String("error", err.Error()),
			slog.String("code", qerrors.GetCode(err)))
		return []Passage{}
	}
	out := make([]Passage, len(scored))
	for i, p := range scored {
		out[i] = p.Passage
	}
	return out
}

// SearchScored is Search with scores and errors exposed.
func (s *Service) SearchScored(ctx context.Context, text string, k int) ([]ScoredPassage, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, qerrors.New(qerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if k <= 0 {
		k = s.k
	}
	if s.index.Count() == 0 {
		return nil, qerrors.New(qerrors.ErrCodeIndexNotFound, "index is empty", nil).
			WithSuggestion("run 'qanoon build' first")
	}

	vec, err := qerrors.Guard(s.breaker, func() ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, qerrors.ErrCircuitOpen) {
			return nil, qerrors.New(qerrors.ErrCodeSearchFailed, "query embedder unavailable", err)
		}
		return nil, err
	}

	results, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeSearchFailed, "index search failed", err)
	}

	out := make([]ScoredPassage, len(results))
	for i, r := range results {
		out[i] = ScoredPassage{
			Passage: Passage{Text: r.Text, Title: r.Title},
			ID:      r.ID,
			Source:  r.Source,
			Type:    r.Type,
			Score:   r.Score,
		}
	}

	slog.Debug("retrieval_complete",
		slog.Int("k", k),
		slog.Int("results", len(out)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return out, nil
}

// BreakerState reports the query embedder circuit state.
func (s *Service) BreakerState() qerrors.State { return s.breaker.State() }
