package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an append-only store of entries with similarity search.
// Vectors and payloads live in one slice, so their counts cannot diverge.
type VectorIndex struct {
	mu      sync.RWMutex
	cfg     IndexConfig
	entries []Entry
	graph   *hnsw.Graph[uint64] // nil in flat mode
}

// NewVectorIndex creates an empty index.
func NewVectorIndex(cfg IndexConfig) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFlat
	}
	if _, err := ParseMetric(string(cfg.Metric)); err != nil {
		return nil, err
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.Oversample <= 0 {
		cfg.Oversample = 4
	}

	idx := &VectorIndex{cfg: cfg}
	idx.graph = idx.newGraph()
	return idx, nil
}

func (x *VectorIndex) newGraph() *hnsw.Graph[uint64] {
	if x.cfg.Mode != ModeHNSW {
		return nil
	}
	g := hnsw.NewGraph[uint64]()
	g.M = x.cfg.M
	g.EfSearch = x.cfg.EfSearch
	g.Ml = 0.25
	if x.cfg.Metric == MetricL2 {
		g.Distance = hnsw.EuclideanDistance
	} else {
		// dot uses cosine neighbours as candidates; rescoring is exact.
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// Add appends entries. Every vector is validated before anything is
// stored, so a rejected batch leaves the index unchanged.
func (x *VectorIndex) Add(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Vector) != x.cfg.Dimensions {
			return dimensionMismatch(x.cfg.Dimensions, len(e.Vector))
		}
	}

	prepared := make([]Entry, len(entries))
	for i, e := range entries {
		vec := slices.Clone(e.Vector)
		if x.cfg.Metric == MetricCosine {
			normalizeInPlace(vec)
		}
		prepared[i] = Entry{Vector: vec, Chunk: e.Chunk}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	base := uint64(len(x.entries))
	x.entries = append(x.entries, prepared...)
	x.addToGraph(base, prepared)
	return nil
}

func (x *VectorIndex) addToGraph(base uint64, entries []Entry) {
	if x.graph == nil {
		return
	}
	nodes := make([]hnsw.Node[uint64], 0, len(entries))
	for i, e := range entries {
		if isZero(e.Vector) {
			// zero vectors have no direction; flat rescoring still sees them
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(base+uint64(i), e.Vector))
	}
	if len(nodes) > 0 {
		x.graph.Add(nodes...)
	}
}

// Search returns the k entries most similar to query, best first. Ties
// keep insertion order. An empty index or k <= 0 yields an empty slice.
func (x *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.entries)
	if n == 0 || k <= 0 {
		return []Result{}, nil
	}
	if len(query) != x.cfg.Dimensions {
		return nil, dimensionMismatch(x.cfg.Dimensions, len(query))
	}

	q := slices.Clone(query)
	if x.cfg.Metric == MetricCosine {
		normalizeInPlace(q)
	}

	var candidates []int
	if x.graph != nil && n > k*x.cfg.Oversample && !isZero(q) {
		nodes := x.graph.Search(q, k*x.cfg.Oversample)
		candidates = make([]int, 0, len(nodes))
		for _, node := range nodes {
			candidates = append(candidates, int(node.Key))
		}
	} else {
		candidates = make([]int, n)
		for i := range candidates {
			candidates[i] = i
		}
	}

	type scored struct {
		pos   int
		score float32
	}
	hits := make([]scored, 0, len(candidates))
	for i, pos := range candidates {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		hits = append(hits, scored{pos: pos, score: x.score(q, x.entries[pos].Vector)})
	}

	slices.SortFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return a.pos - b.pos
		}
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		c := x.entries[h.pos].Chunk
		out[i] = Result{ID: c.ID, Text: c.Text, Title: c.Title, Source: c.Source, Type: c.Type, Score: h.score}
	}
	return out, nil
}

func (x *VectorIndex) score(q, v []float32) float32 {
	switch x.cfg.Metric {
	case MetricL2:
		var sum float64
		for i := range q {
			d := float64(q[i] - v[i])
			sum += d * d
		}
		return float32(1 / (1 + math.Sqrt(sum)))
	default:
		var dot float64
		for i := range q {
			dot += float64(q[i]) * float64(v[i])
		}
		return float32(dot)
	}
}

// Count returns the number of entries.
func (x *VectorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Dimensions returns the configured vector size.
func (x *VectorIndex) Dimensions() int { return x.cfg.Dimensions }

// Model returns the embedding model recorded for this index.
func (x *VectorIndex) Model() string { return x.cfg.Model }

// Config returns the effective configuration.
func (x *VectorIndex) Config() IndexConfig { return x.cfg }

// Titles returns the distinct chunk titles in insertion order.
func (x *VectorIndex) Titles() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	var titles []string
	for _, e := range x.entries {
		if _, ok := seen[e.Chunk.Title]; ok {
			continue
		}
		seen[e.Chunk.Title] = struct{}{}
		titles = append(titles, e.Chunk.Title)
	}
	return titles
}

// TitleStat summarizes the entries sharing one chunk title.
type TitleStat struct {
	Title  string
	Source string
	Type   string
	Chunks int
}

// TitleStats returns per-title chunk counts in insertion order.
func (x *VectorIndex) TitleStats() []TitleStat {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pos := make(map[string]int)
	var stats []TitleStat
	for _, e := range x.entries {
		i, ok := pos[e.Chunk.Title]
		if !ok {
			i = len(stats)
			pos[e.Chunk.Title] = i
			stats = append(stats, TitleStat{Title: e.Chunk.Title, Source: e.Chunk.Source, Type: e.Chunk.Type})
		}
		stats[i].Chunks++
	}
	return stats
}

// Reset drops every entry.
func (x *VectorIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = nil
	x.graph = x.newGraph()
	slog.Debug("vector_index_reset", slog.String("model", x.cfg.Model))
}

func (x *VectorIndex) replace(entries []Entry) {
	x.entries = entries
	x.graph = x.newGraph()
	x.addToGraph(0, entries)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
