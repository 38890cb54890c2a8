package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by feature hashing words and character
// trigrams. It needs no network or model download and is fully
// deterministic, so it backs offline mode and tests. Semantic quality is
// lexical only.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// legalStopWords are high-frequency words in statutes that carry no signal.
var legalStopWords = map[string]bool{
	"the": true, "of": true, "and": true, "or": true, "to": true,
	"a": true, "an": true, "in": true, "be": true, "by": true,
	"for": true, "with": true, "any": true, "such": true, "shall": true,
	"is": true, "as": true, "on": true, "which": true, "may": true,
}

const (
	wordWeight  = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder producing dims-dimensional
// vectors. dims <= 0 selects DefaultDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates the embedding for a single text. Blank text yields a zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return e.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *StaticEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return v
	}

	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if legalStopWords[w] {
			continue
		}
		v[hashToIndex(w, e.dims)] += wordWeight
	}

	runes := []rune(strings.Join(words, " "))
	for i := 0; i+ngramSize <= len(runes); i++ {
		v[hashToIndex(string(runes[i:i+ngramSize]), e.dims)] += ngramWeight
	}

	return normalizeVector(v)
}

// hashToIndex maps s to a vector slot with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return fmt.Sprintf("static-%d", e.dims) }

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
