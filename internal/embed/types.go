// Package embed converts text to fixed-dimension vectors through a local or
// remote embedding provider.
//
// Providers are unreliable by nature. Callers never use a provider directly;
// the factory always returns it wrapped in a ResilientEmbedder, which retries
// transient failures with backoff and paces requests.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions matches all-MiniLM-L6-v2, the reference model for the corpus.
	DefaultDimensions = 384

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultRequestBatch caps the texts sent in one provider request. Larger
	// EmbedBatch inputs are split.
	DefaultRequestBatch = 64

	// DefaultEmbeddingCacheSize is the number of query embeddings kept in memory.
	// At 384 dimensions * 4 bytes * 1000 entries ~ 1.5MB.
	DefaultEmbeddingCacheSize = 1000
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
