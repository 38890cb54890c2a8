// Package store persists the vector index and its companion catalog.
//
// The index holds embedding vectors next to the chunk payload they were
// computed from. The catalog (SQLite) lists which records have been indexed
// and carries build checkpoints for resume.
package store

import (
	"fmt"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// Metric is the similarity function used for scoring.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

// Mode selects how Search finds candidates.
type Mode string

const (
	// ModeFlat scans every entry. Results are exact.
	ModeFlat Mode = "flat"
	// ModeHNSW takes candidates from an HNSW graph and rescores them exactly.
	ModeHNSW Mode = "hnsw"
)

// Entry pairs a vector with the chunk it was computed from.
type Entry struct {
	Vector []float32
	Chunk  chunk.Chunk
}

// Result is a single search hit. Higher Score is more similar.
type Result struct {
	ID     string
	Text   string
	Title  string
	Source string
	Type   string
	Score  float32
}

// IndexConfig configures a VectorIndex.
type IndexConfig struct {
	// Dimensions every vector must have.
	Dimensions int

	// Metric defaults to cosine.
	Metric Metric

	// Mode defaults to flat.
	Mode Mode

	// Model is the embedding model name recorded in the artifact and
	// checked on Load. Empty skips the check.
	Model string

	// M is the HNSW max connections per layer (default: 16).
	M int

	// EfSearch is the HNSW query-time search width (default: 64).
	EfSearch int

	// Oversample multiplies k for HNSW candidate generation (default: 4).
	Oversample int
}

// ParseMetric converts a config string to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2, MetricDot:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric %q (use cosine, l2, or dot)", s)
	}
}

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "", ModeFlat:
		return ModeFlat, nil
	case ModeHNSW:
		return m, nil
	default:
		return "", fmt.Errorf("unknown index mode %q (use flat or hnsw)", s)
	}
}

// Sentinels for errors.Is. QanoonError compares by code, so any error
// carrying the same code matches.
var (
	ErrIndexNotFound     = qerrors.New(qerrors.ErrCodeIndexNotFound, "index not found", nil)
	ErrDimensionMismatch = qerrors.New(qerrors.ErrCodeDimensionMismatch, "dimension mismatch", nil)
	ErrModelMismatch     = qerrors.New(qerrors.ErrCodeModelMismatch, "model mismatch", nil)
	ErrCorruptIndex      = qerrors.New(qerrors.ErrCodeCorruptIndex, "corrupt index", nil)
	ErrIndexLocked       = qerrors.New(qerrors.ErrCodeIndexLocked, "index locked", nil)
)

func dimensionMismatch(expected, got int) *qerrors.QanoonError {
	return qerrors.New(qerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("rebuild the index with 'qanoon build --force' or fix embeddings.dimensions")
}
