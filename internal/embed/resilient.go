package embed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// ResilientConfig configures ResilientEmbedder.
type ResilientConfig struct {
	// Retry controls backoff between attempts.
	Retry qerrors.RetryConfig

	// RatePerSecond paces provider requests; 0 disables pacing.
	RatePerSecond float64

	// Burst is the limiter bucket size (default: 1).
	Burst int
}

// DefaultResilientConfig retries transient failures 3 times starting at 500ms.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Retry: qerrors.RetryConfig{
			MaxRetries:   DefaultMaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// ResilientEmbedder is the retry wrapper every embedding call goes through.
// Transient failures (timeouts, rate limits, upstream 5xx, dropped
// connections) are retried with exponential backoff; anything else fails on
// the first attempt. Exhausted retries surface as ERR_502_EMBEDDING_FAILED,
// keeping the last cause in the chain.
type ResilientEmbedder struct {
	inner   Embedder
	cfg     ResilientConfig
	limiter *rate.Limiter
}

var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner.
func NewResilientEmbedder(inner Embedder, cfg ResilientConfig) *ResilientEmbedder {
	r := &ResilientEmbedder{inner: inner, cfg: cfg}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

// Embed embeds one text with retries.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return withRetry(ctx, r, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch embeds texts with retries. The whole batch is retried as a unit.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return withRetry(ctx, r, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

func withRetry[T any](ctx context.Context, r *ResilientEmbedder, fn func() (T, error)) (T, error) {
	attempt := 0
	result, err := qerrors.RetryWithResultIf(ctx, r.cfg.Retry, qerrors.IsRetryable, func() (T, error) {
		var zero T
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		v, err := fn()
		if err != nil && qerrors.IsRetryable(err) {
			slog.Warn("embedding_attempt_failed",
				slog.String("model", r.inner.ModelName()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return v, err
	})
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if qerrors.IsRetryable(err) {
		return result, qerrors.New(qerrors.ErrCodeEmbeddingFailed, "embedding provider unavailable after retries", err).
			WithDetail("model", r.inner.ModelName()).
			WithSuggestion("check that the embedding server is running and reachable")
	}
	return result, err
}

// Inner returns the wrapped embedder.
func (r *ResilientEmbedder) Inner() Embedder { return r.inner }

// Dimensions returns the embedding dimension.
func (r *ResilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the model identifier.
func (r *ResilientEmbedder) ModelName() string { return r.inner.ModelName() }

// Available passes through to the inner embedder.
func (r *ResilientEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *ResilientEmbedder) Close() error { return r.inner.Close() }
