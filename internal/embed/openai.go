package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// OpenAIConfig configures an embedder for any OpenAI-compatible /embeddings
// endpoint (OpenAI, Hugging Face text-embeddings-inference, Ollama /v1).
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Dimensions   int
	Timeout      time.Duration
	RequestBatch int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIEmbedder implements Embedder over the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	config OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. The client's own
// retry loop is disabled; retries belong to ResilientEmbedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestBatch <= 0 {
		cfg.RequestBatch = DefaultRequestBatch
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// local servers ignore the key, but the client requires one
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &OpenAIEmbedder{client: openai.NewClient(opts...), config: cfg}
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized slices, preserving input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.config.RequestBatch {
		end := min(start+e.config.RequestBatch, len(texts))
		vecs, err := e.call(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		copy(results[start:], vecs)
	}
	return results, nil
}

func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Model:          e.config.Model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyOpenAIError(err)
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(texts)) {
			return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("unexpected embedding index %d for batch size %d", item.Index, len(texts)), nil)
		}
		if len(item.Embedding) != e.config.Dimensions {
			return nil, qerrors.New(qerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s returned %d dimensions, configured %d", e.config.Model, len(item.Embedding), e.config.Dimensions), nil)
		}
		vecs[item.Index] = normalizeVector(toFloat32(item.Embedding))
	}
	for i, v := range vecs {
		if v == nil {
			return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed, fmt.Sprintf("missing embedding for index %d", i), nil)
		}
	}
	return vecs, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return qerrors.FromStatus(apiErr.StatusCode, apiErr.Message, err)
	}
	return qerrors.FromTransport(err)
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available issues a one-word embedding request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.call(ctx, []string{"ping"})
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
