package qanoon

import (
	"github.com/Aman-CERP/qanoon/internal/embed"
	"github.com/Aman-CERP/qanoon/internal/generate"
	"github.com/Aman-CERP/qanoon/internal/index"
)

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	embedder      embed.Embedder
	streamClient  generate.StreamClient
	progress      index.ProgressFunc
	keepAlive     bool
	skipIndexLoad bool
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *openOptions) { o.embedder = e }
}

// WithStreamClient replaces the OpenAI-compatible generation client.
func WithStreamClient(c generate.StreamClient) Option {
	return func(o *openOptions) { o.streamClient = c }
}

// WithProgress receives build and update progress.
func WithProgress(fn index.ProgressFunc) Option {
	return func(o *openOptions) { o.progress = fn }
}

// WithKeepAlive starts the liveness keeper when the configuration enables it.
func WithKeepAlive(enabled bool) Option {
	return func(o *openOptions) { o.keepAlive = enabled }
}

// SkipIndexLoad opens with an empty index. Build and Update load the
// artifact themselves, so a mismatched or corrupt artifact does not block
// a rebuild.
func SkipIndexLoad() Option {
	return func(o *openOptions) { o.skipIndexLoad = true }
}
