package embed

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/qanoon/internal/config"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	ProviderStatic ProviderType = "static"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider converts a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderStatic, ProviderOpenAI, ProviderOllama:
		return p, nil
	default:
		return "", fmt.Errorf("unknown embeddings provider %q (use static, openai, or ollama)", s)
	}
}

// NewEmbedder builds the configured provider wrapped in a ResilientEmbedder.
func NewEmbedder(cfg config.EmbeddingsConfig) (*ResilientEmbedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case ProviderOpenAI:
		if cfg.BaseURL == "" && cfg.APIKey == "" {
			return nil, fmt.Errorf("embeddings.provider openai needs base_url or api_key")
		}
		inner = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	}

	rc := DefaultResilientConfig()
	if cfg.MaxRetries >= 0 {
		rc.Retry.MaxRetries = cfg.MaxRetries
	}
	rc.RatePerSecond = cfg.RatePerSecond
	return NewResilientEmbedder(inner, rc), nil
}
