package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments embeds code or prose passages.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single goal description.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig selects and configures the embedding backend.
type ProviderConfig struct {
	// Provider is "fastembed", "tei" or "none".
	Provider string `koanf:"provider" json:"provider"`
	Model    string `koanf:"model" json:"model"`
	// BaseURL is the TEI server (tei only).
	BaseURL string `koanf:"base_url" json:"base_url"`
	// CacheDir holds downloaded ONNX models (fastembed only).
	CacheDir string `koanf:"cache_dir" json:"cache_dir"`
	// MaxTokens truncates each input (fastembed only). Zero means 512.
	MaxTokens int `koanf:"max_tokens" json:"max_tokens"`
}

// DefaultModel is used when ProviderConfig.Model is empty.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// NewProvider builds the configured backend. Provider "none" returns
// (nil, nil) and the similarity metric falls back to lexical cosine.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	switch cfg.Provider {
	case "none":
		return nil, nil
	case "fastembed", "":
		p, err := NewFastEmbedProvider(model, cfg.CacheDir, cfg.MaxTokens, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		p, err := NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: model}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
