//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// fastembedBatch is how many passages go through the ONNX session at once.
const fastembedBatch = 64

var fastembedIDs = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
}

// FastEmbedProvider embeds in-process with an ONNX model. The goal is
// embedded as a query and workspace text as passages, which is how the
// BGE family expects asymmetric retrieval input.
type FastEmbedProvider struct {
	mu      sync.Mutex
	flag    *fastembed.FlagEmbedding
	model   knownModel
	metrics *embedMetrics
}

// NewFastEmbedProvider loads model from cacheDir, downloading it on first
// use. An empty cacheDir means <user cache>/cogpid/fastembed.
func NewFastEmbedProvider(model, cacheDir string, maxTokens int, logger *zap.Logger) (*FastEmbedProvider, error) {
	km, ok := lookupModel(model)
	if !ok {
		return nil, fmt.Errorf("%w: fastembed has no model %q", ErrInvalidConfig, model)
	}
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	quiet := false

	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembedIDs[km.name],
		CacheDir:             cacheDir,
		MaxLength:            maxTokens,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("loading fastembed model %s: %w", km.name, err)
	}
	return &FastEmbedProvider{
		flag:    flag,
		model:   km,
		metrics: newEmbedMetrics(km.name, logger),
	}, nil
}

// EmbedDocuments embeds workspace passages.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) (out [][]float32, err error) {
	defer p.metrics.observe(ctx, "documents", len(texts), time.Now(), &err)
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	out, err = p.flag.PassageEmbed(texts, fastembedBatch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return out, nil
}

// EmbedQuery embeds the goal.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) (out []float32, err error) {
	defer p.metrics.observe(ctx, "query", 1, time.Now(), &err)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	out, err = p.flag.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return out, nil
}

// Dimension implements Provider.
func (p *FastEmbedProvider) Dimension() int { return p.model.dims }

// Close frees the ONNX session. Later calls fail with ErrEmbeddingFailed.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil
	}
	err := p.flag.Destroy()
	p.flag = nil
	return err
}

var _ Provider = (*FastEmbedProvider)(nil)

func defaultCacheDir() string {
	return filepath.Join(userCacheDir(), "cogpid", "fastembed")
}
