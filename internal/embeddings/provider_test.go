package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "word2vec"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_None(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewProvider_FastEmbedUnknownModel(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "fastembed", Model: "acme/embedder"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_TEIRequiresURL(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "tei"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"intfloat/e5-large", 1024},
		{"nomic-ai/nomic-embed-text-v1.5", 384},
		{"baai/BGE-SMALL-ZH-v1.5", 512},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, modelDimension(tt.model))
		})
	}
}

func newTEIServer(t *testing.T, status int) (*httptest.Server, *[]teiRequest) {
	t.Helper()
	var seen []teiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req teiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		if status != http.StatusOK {
			http.Error(w, "model loading", status)
			return
		}
		n := 1
		if inputs, ok := req.Inputs.([]any); ok {
			n = len(inputs)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{float32(i), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	srv, seen := newTEIServer(t, http.StatusOK)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 1, 0}, vectors[1])
	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].Truncate)
	assert.Equal(t, 384, p.Dimension())
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	srv, _ := newTEIServer(t, http.StatusOK)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	v, err := p.EmbedQuery(context.Background(), "build a todo app")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, v)
}

func TestTEIProvider_Errors(t *testing.T) {
	srv, _ := newTEIServer(t, http.StatusServiceUnavailable)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
