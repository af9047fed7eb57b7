package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/errors"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "folder indexing pipeline")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "folder indexing pipeline")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestStaticEmbedderUnitLength(t *testing.T) {
	e := NewStaticEmbedder(128)
	vec, err := e.Embed(context.Background(), "some meaningful text")
	require.NoError(t, err)

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder(64)
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), vec)
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbedFailed, errors.KindOf(err))
	assert.False(t, e.Available(context.Background()))
}

func newOllamaTestServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/api/embed":
			if calls != nil {
				calls.Add(1)
			}
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			texts := req.Input.([]any)
			embeddings := make([][]float64, len(texts))
			for i := range texts {
				vec := make([]float64, dims)
				vec[i%dims] = 1
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: embeddings})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := newOllamaTestServer(t, 8, nil)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 8, BatchSize: 2})
	defer func() { _ = e.Close() }()

	assert.True(t, e.Available(context.Background()))

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 8)
	}
}

func TestOllamaDimensionMismatch(t *testing.T) {
	srv := newOllamaTestServer(t, 8, nil)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 16})
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbedFailed, errors.KindOf(err))
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 8})
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindEmbedFailed, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestOllamaUnreachableNotAvailable(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{Host: "http://127.0.0.1:1", Dimensions: 8})
	assert.False(t, e.Available(context.Background()))
}

func TestCachedEmbedderHitsSkipInner(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaTestServer(t, 8, &calls)
	defer srv.Close()

	inner := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 8})
	c := NewCachedEmbedder(inner, 16)
	defer func() { _ = c.Close() }()

	first, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaTestServer(t, 8, &calls)
	defer srv.Close()

	inner := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 8, BatchSize: 8})
	c := NewCachedEmbedder(inner, 16)

	_, err := c.Embed(context.Background(), "cached")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	// One call for the warmup, one for the single miss.
	assert.Equal(t, int64(2), calls.Load())
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewStaticEmbedder(32)
	c := NewCachedEmbedder(inner, 4)
	assert.Equal(t, 32, c.Dimensions())
	assert.Equal(t, "static-hash", c.ModelName())
	assert.True(t, c.Available(context.Background()))
}
