// Package embed generates dense vectors for chunk text. The Ollama
// backend is the default; a hash-based static embedder keeps indexing
// functional when no model server is reachable.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize bounds texts per embedding request.
	DefaultBatchSize = 32

	// DefaultDimensions matches nomic-embed-text.
	DefaultDimensions = 768

	// DefaultTimeout is the per-request embedding timeout.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks whether the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length in place.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return v
	}
	for i, x := range v {
		v[i] = float32(float64(x) / mag)
	}
	return v
}
