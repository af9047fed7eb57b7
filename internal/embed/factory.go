package embed

import (
	"context"
	"log/slog"

	"github.com/lodekb/lodestone/internal/config"
)

// New builds the configured embedder, wrapped in an LRU cache. The
// ollama provider falls back to the static embedder when the model
// server is unreachable, so indexing keeps working offline.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) Embedder {
	if logger == nil {
		logger = slog.Default()
	}

	var inner Embedder
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder(cfg.Dimension)
	default:
		ollama := NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
			BatchSize:  cfg.BatchSize,
		})
		if ollama.Available(ctx) {
			inner = ollama
		} else {
			logger.Warn("ollama unreachable, falling back to static embedder",
				"host", cfg.OllamaHost, "model", cfg.Model)
			_ = ollama.Close()
			inner = NewStaticEmbedder(cfg.Dimension)
		}
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}
