package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lodekb/lodestone/internal/config"
	"github.com/lodekb/lodestone/internal/embed"
	"github.com/lodekb/lodestone/internal/logging"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/vector"
)

// app bundles the storage and embedding layers shared by every
// command that touches the index.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.MetadataStore
	vectors  vector.Store
	embedder embed.Embedder

	logCleanup func()
}

// openApp loads configuration and opens the metadata store, vector
// store, and embedder. Callers must Close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.Logging.File
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.Data, 0o755); err != nil {
		logCleanup()
		return nil, fmt.Errorf("create data dir %s: %w", cfg.Paths.Data, err)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		logCleanup()
		return nil, err
	}

	vs, err := vector.New(vector.DefaultConfig(cfg.Embedding.Dimension), cfg.VectorPath())
	if err != nil {
		_ = st.Close()
		logCleanup()
		return nil, err
	}

	em := embed.New(ctx, cfg.Embedding, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		vectors:    vs,
		embedder:   em,
		logCleanup: logCleanup,
	}, nil
}

func (a *app) Close() {
	if err := a.vectors.Save(); err != nil {
		a.logger.Warn("vector index save failed", "error", err)
	}
	_ = a.embedder.Close()
	_ = a.vectors.Close()
	_ = a.store.Close()
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
