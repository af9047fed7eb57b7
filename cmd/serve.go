package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/index"
	"github.com/lodekb/lodestone/internal/mcp"
	"github.com/lodekb/lodestone/internal/search"
	"github.com/lodekb/lodestone/internal/server"
	"github.com/lodekb/lodestone/internal/syncsrc"
	"github.com/lodekb/lodestone/internal/watch"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher, indexer, sync engine, and servers",
		Long: `Serve runs the full pipeline: the filesystem observer feeds the
indexer, the sync engine mirrors remote sources, and search is exposed
over HTTP, WebSocket, and MCP. Only one instance may run per data
directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	lock := flock.New(a.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", a.cfg.LockPath(), err)
	}
	if !locked {
		return fmt.Errorf("another lodestone instance holds %s", a.cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	events := bus.New()
	defer events.Close()

	ix := index.New(a.store, a.vectors, a.embedder, events, index.Options{
		Root:             a.cfg.Paths.Root,
		Workers:          a.cfg.Indexing.Workers,
		ChunkSize:        a.cfg.Indexing.ChunkSize,
		ChunkOverlap:     a.cfg.Indexing.ChunkOverlap,
		EmbeddingVersion: a.cfg.Embedding.Version,
		PollInterval:     a.cfg.Indexing.PollInterval,
	}, a.logger)

	syncer := syncsrc.NewEngine(a.store, events, syncsrc.Options{
		Root:        a.cfg.Paths.Root,
		Interval:    a.cfg.Sync.Interval,
		RunDeadline: a.cfg.Sync.RunDeadline,
	}, a.logger)

	engine := search.New(a.store, a.vectors, a.embedder, a.logger)
	httpSrv := server.New(a.store, engine, ix, syncer, events, a.cfg.Paths.Root, a.logger)
	mcpSrv := mcp.NewServer(engine, a.store, httpSrv.RawURI, a.logger)

	observer, err := watch.NewObserver(a.cfg.Paths.Root, watch.Options{
		Debounce: a.cfg.Watch.Debounce,
	}, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("lodestone starting",
		"root", a.cfg.Paths.Root,
		"http_port", a.cfg.Server.HTTPPort,
		"mcp_transport", a.cfg.Server.MCPTransport,
		"embedder", a.embedder.ModelName())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer observer.Stop()
		return ignoreCancel(observer.Run(ctx))
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case batch, ok := <-observer.Events():
				if !ok {
					return nil
				}
				if err := ix.HandleEvents(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Warn("event batch failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error { return ignoreCancel(ix.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(syncer.Run(ctx)) })
	g.Go(func() error {
		return ignoreCancel(httpSrv.Serve(ctx, fmt.Sprintf(":%d", a.cfg.Server.HTTPPort)))
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", a.cfg.Server.MCPPort)
		return ignoreCancel(mcpSrv.Serve(ctx, a.cfg.Server.MCPTransport, addr))
	})

	err = g.Wait()
	a.logger.Info("lodestone stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
