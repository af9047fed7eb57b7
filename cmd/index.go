package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodekb/lodestone/internal/index"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [folder...]",
		Short: "Index folders and exit",
		Long: `Index runs a one-shot scan of the named folders, or of every
enabled folder when none are given. Folders named on the command line
are registered and enabled first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reprocess files even when their content hash is unchanged")
	return cmd
}

func runIndex(ctx context.Context, args []string, force bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	targets, err := indexTargets(ctx, a, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("no enabled folders to index")
		return nil
	}

	ix := index.New(a.store, a.vectors, a.embedder, nil, index.Options{
		Root:             a.cfg.Paths.Root,
		Workers:          a.cfg.Indexing.Workers,
		ChunkSize:        a.cfg.Indexing.ChunkSize,
		ChunkOverlap:     a.cfg.Indexing.ChunkOverlap,
		EmbeddingVersion: a.cfg.Embedding.Version,
		PollInterval:     a.cfg.Indexing.PollInterval,
	}, a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ignoreCancel(ix.Run(runCtx)) }()

	for _, folder := range targets {
		ix.Enqueue(folder, force)
	}

	if err := waitSettled(ctx, a, targets); err != nil {
		cancel()
		<-done
		return err
	}
	cancel()
	if err := <-done; err != nil {
		return err
	}

	return printIndexSummary(ctx, a, targets)
}

// indexTargets resolves the folder list: explicit args are registered
// and enabled, no args means every enabled folder.
func indexTargets(ctx context.Context, a *app, args []string) ([]string, error) {
	if len(args) == 0 {
		folders, err := a.store.ListFolders(ctx)
		if err != nil {
			return nil, err
		}
		var targets []string
		for _, f := range folders {
			if f.IndexingEnabled {
				targets = append(targets, f.Path)
			}
		}
		return targets, nil
	}

	targets := make([]string, 0, len(args))
	for _, arg := range args {
		folder, err := validation.NormalizePath(arg)
		if err != nil {
			return nil, err
		}
		if _, err := a.store.UpsertFolder(ctx, folder); err != nil {
			return nil, err
		}
		if err := a.store.SetFolderEnabled(ctx, folder, true); err != nil {
			return nil, err
		}
		targets = append(targets, folder)
	}
	return targets, nil
}

// waitSettled polls until every target folder leaves the pending and
// indexing states.
func waitSettled(ctx context.Context, a *app, targets []string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		settled := true
		for _, folder := range targets {
			f, err := a.store.GetFolder(ctx, folder)
			if err != nil {
				return err
			}
			if f.IndexStatus == store.IndexPending || f.IndexStatus == store.IndexIndexing {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
	}
}

func printIndexSummary(ctx context.Context, a *app, targets []string) error {
	var failed int
	for _, folder := range targets {
		f, err := a.store.GetFolder(ctx, folder)
		if err != nil {
			return err
		}
		if f.IndexStatus == store.IndexError {
			failed++
			fmt.Printf("%-40s error: %s\n", folder, f.IndexError)
			continue
		}
		fmt.Printf("%-40s %s\n", folder, f.IndexStatus)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d folders failed", failed, len(targets))
	}
	return nil
}
