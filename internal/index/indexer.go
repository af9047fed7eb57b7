// Package index drives the scan→hash→extract→chunk→embed→upsert
// pipeline. The unit of work is a folder scan; within a folder, files
// are processed one at a time, smallest first. At most one worker runs
// a given folder; concurrent enqueues collapse into a pending flag.
package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/chunk"
	"github.com/lodekb/lodestone/internal/embed"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/vector"
)

// Options configures the indexer.
type Options struct {
	// Root is the managed root directory on disk.
	Root string
	// Workers bounds concurrently scanned folders. Default: 2.
	Workers int
	// ChunkSize and ChunkOverlap are the token-window parameters.
	ChunkSize    int
	ChunkOverlap int
	// EmbeddingVersion tags new vectors; a bump fails change detection
	// for every file on its next scan.
	EmbeddingVersion int
	// PollInterval between sweeps for pending folders. Default: 10s.
	PollInterval time.Duration
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunk.DefaultSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = chunk.DefaultOverlap
	}
	if o.EmbeddingVersion <= 0 {
		o.EmbeddingVersion = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	return o
}

// folderState tracks the single-flight bookkeeping per folder.
type folderState struct {
	running bool
	pending bool
	force   bool
	retries int
}

// Indexer coordinates folder scans across a bounded worker pool.
type Indexer struct {
	store    store.MetadataStore
	vectors  vector.Store
	embedder embed.Embedder
	events   *bus.Bus
	opts     Options
	chunker  *chunk.Chunker
	logger   *slog.Logger
	sem      *semaphore.Weighted
	backoff  errors.Backoff

	mu      sync.Mutex
	folders map[string]*folderState
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New creates an indexer. The bus may be nil when no subscriber cares
// about progress.
func New(st store.MetadataStore, vs vector.Store, em embed.Embedder, events *bus.Bus, opts Options, logger *slog.Logger) *Indexer {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    st,
		vectors:  vs,
		embedder: em,
		events:   events,
		opts:     opts,
		chunker:  chunk.New(opts.ChunkSize, opts.ChunkOverlap),
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		backoff:  errors.DefaultBackoff(),
		folders:  make(map[string]*folderState),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue schedules a folder scan. A second enqueue while the folder
// is being processed collapses into exactly one additional scan.
func (ix *Indexer) Enqueue(folderPath string, force bool) {
	ix.mu.Lock()
	st := ix.folders[folderPath]
	if st == nil {
		st = &folderState{}
		ix.folders[folderPath] = st
	}
	st.pending = true
	st.force = st.force || force
	st.retries = 0
	ix.mu.Unlock()
	ix.signal()
}

// Reindex forces a full re-index of a folder, bypassing hash checks.
func (ix *Indexer) Reindex(ctx context.Context, folderPath string) error {
	if _, err := ix.store.GetFolder(ctx, folderPath); err != nil {
		return err
	}
	if err := ix.store.SetFolderIndexStatus(ctx, folderPath, store.IndexPending, ""); err != nil {
		return err
	}
	ix.Enqueue(folderPath, true)
	return nil
}

func (ix *Indexer) signal() {
	select {
	case ix.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until the context is cancelled. It
// first re-queues folders left in indexing by an unclean shutdown.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.recover(ctx)
	ix.poll(ctx)

	ticker := time.NewTicker(ix.opts.PollInterval)
	defer ticker.Stop()

	for {
		ix.dispatch(ctx)
		select {
		case <-ctx.Done():
			ix.wg.Wait()
			return ctx.Err()
		case <-ix.wake:
		case <-ticker.C:
			ix.poll(ctx)
		}
	}
}

// recover resets folders stuck in indexing from a previous process.
func (ix *Indexer) recover(ctx context.Context) {
	stuck, err := ix.store.ListFoldersWithStatus(ctx, store.IndexIndexing)
	if err != nil {
		ix.logger.Warn("startup recovery scan failed", "error", err)
		return
	}
	for _, f := range stuck {
		if err := ix.store.SetFolderIndexStatus(ctx, f.Path, store.IndexPending, ""); err != nil {
			ix.logger.Warn("reset stuck folder failed", "path", f.Path, "error", err)
		}
	}
}

// poll sweeps the store for folders awaiting a scan.
func (ix *Indexer) poll(ctx context.Context) {
	pending, err := ix.store.ListFoldersWithStatus(ctx, store.IndexPending)
	if err != nil {
		ix.logger.Warn("pending folder sweep failed", "error", err)
		return
	}
	for _, f := range pending {
		if f.IndexingEnabled {
			ix.Enqueue(f.Path, false)
		}
	}
}

func (ix *Indexer) dispatch(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for path, st := range ix.folders {
		if st.running || !st.pending {
			continue
		}
		st.running = true
		st.pending = false
		force := st.force
		st.force = false

		ix.wg.Add(1)
		go ix.runFolder(ctx, path, force)
	}
}

func (ix *Indexer) runFolder(ctx context.Context, folderPath string, force bool) {
	defer ix.wg.Done()
	if err := ix.sem.Acquire(ctx, 1); err != nil {
		ix.finishFolder(folderPath)
		return
	}
	defer ix.sem.Release(1)

	err := ix.processFolder(ctx, folderPath, force)
	switch {
	case err == nil || errors.IsCancelled(err):
	case errors.IsRetryable(err):
		ix.scheduleRetry(folderPath, force)
	default:
		ix.logger.Error("folder scan failed", "path", folderPath, "error", err)
	}
	ix.finishFolder(folderPath)
}

// finishFolder clears running and redispatches when an enqueue landed
// during the scan.
func (ix *Indexer) finishFolder(folderPath string) {
	ix.mu.Lock()
	st := ix.folders[folderPath]
	if st != nil {
		st.running = false
		if !st.pending {
			delete(ix.folders, folderPath)
		}
	}
	ix.mu.Unlock()
	ix.signal()
}

// scheduleRetry re-enqueues a folder after exponential backoff, up to
// the retry cap; past it the folder stays in error.
func (ix *Indexer) scheduleRetry(folderPath string, force bool) {
	ix.mu.Lock()
	st := ix.folders[folderPath]
	if st == nil {
		st = &folderState{}
		ix.folders[folderPath] = st
	}
	st.retries++
	retries := st.retries
	ix.mu.Unlock()

	if retries > ix.backoff.Retries {
		ix.logger.Error("folder scan retries exhausted", "path", folderPath, "retries", retries-1)
		return
	}
	delay := ix.backoff.Delay(retries - 1)
	ix.logger.Warn("folder scan will retry", "path", folderPath, "attempt", retries, "delay", delay)
	time.AfterFunc(delay, func() {
		ix.mu.Lock()
		st := ix.folders[folderPath]
		if st == nil {
			st = &folderState{}
			ix.folders[folderPath] = st
		}
		st.pending = true
		st.force = st.force || force
		if st.retries < retries {
			st.retries = retries
		}
		ix.mu.Unlock()
		ix.signal()
	})
}

func (ix *Indexer) publish(ev bus.Event) {
	if ix.events != nil {
		ix.events.Publish(ev)
	}
}
