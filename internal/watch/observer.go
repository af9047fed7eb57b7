package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lodekb/lodestone/internal/validation"
)

// Observer watches the managed root recursively and emits debounced
// event batches. Directory deletion produces one event for the
// directory itself; contained files are implicit.
type Observer struct {
	root      string
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// NewObserver creates an observer for the managed root directory.
func NewObserver(root string, opts Options, logger *slog.Logger) (*Observer, error) {
	opts = opts.WithDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve managed root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		root:      abs,
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce, opts.BufferSize),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Events returns the channel of debounced event batches.
func (o *Observer) Events() <-chan []Event {
	return o.debouncer.Output()
}

// Run watches until the context is cancelled or Stop is called.
func (o *Observer) Run(ctx context.Context) error {
	if err := o.addRecursive(o.root); err != nil {
		return fmt.Errorf("watch managed root: %w", err)
	}
	o.logger.Info("filesystem observer started", "root", o.root)

	for {
		select {
		case <-ctx.Done():
			_ = o.Stop()
			return ctx.Err()
		case <-o.stopCh:
			return nil
		case event, ok := <-o.fsw.Events:
			if !ok {
				return nil
			}
			o.handle(event)
		case err, ok := <-o.fsw.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("watcher error", "error", err)
		}
	}
}

func (o *Observer) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(o.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	logical := filepath.ToSlash(rel)
	if validation.IsIgnored(logical) {
		return
	}

	info, statErr := os.Lstat(event.Name)
	isDir := statErr == nil && info.IsDir()
	// Symlinks are outside the managed model.
	if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		return
	}

	var op Op
	var fp *fingerprint
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreated
		if isDir {
			// New directories join the watch set; their contents
			// arrive as separate create events.
			_ = o.addRecursive(event.Name)
		}
		if statErr == nil && !isDir {
			fp = &fingerprint{size: info.Size(), mtime: info.ModTime().UnixNano()}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModified
		if statErr == nil && !isDir {
			fp = &fingerprint{size: info.Size(), mtime: info.ModTime().UnixNano()}
		}
	case event.Op&fsnotify.Remove != 0:
		op = OpDeleted
		// The path is gone; the fingerprint resolves from history.
		isDir = strings.HasSuffix(event.Name, string(os.PathSeparator)) || o.wasWatchedDir(event.Name)
	case event.Op&fsnotify.Rename != 0:
		// The old name disappearing surfaces as a delete; the new
		// name's create correlates into a moved event.
		op = OpDeleted
		isDir = o.wasWatchedDir(event.Name)
	default:
		return
	}

	o.debouncer.Add(Event{
		Path:      logical,
		AbsPath:   event.Name,
		Op:        op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	}, fp)
}

// wasWatchedDir reports whether the (now absent) path was a directory
// we had under watch.
func (o *Observer) wasWatchedDir(abs string) bool {
	for _, watched := range o.fsw.WatchList() {
		if watched == abs {
			return true
		}
	}
	return false
}

func (o *Observer) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(o.root, path)
		if relErr == nil && rel != "." && validation.IsIgnored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return o.fsw.Add(path)
	})
}

// Stop stops the observer. Safe to call multiple times.
func (o *Observer) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil
	}
	o.stopped = true
	close(o.stopCh)
	o.debouncer.Stop()
	return o.fsw.Close()
}
