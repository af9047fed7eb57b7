package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
	"github.com/lodekb/lodestone/internal/vector"
)

type action int

const (
	actionAdd action = iota
	actionUpdate
	actionDelete
)

// planItem is one file-level operation produced by reconciling the
// disk tree against the store.
type planItem struct {
	path   string
	abs    string
	size   int64
	action action
}

// processFolder runs one folder scan end to end.
func (ix *Indexer) processFolder(ctx context.Context, folderPath string, force bool) error {
	folder, err := ix.store.GetFolder(ctx, folderPath)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return nil
		}
		return err
	}
	if !folder.IndexingEnabled {
		return ix.purgeFolder(ctx, folderPath)
	}

	if err := ix.store.SetFolderIndexStatus(ctx, folderPath, store.IndexIndexing, ""); err != nil {
		return err
	}
	ix.publish(bus.IndexStatus{Path: folderPath, Status: string(store.IndexIndexing)})

	plan, err := ix.plan(ctx, folderPath)
	if err != nil {
		ix.markFolderError(ctx, folderPath, err)
		return err
	}

	var filesIndexed, totalChunks, failed int
	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.KindCancelled, "folder scan")
		}

		var itemErr error
		switch item.action {
		case actionDelete:
			itemErr = ix.deleteFile(ctx, item.path)
		default:
			var n int
			n, itemErr = ix.processFile(ctx, folderPath, item, force)
			if itemErr == nil && n >= 0 {
				filesIndexed++
				totalChunks += n
			}
		}

		switch {
		case itemErr == nil:
		case errors.IsCancelled(itemErr):
			return itemErr
		case errors.KindOf(itemErr) == errors.KindStoreUnavailable:
			// Store connectivity is fatal for the whole scan.
			ix.markFolderError(ctx, folderPath, itemErr)
			return itemErr
		default:
			failed++
			ix.logger.Warn("file indexing failed", "path", item.path, "error", itemErr)
			if err := ix.store.MarkFileStatus(ctx, item.path, store.IndexError, itemErr.Error()); err != nil {
				ix.logger.Warn("mark file error failed", "path", item.path, "error", err)
			}
		}
	}

	// The folder may have been disabled while the scan ran.
	folder, err = ix.store.GetFolder(ctx, folderPath)
	if err == nil && !folder.IndexingEnabled {
		return ix.purgeFolder(ctx, folderPath)
	}

	if err := ix.vectors.Save(); err != nil {
		ix.logger.Warn("vector index save failed", "error", err)
	}

	status := store.IndexIndexed
	errMsg := ""
	if failed > 0 {
		status = store.IndexError
		errMsg = fmt.Sprintf("%d files failed", failed)
	}
	if err := ix.store.SetFolderIndexStatus(ctx, folderPath, status, errMsg); err != nil {
		return err
	}
	ix.publish(bus.IndexStatus{Path: folderPath, Status: string(status), Error: errMsg})
	ix.publish(bus.IndexComplete{Path: folderPath, FilesIndexed: filesIndexed, TotalChunks: totalChunks})
	ix.logger.Info("folder scan complete", "path", folderPath,
		"files", filesIndexed, "chunks", totalChunks, "failed", failed)
	return nil
}

func (ix *Indexer) markFolderError(ctx context.Context, folderPath string, cause error) {
	if err := ix.store.SetFolderIndexStatus(ctx, folderPath, store.IndexError, cause.Error()); err != nil {
		ix.logger.Warn("mark folder error failed", "path", folderPath, "error", err)
	}
	ix.publish(bus.IndexStatus{Path: folderPath, Status: string(store.IndexError), Error: cause.Error()})
}

// purgeFolder removes a disabled folder's vectors and resets its
// files; the rows stay so re-enabling re-indexes from scratch.
func (ix *Indexer) purgeFolder(ctx context.Context, folderPath string) error {
	if _, err := ix.vectors.DeleteByFilter(ctx, vector.Filter{FolderPrefix: folderPath}); err != nil {
		return err
	}
	files, err := ix.store.ListFilesUnder(ctx, folderPath)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ix.store.DeleteChunks(ctx, f.Path); err != nil {
			return err
		}
		if err := ix.store.MarkFileStatus(ctx, f.Path, store.IndexNone, ""); err != nil {
			return err
		}
	}
	if err := ix.store.SetFolderIndexStatus(ctx, folderPath, store.IndexNone, ""); err != nil {
		return err
	}
	ix.publish(bus.IndexStatus{Path: folderPath, Status: string(store.IndexNone)})
	return nil
}

// plan reconciles the disk subtree against the store. Deletions come
// first; additions and updates follow smallest file first, so quick
// wins surface early in the progress feed.
func (ix *Indexer) plan(ctx context.Context, folderPath string) ([]planItem, error) {
	onDisk, err := ix.scanDisk(folderPath)
	if err != nil {
		return nil, err
	}
	known, err := ix.store.ListFilesUnder(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	knownByPath := make(map[string]*store.File, len(known))
	for _, f := range known {
		knownByPath[f.Path] = f
	}

	var deletes, upserts []planItem
	for _, item := range onDisk {
		if _, ok := knownByPath[item.path]; ok {
			item.action = actionUpdate
		} else {
			item.action = actionAdd
		}
		delete(knownByPath, item.path)
		upserts = append(upserts, item)
	}
	for path := range knownByPath {
		deletes = append(deletes, planItem{path: path, action: actionDelete})
	}

	sort.Slice(deletes, func(i, j int) bool { return deletes[i].path < deletes[j].path })
	sort.Slice(upserts, func(i, j int) bool {
		if upserts[i].size != upserts[j].size {
			return upserts[i].size < upserts[j].size
		}
		return upserts[i].path < upserts[j].path
	})
	return append(deletes, upserts...), nil
}

// scanDisk enumerates regular files under the folder, skipping
// ignored names and symlinks.
func (ix *Indexer) scanDisk(folderPath string) ([]planItem, error) {
	root := filepath.Join(ix.opts.Root, filepath.FromSlash(folderPath))
	info, err := os.Lstat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindInvalidPath, "stat folder")
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.KindInvalidPath, "%s is not a directory", folderPath)
	}

	var items []planItem
	walkErr := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(ix.opts.Root, abs)
		if relErr != nil {
			return nil
		}
		logical := filepath.ToSlash(rel)
		if logical != folderPath && validation.IsIgnored(logical) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		items = append(items, planItem{path: logical, abs: abs, size: fi.Size()})
		return nil
	})
	if walkErr != nil {
		return nil, errors.Wrap(walkErr, errors.KindInternal, "walk folder")
	}
	return items, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
