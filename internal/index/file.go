package index

import (
	"context"
	"os"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/extract"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
	"github.com/lodekb/lodestone/internal/vector"
	"github.com/lodekb/lodestone/internal/watch"
)

// processFile indexes one file. The chunk count is returned for the
// folder summary; -1 means the file was skipped unchanged. The state
// store commits before the vector upsert: on vector failure the chunk
// rows stay authoritative and the file is marked error pending retry.
func (ix *Indexer) processFile(ctx context.Context, folderPath string, item planItem, force bool) (int, error) {
	data, err := os.ReadFile(item.abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with a delete; the next scan reconciles.
			return -1, nil
		}
		return -1, errors.Wrap(err, errors.KindPermissionDenied, "read file")
	}

	fi, err := os.Stat(item.abs)
	if err != nil {
		return -1, nil
	}

	hash := hashBytes(data)
	mime := extract.DetectMIME(item.path, data)

	row, err := ix.store.GetFile(ctx, item.path)
	if err != nil && errors.KindOf(err) != errors.KindNotFound {
		return -1, err
	}

	file := &store.File{
		Path:        item.path,
		FolderPath:  validation.FolderOf(item.path),
		Size:        fi.Size(),
		MTime:       fi.ModTime().UTC(),
		ContentHash: hash,
		MIME:        mime,
	}
	if err := ix.store.UpsertFile(ctx, file); err != nil {
		return -1, err
	}

	if !force && row != nil && !ix.needsIndex(row, hash) {
		return -1, nil
	}

	res, err := extract.Extract(data, item.path)
	if err != nil {
		return -1, err
	}

	pieces := ix.chunker.Split(res.Text, res.Breaks)
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return -1, err
		}
	}

	version := ix.opts.EmbeddingVersion
	chunks := make([]*store.Chunk, len(pieces))
	points := make([]*vector.Point, len(pieces))
	for i, p := range pieces {
		id := vector.PointID(item.path, p.Ordinal, version)
		chunks[i] = &store.Chunk{
			FilePath:         item.path,
			Ordinal:          p.Ordinal,
			Text:             p.Text,
			TokenCount:       p.TokenCount,
			CharStart:        p.CharStart,
			CharEnd:          p.CharEnd,
			EmbeddingVersion: version,
			DenseVectorID:    id,
		}
		points[i] = &vector.Point{
			ID:    id,
			Dense: vecs[i],
			Payload: vector.Payload{
				FilePath:   item.path,
				FolderPath: validation.FolderOf(item.path),
				Ordinal:    p.Ordinal,
				Text:       p.Text,
				TokenCount: p.TokenCount,
				FileMIME:   mime,
			},
		}
	}

	if err := ix.store.SwapChunks(ctx, item.path, chunks, hash, version); err != nil {
		return -1, err
	}

	// Stale ordinals from a longer previous version must go before the
	// new points land.
	if _, err := ix.vectors.DeleteByFilter(ctx, vector.Filter{FilePath: item.path}); err != nil {
		return -1, ix.vectorFailure(ctx, item.path, err)
	}
	if len(points) > 0 {
		if err := ix.vectors.Upsert(ctx, points); err != nil {
			return -1, ix.vectorFailure(ctx, item.path, err)
		}
	}
	return len(chunks), nil
}

// vectorFailure reverts the indexed transition committed by SwapChunks
// so the retry scan reprocesses the file instead of skipping it with
// vectors missing.
func (ix *Indexer) vectorFailure(ctx context.Context, path string, cause error) error {
	if err := ix.store.MarkFileStatus(ctx, path, store.IndexError, cause.Error()); err != nil {
		ix.logger.Warn("mark file error failed", "path", path, "error", err)
	}
	return cause
}

// needsIndex is the change-detection rule: the content hash moved, the
// chunk count is unknown, or the embedding version was bumped.
func (ix *Indexer) needsIndex(row *store.File, hash string) bool {
	if row.IndexStatus != store.IndexIndexed {
		return true
	}
	if row.IndexedHash != hash {
		return true
	}
	if row.ChunkCount < 0 {
		return true
	}
	return row.EmbeddingVersion != ix.opts.EmbeddingVersion
}

// deleteFile removes a file's vectors first, then its state rows, so a
// concurrent search sees the file fully or not at all.
func (ix *Indexer) deleteFile(ctx context.Context, path string) error {
	if _, err := ix.vectors.DeleteByFilter(ctx, vector.Filter{FilePath: path}); err != nil {
		return err
	}
	if err := ix.store.DeleteFile(ctx, path); err != nil && errors.KindOf(err) != errors.KindNotFound {
		return err
	}
	return nil
}

// HandleEvents applies a debounced observer batch: it mirrors
// deletions into both stores immediately and enqueues the affected
// folders for a scan.
func (ix *Indexer) HandleEvents(ctx context.Context, events []watch.Event) error {
	touched := make(map[string]struct{})
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.KindCancelled, "handle events")
		}
		ix.publish(bus.FileChanged{Type: ev.Op.String(), Path: ev.Path, OldPath: ev.OldPath, IsDir: ev.IsDir})

		switch ev.Op {
		case watch.OpDeleted:
			if ev.IsDir {
				if err := ix.deleteTree(ctx, ev.Path); err != nil {
					return err
				}
				continue
			}
			if err := ix.deleteFile(ctx, ev.Path); err != nil {
				return err
			}
		case watch.OpMoved:
			if !ev.IsDir {
				if err := ix.deleteFile(ctx, ev.OldPath); err != nil {
					return err
				}
			}
			touched[ix.enclosingFolder(ctx, ev.Path, ev.IsDir)] = struct{}{}
		default:
			touched[ix.enclosingFolder(ctx, ev.Path, ev.IsDir)] = struct{}{}
		}
	}

	for folder := range touched {
		if folder == "" {
			continue
		}
		if err := ix.store.SetFolderIndexStatus(ctx, folder, store.IndexPending, ""); err != nil {
			ix.logger.Warn("mark folder pending failed", "path", folder, "error", err)
			continue
		}
		ix.Enqueue(folder, false)
	}
	return nil
}

// deleteTree removes every file and folder row under path along with
// their vectors.
func (ix *Indexer) deleteTree(ctx context.Context, path string) error {
	if _, err := ix.vectors.DeleteByFilter(ctx, vector.Filter{FolderPrefix: path}); err != nil {
		return err
	}
	if err := ix.store.DeleteFolder(ctx, path); err != nil && errors.KindOf(err) != errors.KindNotFound {
		return err
	}
	return nil
}

// enclosingFolder resolves the registered folder that owns a path,
// nearest known ancestor first, registering the top-level folder on
// first sight. Paths under a disabled folder are not enqueued.
func (ix *Indexer) enclosingFolder(ctx context.Context, path string, isDir bool) string {
	candidates := validation.Ancestors(path)
	if isDir {
		candidates = append([]string{path}, candidates...)
	}
	for _, candidate := range candidates {
		if f, err := ix.store.GetFolder(ctx, candidate); err == nil {
			if !f.IndexingEnabled {
				return ""
			}
			return f.Path
		}
	}

	top := validation.TopLevel(path)
	if top == "" && isDir {
		top = path
	}
	if top == "" {
		return ""
	}
	// Register the folder so it shows up for enabling; it is not
	// scanned until someone turns indexing on.
	if _, err := ix.store.UpsertFolder(ctx, top); err != nil {
		ix.logger.Warn("register folder failed", "path", top, "error", err)
	}
	return ""
}
