package store

import (
	"context"
	"database/sql"

	"github.com/lodekb/lodestone/internal/errors"
)

const fileColumns = `path, folder_path, size, mtime, content_hash, indexed_hash,
	mime, index_status, indexed_at, embedding_version, chunk_count,
	error_message, metadata_text, metadata_updated_by`

// UpsertFile inserts or updates the observable attributes of a file.
// Index bookkeeping columns (indexed_hash, chunk_count, ...) are only
// written by the indexer through SwapChunks and MarkFileStatus. A
// re-upsert with an unchanged content hash keeps the existing status,
// so repeated scans of an unchanged file stay indexed.
func (s *SQLiteStore) UpsertFile(ctx context.Context, f *File) error {
	if err := s.guard(); err != nil {
		return err
	}
	if f.IndexStatus == "" {
		f.IndexStatus = IndexPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, folder_path, size, mtime, content_hash, mime, index_status, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, -1)
		ON CONFLICT(path) DO UPDATE SET
			folder_path = excluded.folder_path,
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			mime = excluded.mime,
			index_status = CASE
				WHEN files.content_hash = excluded.content_hash THEN files.index_status
				ELSE excluded.index_status
			END`,
		f.Path, f.FolderPath, f.Size, f.MTime.UTC(), f.ContentHash, f.MIME, string(f.IndexStatus))
	return wrapDB("upsert file", err)
}

// GetFile returns the file row, or NotFound.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*File, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "file not found: %s", path)
	}
	if err != nil {
		return nil, wrapDB("get file", err)
	}
	return f, nil
}

// ListFiles returns the files directly inside folderPath.
func (s *SQLiteStore) ListFiles(ctx context.Context, folderPath string) ([]*File, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE folder_path = ? ORDER BY path`, folderPath)
	if err != nil {
		return nil, wrapDB("list files", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListFilesUnder returns every file at or below prefix. An empty
// prefix returns all files.
func (s *SQLiteStore) ListFilesUnder(ctx context.Context, prefix string) ([]*File, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var rows *sql.Rows
	var err error
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+fileColumns+` FROM files
			WHERE folder_path = ? OR folder_path LIKE ? ESCAPE '\'
			ORDER BY path`, prefix, prefixPattern(prefix))
	}
	if err != nil {
		return nil, wrapDB("list files under", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// MarkFileStatus records an index status transition for one file.
func (s *SQLiteStore) MarkFileStatus(ctx context.Context, path string, status IndexStatus, errMsg string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET index_status = ?, error_message = ? WHERE path = ?`,
		string(status), errMsg, path)
	if err != nil {
		return wrapDB("mark file status", err)
	}
	return requireRow(res, "file", path)
}

// SetFileMetadata stores the free-form metadata text.
func (s *SQLiteStore) SetFileMetadata(ctx context.Context, path, text, updatedBy string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET metadata_text = ?, metadata_updated_by = ? WHERE path = ?`,
		text, updatedBy, path)
	if err != nil {
		return wrapDB("set file metadata", err)
	}
	return requireRow(res, "file", path)
}

// DeleteFile removes the file row and its chunks in one transaction.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("delete file", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return wrapDB("delete file chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return wrapDB("delete file", err)
	}
	return wrapDB("delete file", tx.Commit())
}

func scanFile(r rowScanner) (*File, error) {
	var f File
	var status string
	var indexedAt sql.NullTime
	err := r.Scan(&f.Path, &f.FolderPath, &f.Size, &f.MTime, &f.ContentHash,
		&f.IndexedHash, &f.MIME, &status, &indexedAt, &f.EmbeddingVersion,
		&f.ChunkCount, &f.ErrorMessage, &f.MetadataText, &f.MetadataUpdatedBy)
	if err != nil {
		return nil, err
	}
	f.IndexStatus = IndexStatus(status)
	if indexedAt.Valid {
		t := indexedAt.Time
		f.IndexedAt = &t
	}
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*File, error) {
	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, wrapDB("scan file", err)
		}
		out = append(out, f)
	}
	return out, wrapDB("iterate files", rows.Err())
}
