package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lodekb/lodestone/internal/errors"
)

const folderColumns = `path, indexing_enabled, index_status, index_error,
	sync_status, last_synced_at, last_sync_error,
	metadata_text, metadata_updated_by, created_at, updated_at`

// UpsertFolder creates the folder row if absent and returns it.
func (s *SQLiteStore) UpsertFolder(ctx context.Context, path string) (*Folder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (path, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO NOTHING`, path, now, now)
	if err != nil {
		return nil, wrapDB("upsert folder", err)
	}
	return s.GetFolder(ctx, path)
}

// GetFolder returns the folder row, or NotFound.
func (s *SQLiteStore) GetFolder(ctx context.Context, path string) (*Folder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE path = ?`, path)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "folder not found: %s", path)
	}
	if err != nil {
		return nil, wrapDB("get folder", err)
	}
	return f, nil
}

// ListFolders returns all folder rows ordered by path.
func (s *SQLiteStore) ListFolders(ctx context.Context) ([]*Folder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders ORDER BY path`)
	if err != nil {
		return nil, wrapDB("list folders", err)
	}
	defer rows.Close()
	return collectFolders(rows)
}

// ListFoldersWithStatus returns folders in the given index status,
// oldest update first so the poll loop drains fairly.
func (s *SQLiteStore) ListFoldersWithStatus(ctx context.Context, status IndexStatus) ([]*Folder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE index_status = ? ORDER BY updated_at, path`,
		string(status))
	if err != nil {
		return nil, wrapDB("list folders by status", err)
	}
	defer rows.Close()
	return collectFolders(rows)
}

// SetFolderEnabled flips indexing on or off. Enabling moves the folder
// to pending; disabling moves it to none.
func (s *SQLiteStore) SetFolderEnabled(ctx context.Context, path string, enabled bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	status := IndexNone
	if enabled {
		status = IndexPending
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE folders SET indexing_enabled = ?, index_status = ?, index_error = '', updated_at = ?
		WHERE path = ?`, enabled, string(status), time.Now().UTC(), path)
	if err != nil {
		return wrapDB("set folder enabled", err)
	}
	return requireRow(res, "folder", path)
}

// SetFolderIndexStatus records an index status transition.
func (s *SQLiteStore) SetFolderIndexStatus(ctx context.Context, path string, status IndexStatus, errMsg string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE folders SET index_status = ?, index_error = ?, updated_at = ?
		WHERE path = ?`, string(status), errMsg, time.Now().UTC(), path)
	if err != nil {
		return wrapDB("set folder index status", err)
	}
	return requireRow(res, "folder", path)
}

// SetFolderSyncStatus records a sync status transition. Reaching
// synced stamps last_synced_at.
func (s *SQLiteStore) SetFolderSyncStatus(ctx context.Context, path string, status SyncStatus, syncErr string) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if status == SyncSynced {
		res, err = s.db.ExecContext(ctx, `
			UPDATE folders SET sync_status = ?, last_sync_error = ?, last_synced_at = ?, updated_at = ?
			WHERE path = ?`, string(status), syncErr, now, now, path)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE folders SET sync_status = ?, last_sync_error = ?, updated_at = ?
			WHERE path = ?`, string(status), syncErr, now, path)
	}
	if err != nil {
		return wrapDB("set folder sync status", err)
	}
	return requireRow(res, "folder", path)
}

// SetFolderMetadata stores the free-form metadata text.
func (s *SQLiteStore) SetFolderMetadata(ctx context.Context, path, text, updatedBy string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE folders SET metadata_text = ?, metadata_updated_by = ?, updated_at = ?
		WHERE path = ?`, text, updatedBy, time.Now().UTC(), path)
	if err != nil {
		return wrapDB("set folder metadata", err)
	}
	return requireRow(res, "folder", path)
}

// DeleteFolder removes the folder row plus every contained file,
// chunk, sync source, and visibility entry in one transaction.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, path string) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("delete folder", err)
	}
	defer func() { _ = tx.Rollback() }()

	pattern := prefixPattern(path)
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM chunks WHERE file_path = ? OR file_path LIKE ? ESCAPE '\'`, []any{path, pattern}},
		{`DELETE FROM files WHERE folder_path = ? OR folder_path LIKE ? ESCAPE '\'`, []any{path, pattern}},
		{`DELETE FROM sync_sources WHERE folder_path = ? OR folder_path LIKE ? ESCAPE '\'`, []any{path, pattern}},
		{`DELETE FROM user_visibility WHERE folder_path = ? OR folder_path LIKE ? ESCAPE '\'`, []any{path, pattern}},
		{`DELETE FROM folders WHERE path = ? OR path LIKE ? ESCAPE '\'`, []any{path, pattern}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return wrapDB("delete folder", err)
		}
	}
	return wrapDB("delete folder", tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(r rowScanner) (*Folder, error) {
	var f Folder
	var status, syncStatus string
	var lastSynced sql.NullTime
	err := r.Scan(&f.Path, &f.IndexingEnabled, &status, &f.IndexError,
		&syncStatus, &lastSynced, &f.LastSyncError,
		&f.MetadataText, &f.MetadataUpdatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.IndexStatus = IndexStatus(status)
	f.SyncStatus = SyncStatus(syncStatus)
	if lastSynced.Valid {
		t := lastSynced.Time
		f.LastSyncedAt = &t
	}
	return &f, nil
}

func collectFolders(rows *sql.Rows) ([]*Folder, error) {
	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, wrapDB("scan folder", err)
		}
		out = append(out, f)
	}
	return out, wrapDB("iterate folders", rows.Err())
}

func requireRow(res sql.Result, entity, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("rows affected", err)
	}
	if n == 0 {
		return errors.Newf(errors.KindNotFound, "%s not found: %s", entity, path)
	}
	return nil
}
