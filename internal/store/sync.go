package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lodekb/lodestone/internal/errors"
)

// GetSyncSource returns the sync source for a folder, or NotFound.
func (s *SQLiteStore) GetSyncSource(ctx context.Context, folderPath string) (*SyncSource, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT folder_path, provider, config, created_at, updated_at
		FROM sync_sources WHERE folder_path = ?`, folderPath)
	var src SyncSource
	var cfg string
	err := row.Scan(&src.FolderPath, &src.Provider, &cfg, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "no sync source for folder: %s", folderPath)
	}
	if err != nil {
		return nil, wrapDB("get sync source", err)
	}
	src.Config = []byte(cfg)
	return &src, nil
}

// SetSyncSource stores or replaces a folder's sync source whole.
// Field-level edits are not supported; callers always supply the
// complete provider config.
func (s *SQLiteStore) SetSyncSource(ctx context.Context, src *SyncSource) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_sources (folder_path, provider, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder_path) DO UPDATE SET
			provider = excluded.provider,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		src.FolderPath, src.Provider, string(src.Config), now, now)
	return wrapDB("set sync source", err)
}

// DeleteSyncSource removes a folder's sync source binding.
func (s *SQLiteStore) DeleteSyncSource(ctx context.Context, folderPath string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_sources WHERE folder_path = ?`, folderPath)
	return wrapDB("delete sync source", err)
}

// ListSyncSources returns every configured sync source.
func (s *SQLiteStore) ListSyncSources(ctx context.Context) ([]*SyncSource, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder_path, provider, config, created_at, updated_at
		FROM sync_sources ORDER BY folder_path`)
	if err != nil {
		return nil, wrapDB("list sync sources", err)
	}
	defer rows.Close()

	var out []*SyncSource
	for rows.Next() {
		var src SyncSource
		var cfg string
		if err := rows.Scan(&src.FolderPath, &src.Provider, &cfg, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, wrapDB("scan sync source", err)
		}
		src.Config = []byte(cfg)
		out = append(out, &src)
	}
	return out, wrapDB("iterate sync sources", rows.Err())
}

// SetUserVisibility records a user's search-active flag for a folder.
func (s *SQLiteStore) SetUserVisibility(ctx context.Context, user, folderPath string, active bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_visibility (user, folder_path, active) VALUES (?, ?, ?)
		ON CONFLICT(user, folder_path) DO UPDATE SET active = excluded.active`,
		user, folderPath, active)
	return wrapDB("set user visibility", err)
}

// GetUserVisibility returns the user's explicit visibility entries.
// Folders absent from the map default to active.
func (s *SQLiteStore) GetUserVisibility(ctx context.Context, user string) (map[string]bool, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT folder_path, active FROM user_visibility WHERE user = ?`, user)
	if err != nil {
		return nil, wrapDB("get user visibility", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var folder string
		var active bool
		if err := rows.Scan(&folder, &active); err != nil {
			return nil, wrapDB("scan visibility", err)
		}
		out[folder] = active
	}
	return out, wrapDB("iterate visibility", rows.Err())
}

// StatsByExtension aggregates file and chunk counts per extension for
// the subtree rooted at folderPath.
func (s *SQLiteStore) StatsByExtension(ctx context.Context, folderPath string) ([]ExtensionStat, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, chunk_count FROM files
		WHERE folder_path = ? OR folder_path LIKE ? ESCAPE '\'`,
		folderPath, prefixPattern(folderPath))
	if err != nil {
		return nil, wrapDB("stats by extension", err)
	}
	defer rows.Close()

	agg := make(map[string]*ExtensionStat)
	for rows.Next() {
		var path string
		var chunks int
		if err := rows.Scan(&path, &chunks); err != nil {
			return nil, wrapDB("scan stats", err)
		}
		ext := strings.ToLower(filepath.Ext(path))
		st, ok := agg[ext]
		if !ok {
			st = &ExtensionStat{Extension: ext}
			agg[ext] = st
		}
		st.Files++
		if chunks > 0 {
			st.Chunks += chunks
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate stats", err)
	}

	out := make([]ExtensionStat, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Extension < out[j].Extension
	})
	return out, nil
}

// GetState reads a process-wide state value; missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDB("get state", err)
	}
	return value, nil
}

// SetState writes a process-wide state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return wrapDB("set state", err)
}
