package search

import (
	"context"
)

// FolderInfo is one folder's entry in list_indexed_folders.
type FolderInfo struct {
	Path            string `json:"path"`
	IndexingEnabled bool   `json:"indexing_enabled"`
	IndexStatus     string `json:"index_status"`
	IndexError      string `json:"index_error,omitempty"`
	SyncStatus      string `json:"sync_status"`
	FileCount       int    `json:"file_count"`
	ChunkCount      int    `json:"chunk_count"`
	// SearchActive reflects the requesting user's visibility toggle.
	SearchActive bool   `json:"search_active"`
	MetadataText string `json:"metadata_text,omitempty"`
}

// ListIndexedFolders returns all registered folders with their index
// state and content counts, annotated with the user's visibility.
func (e *Engine) ListIndexedFolders(ctx context.Context, user string) ([]FolderInfo, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	visibility := map[string]bool{}
	if user != "" {
		visibility, err = e.store.GetUserVisibility(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	out := make([]FolderInfo, 0, len(folders))
	for _, f := range folders {
		info := FolderInfo{
			Path:            f.Path,
			IndexingEnabled: f.IndexingEnabled,
			IndexStatus:     string(f.IndexStatus),
			IndexError:      f.IndexError,
			SyncStatus:      string(f.SyncStatus),
			SearchActive:    true,
			MetadataText:    f.MetadataText,
		}
		if active, ok := visibility[f.Path]; ok {
			info.SearchActive = active
		}
		stats, err := e.store.StatsByExtension(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		for _, s := range stats {
			info.FileCount += s.Files
			info.ChunkCount += s.Chunks
		}
		out = append(out, info)
	}
	return out, nil
}

// ActiveStates returns the user's visibility toggle for every
// registered folder. Folders without an explicit entry default to
// active.
func (e *Engine) ActiveStates(ctx context.Context, user string) (map[string]bool, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	visibility, err := e.store.GetUserVisibility(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(folders))
	for _, f := range folders {
		active := true
		if v, ok := visibility[f.Path]; ok {
			active = v
		}
		out[f.Path] = active
	}
	return out, nil
}

// SetFolderActive flips the user's visibility toggle for one folder.
func (e *Engine) SetFolderActive(ctx context.Context, user, folderPath string, active bool) error {
	if _, err := e.store.GetFolder(ctx, folderPath); err != nil {
		return err
	}
	return e.store.SetUserVisibility(ctx, user, folderPath, active)
}
