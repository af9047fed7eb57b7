package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/search"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
)

func (s *Server) getDetails(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	ctx := c.Request().Context()

	if folder, err := s.store.GetFolder(ctx, logical); err == nil {
		stats, err := s.store.StatsByExtension(ctx, logical)
		if err != nil {
			return s.fail(c, err)
		}
		out := map[string]any{
			"type":             "folder",
			"path":             folder.Path,
			"indexing_enabled": folder.IndexingEnabled,
			"index_status":     string(folder.IndexStatus),
			"index_error":      folder.IndexError,
			"sync_status":      string(folder.SyncStatus),
			"last_sync_error":  folder.LastSyncError,
			"metadata_text":    folder.MetadataText,
			"stats":            stats,
		}
		if folder.LastSyncedAt != nil {
			out["last_synced_at"] = folder.LastSyncedAt
		}
		if src, err := s.store.GetSyncSource(ctx, logical); err == nil {
			out["sync_provider"] = src.Provider
		}
		return c.JSON(http.StatusOK, out)
	}

	f, err := s.store.GetFile(ctx, logical)
	if err != nil {
		return s.fail(c, err)
	}
	out := map[string]any{
		"type":          "file",
		"path":          f.Path,
		"folder_path":   f.FolderPath,
		"size":          f.Size,
		"mime":          f.MIME,
		"index_status":  string(f.IndexStatus),
		"chunk_count":   f.ChunkCount,
		"error_message": f.ErrorMessage,
		"metadata_text": f.MetadataText,
	}
	if f.IndexedAt != nil {
		out["indexed_at"] = f.IndexedAt
	}
	return c.JSON(http.StatusOK, out)
}

type metadataRequest struct {
	MetadataText string `json:"metadata_text"`
}

func (s *Server) putMetadata(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req metadataRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindInvalidPath, "decode body"))
	}
	ctx := c.Request().Context()
	updatedBy := user(c)

	if _, err := s.store.GetFolder(ctx, logical); err == nil {
		if err := s.store.SetFolderMetadata(ctx, logical, req.MetadataText, updatedBy); err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
	}
	if err := s.store.SetFileMetadata(ctx, logical, req.MetadataText, updatedBy); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

type folderSettingsRequest struct {
	Enabled      *bool `json:"enabled"`
	SearchActive *bool `json:"search_active"`
}

func (s *Server) putFolderSettings(c echo.Context) error {
	wildcard := c.Param("*")
	searchActive := strings.HasSuffix(wildcard, "/search-active")
	if searchActive {
		wildcard = strings.TrimSuffix(wildcard, "/search-active")
	}
	logical, err := validation.NormalizePath(wildcard)
	if err != nil {
		return s.fail(c, err)
	}
	var req folderSettingsRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindInvalidPath, "decode body"))
	}
	ctx := c.Request().Context()

	if searchActive {
		if req.SearchActive == nil {
			return s.fail(c, errors.New(errors.KindInvalidPath, "search_active is required"))
		}
		if err := s.search.SetFolderActive(ctx, user(c), logical, *req.SearchActive); err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"path": logical, "search_active": *req.SearchActive})
	}

	if req.Enabled == nil {
		return s.fail(c, errors.New(errors.KindInvalidPath, "enabled is required"))
	}
	if _, err := s.store.UpsertFolder(ctx, logical); err != nil {
		return s.fail(c, err)
	}
	if err := s.store.SetFolderEnabled(ctx, logical, *req.Enabled); err != nil {
		return s.fail(c, err)
	}
	if *req.Enabled {
		if err := s.store.SetFolderIndexStatus(ctx, logical, store.IndexPending, ""); err != nil {
			return s.fail(c, err)
		}
	}
	// Enqueue either way: an enabled folder gets scanned, a disabled
	// one gets purged.
	s.indexer.Enqueue(logical, false)
	return c.JSON(http.StatusOK, map[string]any{"path": logical, "enabled": *req.Enabled})
}

func (s *Server) postFolderAction(c echo.Context) error {
	wildcard := c.Param("*")
	if !strings.HasSuffix(wildcard, "/reindex") {
		return s.fail(c, errors.Newf(errors.KindNotFound, "unknown folder action: %s", wildcard))
	}
	logical, err := validation.NormalizePath(strings.TrimSuffix(wildcard, "/reindex"))
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.indexer.Reindex(c.Request().Context(), logical); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "reindexing", "path": logical})
}

func (s *Server) getSearch(c echo.Context) error {
	req := search.Request{
		Query: c.QueryParam("q"),
		User:  user(c),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, errors.New(errors.KindInvalidPath, "limit must be an integer"))
		}
		req.Limit = n
	}
	if v := c.QueryParam("include_folders"); v != "" {
		req.IncludeFolders = strings.Split(v, ",")
	}
	if v := c.QueryParam("exclude_folders"); v != "" {
		req.ExcludeFolders = strings.Split(v, ",")
	}
	if v := c.QueryParam("context"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, errors.New(errors.KindInvalidPath, "context must be an integer"))
		}
		req.ContextChunks = n
	}

	results, err := s.search.Search(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}
