package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/syncsrc"
	"github.com/lodekb/lodestone/internal/validation"
)

// secretKeys are config fields stripped before a source leaves the API.
var secretKeys = map[string]struct{}{
	"token":     {},
	"api_token": {},
	"oauth":     {},
}

func redactConfig(raw json.RawMessage) map[string]any {
	var cfg map[string]any
	if json.Unmarshal(raw, &cfg) != nil {
		return map[string]any{}
	}
	for key := range secretKeys {
		if _, ok := cfg[key]; ok {
			cfg[key] = "[redacted]"
		}
	}
	return cfg
}

func (s *Server) getSyncSource(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	src, err := s.store.GetSyncSource(c.Request().Context(), logical)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"folder_path": src.FolderPath,
		"provider":    src.Provider,
		"config":      redactConfig(src.Config),
		"created_at":  src.CreatedAt,
		"updated_at":  src.UpdatedAt,
	})
}

type syncSourceRequest struct {
	Provider string          `json:"provider"`
	Config   json.RawMessage `json:"config"`
}

func (s *Server) putSyncSource(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if logical == "" {
		return s.fail(c, errors.New(errors.KindInvalidPath, "a sync source needs a folder path"))
	}
	var req syncSourceRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindInvalidPath, "decode body"))
	}
	if !s.syncer.HasProvider(req.Provider) {
		return s.fail(c, errors.Newf(errors.KindInvalidPath, "unknown provider %q", req.Provider))
	}
	if len(req.Config) == 0 {
		req.Config = json.RawMessage(`{}`)
	}

	ctx := c.Request().Context()
	if existing, err := s.store.GetSyncSource(ctx, logical); err == nil {
		if existing.Provider != req.Provider && c.QueryParam("replace") != "true" {
			return s.fail(c, errors.Newf(errors.KindConflict,
				"folder already synced from %q; pass replace=true to switch providers", existing.Provider))
		}
	}

	if err := os.MkdirAll(s.absPath(logical), 0o755); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindPermissionDenied, "create sync folder"))
	}
	if _, err := s.store.UpsertFolder(ctx, logical); err != nil {
		return s.fail(c, err)
	}
	if err := s.store.SetSyncSource(ctx, &store.SyncSource{
		FolderPath: logical,
		Provider:   req.Provider,
		Config:     req.Config,
	}); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"folder_path": logical, "provider": req.Provider})
}

// deleteSyncSource removes the binding; synced files stay on disk.
func (s *Server) deleteSyncSource(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.store.DeleteSyncSource(c.Request().Context(), logical); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) postSyncTrigger(c echo.Context) error {
	wildcard := c.Param("*")
	if !strings.HasSuffix(wildcard, "/trigger") {
		return s.fail(c, errors.Newf(errors.KindNotFound, "unknown sync action: %s", wildcard))
	}
	logical, err := validation.NormalizePath(strings.TrimSuffix(wildcard, "/trigger"))
	if err != nil {
		return s.fail(c, err)
	}
	if _, err := s.store.GetSyncSource(c.Request().Context(), logical); err != nil {
		return s.fail(c, err)
	}

	go func() {
		if err := s.syncer.Sync(context.Background(), logical); err != nil && !errors.IsCancelled(err) {
			s.logger.Warn("triggered sync failed", "folder", logical, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started", "path": logical})
}

func (s *Server) getGitBranches(c echo.Context) error {
	branches, err := syncsrc.ListBranches(c.Request().Context(),
		c.QueryParam("repo_url"), c.QueryParam("username"), c.QueryParam("token"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"branches": branches})
}

func (s *Server) getDriveFolders(c echo.Context) error {
	logical, err := validation.NormalizePath(c.QueryParam("folder_path"))
	if err != nil {
		return s.fail(c, err)
	}
	src, err := s.store.GetSyncSource(c.Request().Context(), logical)
	if err != nil {
		return s.fail(c, err)
	}
	folders, err := syncsrc.ListDriveFolders(c.Request().Context(), src, c.QueryParam("parent_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) getOAuthURL(c echo.Context) error {
	logical, err := validation.NormalizePath(c.QueryParam("folder_path"))
	if err != nil {
		return s.fail(c, err)
	}
	authURL, err := s.syncer.AuthURL(c.Request().Context(), logical, c.QueryParam("redirect_uri"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"auth_url": authURL})
}

// getOAuthCallback completes the browser flow; state carries the
// folder path the flow was started for.
func (s *Server) getOAuthCallback(c echo.Context) error {
	logical, err := validation.NormalizePath(c.QueryParam("state"))
	if err != nil {
		return s.fail(c, err)
	}
	code := c.QueryParam("code")
	if code == "" {
		return s.fail(c, errors.New(errors.KindInvalidPath, "missing authorization code"))
	}
	if err := s.syncer.ExchangeCode(c.Request().Context(), logical, c.QueryParam("redirect_uri"), code); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "connected", "path": logical})
}
