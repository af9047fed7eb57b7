package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/validation"
	"github.com/lodekb/lodestone/internal/watch"
)

// entry is one row in a folder listing.
type entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	Size        int64     `json:"size,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
	IndexStatus string    `json:"index_status,omitempty"`
}

func (s *Server) logicalParam(c echo.Context) (string, error) {
	return validation.NormalizePath(c.Param("*"))
}

func (s *Server) absPath(logical string) string {
	return filepath.Join(s.root, filepath.FromSlash(logical))
}

func (s *Server) listFolder(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	dirents, err := os.ReadDir(s.absPath(logical))
	if err != nil {
		if os.IsNotExist(err) {
			return s.fail(c, errors.Newf(errors.KindNotFound, "folder not found: %s", logical))
		}
		return s.fail(c, errors.Wrap(err, errors.KindPermissionDenied, "read folder"))
	}

	ctx := c.Request().Context()
	entries := make([]entry, 0, len(dirents))
	for _, d := range dirents {
		child := d.Name()
		if logical != "" {
			child = logical + "/" + child
		}
		if validation.IsIgnored(child) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		e := entry{
			Name:       d.Name(),
			Path:       child,
			IsDir:      d.IsDir(),
			ModifiedAt: info.ModTime().UTC(),
		}
		if d.IsDir() {
			if folder, err := s.store.GetFolder(ctx, child); err == nil {
				e.IndexStatus = string(folder.IndexStatus)
			}
		} else {
			e.Size = info.Size()
			if f, err := s.store.GetFile(ctx, child); err == nil {
				e.IndexStatus = string(f.IndexStatus)
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return c.JSON(http.StatusOK, map[string]any{"path": logical, "entries": entries})
}

type createFolderRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (s *Server) createFolder(c echo.Context) error {
	var req createFolderRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindInvalidPath, "decode body"))
	}
	if req.Name == "" {
		return s.fail(c, errors.New(errors.KindInvalidPath, "name is required"))
	}
	parent, err := validation.NormalizePath(req.Path)
	if err != nil {
		return s.fail(c, err)
	}
	logical, err := validation.NormalizePath(parent + "/" + req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	if logical == "" {
		return s.fail(c, errors.New(errors.KindInvalidPath, "refusing to create the root"))
	}

	abs := s.absPath(logical)
	if _, err := os.Stat(abs); err == nil {
		return s.fail(c, errors.Newf(errors.KindConflict, "already exists: %s", logical))
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindPermissionDenied, "create folder"))
	}

	folder, err := s.store.UpsertFolder(c.Request().Context(), logical)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"path":             folder.Path,
		"indexing_enabled": folder.IndexingEnabled,
		"index_status":     string(folder.IndexStatus),
	})
}

func (s *Server) deleteFolder(c echo.Context) error {
	logical, err := s.logicalParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if logical == "" {
		return s.fail(c, errors.New(errors.KindInvalidPath, "refusing to delete the root"))
	}
	abs := s.absPath(logical)
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return s.fail(c, errors.Newf(errors.KindNotFound, "folder not found: %s", logical))
		}
		return s.fail(c, errors.Wrap(err, errors.KindPermissionDenied, "stat folder"))
	}
	if err := os.RemoveAll(abs); err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindPermissionDenied, "delete folder"))
	}

	// Purge store rows and vectors the same way an observed delete does.
	err = s.indexer.HandleEvents(c.Request().Context(), []watch.Event{{
		Path:      logical,
		Op:        watch.OpDeleted,
		IsDir:     true,
		Timestamp: time.Now(),
	}})
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.store.DeleteSyncSource(c.Request().Context(), logical); err != nil && errors.KindOf(err) != errors.KindNotFound {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) uploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return s.fail(c, errors.Wrap(err, errors.KindInvalidPath, "parse multipart form"))
	}
	target, err := validation.NormalizePath(c.FormValue("path"))
	if err != nil {
		return s.fail(c, err)
	}

	var headers []*multipart.FileHeader
	for _, files := range form.File {
		headers = append(headers, files...)
	}
	if len(headers) == 0 {
		return s.fail(c, errors.New(errors.KindInvalidPath, "no files in upload"))
	}

	var written []string
	var events []watch.Event
	for _, fh := range headers {
		logical, err := validation.NormalizePath(target + "/" + filepath.Base(fh.Filename))
		if err != nil {
			return s.fail(c, err)
		}
		if err := s.writeUpload(logical, fh); err != nil {
			return s.fail(c, err)
		}
		written = append(written, logical)
		events = append(events, watch.Event{
			Path:      logical,
			Op:        watch.OpCreated,
			Timestamp: time.Now(),
		})
	}

	if err := s.indexer.HandleEvents(c.Request().Context(), events); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"uploaded": written})
}

// writeUpload streams to a temp file beside the target and renames it
// into place, so the observer never sees a half-written file.
func (s *Server) writeUpload(logical string, fh *multipart.FileHeader) error {
	abs := s.absPath(logical)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrap(err, errors.KindPermissionDenied, "create upload dir")
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, errors.KindInvalidPath, "open upload part")
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return errors.Wrap(err, errors.KindPermissionDenied, "create temp file")
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.KindInternal, "write upload")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.KindInternal, "close upload")
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.KindPermissionDenied, "move upload into place")
	}
	return nil
}
