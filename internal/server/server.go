// Package server exposes the HTTP API and the WebSocket event feed.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/index"
	"github.com/lodekb/lodestone/internal/search"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/syncsrc"
)

// userHeader carries the opaque user identity for visibility scoping.
const userHeader = "X-User-Name"

// defaultUser applies when the header is absent.
const defaultUser = "default"

type Server struct {
	e       *echo.Echo
	store   store.MetadataStore
	search  *search.Engine
	indexer *index.Indexer
	syncer  *syncsrc.Engine
	events  *bus.Bus
	root    string
	logger  *slog.Logger
	raw     *rawTokens
}

func New(st store.MetadataStore, se *search.Engine, ix *index.Indexer, sy *syncsrc.Engine, events *bus.Bus, root string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:       e,
		store:   st,
		search:  se,
		indexer: ix,
		syncer:  sy,
		events:  events,
		root:    root,
		logger:  logger,
		raw:     newRawTokens(),
	}

	api := e.Group("/api")

	api.GET("/folders/*", s.listFolder)
	api.GET("/folders", s.listFolder)
	api.POST("/folders", s.createFolder)
	api.DELETE("/folders/*", s.deleteFolder)
	api.POST("/files/upload", s.uploadFiles)

	api.GET("/details/*", s.getDetails)
	api.PUT("/metadata/*", s.putMetadata)

	// Echo wildcards terminate the pattern, so the settings verbs
	// (".../search-active", ".../reindex", ".../trigger") are resolved
	// from the wildcard suffix inside the handlers.
	api.PUT("/settings/folders/*", s.putFolderSettings)
	api.POST("/settings/folders/*", s.postFolderAction)

	api.GET("/search", s.getSearch)
	api.GET("/raw/:token", s.getRaw)

	api.GET("/sync/git/branches", s.getGitBranches)
	api.GET("/sync/google-drive/folders", s.getDriveFolders)
	api.GET("/sync/oauth/auth", s.getOAuthURL)
	api.GET("/sync/oauth/callback", s.getOAuthCallback)
	api.GET("/sync/*", s.getSyncSource)
	api.PUT("/sync/*", s.putSyncSource)
	api.DELETE("/sync/*", s.deleteSyncSource)
	api.POST("/sync/*", s.postSyncTrigger)

	e.GET("/ws", s.handleWS)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Serve blocks until the context is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.e.Shutdown(shutdownCtx)
	}()
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// user extracts the request's identity token.
func user(c echo.Context) string {
	if u := c.Request().Header.Get(userHeader); u != "" {
		return u
	}
	return defaultUser
}

// fail renders an error as the {detail} body with the kind's status.
func (s *Server) fail(c echo.Context, err error) error {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}
	return c.JSON(status, map[string]string{"detail": err.Error()})
}
