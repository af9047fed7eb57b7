// Package mcp exposes the knowledge base to AI clients over the Model
// Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/search"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/pkg/version"
)

// userKey carries the caller identity through tool handler contexts.
type userKey struct{}

// userEnv names the identity variable for the stdio transport, where
// there are no per-request headers.
const userEnv = "MCP_USER"

const defaultUser = "default"

// RawURIFunc issues an ephemeral download link for a file; the HTTP
// server provides it.
type RawURIFunc func(filePath string) (string, error)

// Server is the MCP tool surface over the search engine.
type Server struct {
	mcp    *mcp.Server
	engine *search.Engine
	store  store.MetadataStore
	rawURI RawURIFunc
	logger *slog.Logger
}

func NewServer(engine *search.Engine, st store.MetadataStore, rawURI RawURIFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		store:  st,
		rawURI: rawURI,
		logger: logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "lodestone", Version: version.Version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid semantic and keyword search across the indexed knowledge base. Returns the best matching chunk per file, restricted to folders visible to the caller.",
	}, s.handleSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_indexed_folders",
		Description: "List registered folders with their indexing status, file and chunk counts, and the caller's search visibility.",
	}, s.handleListFolders)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file",
		Description: "Return the full extracted text of an indexed file, reconstructed from its chunks.",
	}, s.handleGetFile)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_chunk_range",
		Description: "Return a span of an indexed file's chunks merged into continuous text. Capped at 20 chunks per call.",
	}, s.handleGetChunkRange)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file_uri",
		Description: "Issue a short-lived download link for the original file bytes.",
	}, s.handleGetFileURI)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_folder_active",
		Description: "Toggle whether a folder's content participates in the caller's searches.",
	}, s.handleSetFolderActive)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_folder_active_states",
		Description: "Return the caller's per-folder search visibility map.",
	}, s.handleGetActiveStates)
}

// Serve runs the server on the chosen transport until the context is
// cancelled.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case "stdio":
		ctx = context.WithValue(ctx, userKey{}, stdioUser())
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	case "http":
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil)
		srv := &http.Server{
			Addr:    addr,
			Handler: identityMiddleware(handler),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return errors.Newf(errors.KindInternal, "unknown MCP transport %q (supported: stdio, http)", transport)
	}
}

// identityMiddleware stashes the caller identity from the request
// header so tool handlers can scope visibility.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User-Name")
		if user == "" {
			user = defaultUser
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func stdioUser() string {
	if u := os.Getenv(userEnv); u != "" {
		return u
	}
	return defaultUser
}

// callerUser extracts the identity installed by the transport.
func callerUser(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return defaultUser
}
