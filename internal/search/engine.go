// Package search answers hybrid dense+sparse queries over the indexed
// corpus, restricted to the folders visible to the querying user, and
// reconstructs file text from stored chunks.
package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/lodekb/lodestone/internal/embed"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
	"github.com/lodekb/lodestone/internal/vector"
)

const (
	// DefaultAlpha weights dense similarity against sparse bm25.
	DefaultAlpha = 0.6
	// DefaultLimit applies when a request does not set one.
	DefaultLimit = 10
	// MaxLimit caps the result count per query.
	MaxLimit = 100

	// oversample widens the vector query so per-file dedup still
	// fills the requested limit.
	oversample = 4
)

// Request is one search query.
type Request struct {
	Query string
	Limit int
	// IncludeFolders restricts results to these folders and their
	// descendants. ExcludeFolders removes folders from the scope.
	IncludeFolders []string
	ExcludeFolders []string
	// User scopes folder visibility. Empty means no per-user filter
	// beyond the folder index state.
	User string
	// ContextChunks widens each hit with up to that many neighboring
	// chunks on each side, merged into ContextText.
	ContextChunks int
}

// Result is one search hit, the best chunk of its file.
type Result struct {
	Score        float64 `json:"score"`
	FilePath     string  `json:"file_path"`
	FileName     string  `json:"file_name"`
	FolderPath   string  `json:"folder_path"`
	ChunkText    string  `json:"chunk_text"`
	ChunkOrdinal int     `json:"chunk_ordinal"`
	TokenCount   int     `json:"token_count"`
	ContextText  string  `json:"context_text,omitempty"`
	MetadataText string  `json:"metadata_text,omitempty"`
}

// Engine executes queries against the metadata and vector stores.
type Engine struct {
	store    store.MetadataStore
	vectors  vector.Store
	embedder embed.Embedder
	logger   *slog.Logger
}

func New(st store.MetadataStore, vs vector.Store, em embed.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, vectors: vs, embedder: em, logger: logger}
}

// Search runs a hybrid query and returns at most Limit results, one
// per file, best chunk first. An empty visible scope returns no
// results without touching the vector store.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, errors.New(errors.KindInvalidPath, "query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	scope, err := e.visibleScope(ctx, req.User, req.IncludeFolders, req.ExcludeFolders)
	if err != nil {
		return nil, err
	}
	if len(scope.include) == 0 {
		return []Result{}, nil
	}

	dense, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.Query(ctx, dense, req.Query, limit*oversample, DefaultAlpha, vector.Filter{
		IncludeFolders: scope.include,
		ExcludeFolders: scope.exclude,
	})
	if err != nil {
		return nil, err
	}

	results := e.dedupeByFile(hits, limit)
	for i := range results {
		e.decorate(ctx, &results[i], req.ContextChunks)
	}
	return results, nil
}

// dedupeByFile keeps the best-scoring chunk per file. Hits arrive
// score-descending, so the first occurrence wins.
func (e *Engine) dedupeByFile(hits []*vector.QueryResult, limit int) []Result {
	results := make([]Result, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range hits {
		if _, ok := seen[hit.Payload.FilePath]; ok {
			continue
		}
		seen[hit.Payload.FilePath] = struct{}{}
		results = append(results, Result{
			Score:        hit.Score,
			FilePath:     hit.Payload.FilePath,
			FileName:     validation.BaseName(hit.Payload.FilePath),
			FolderPath:   hit.Payload.FolderPath,
			ChunkText:    hit.Payload.Text,
			ChunkOrdinal: hit.Payload.Ordinal,
			TokenCount:   hit.Payload.TokenCount,
		})
		if len(results) == limit {
			break
		}
	}
	return results
}

// decorate attaches file metadata and the optional neighbor-chunk
// window. Both are best-effort; a hit stands without them.
func (e *Engine) decorate(ctx context.Context, r *Result, contextChunks int) {
	if f, err := e.store.GetFile(ctx, r.FilePath); err == nil {
		r.MetadataText = f.MetadataText
	}
	if contextChunks <= 0 {
		return
	}
	start := r.ChunkOrdinal - contextChunks
	if start < 0 {
		start = 0
	}
	chunks, err := e.store.GetChunkRange(ctx, r.FilePath, start, r.ChunkOrdinal+contextChunks)
	if err != nil || len(chunks) == 0 {
		return
	}
	r.ContextText = mergeChunks(chunks)
}

// folderScope is the resolved folder filter for one query.
type folderScope struct {
	include []string
	exclude []string
}

// visibleScope computes the folders the user may search: indexing
// enabled, index status indexed, visibility active for the user, and
// no disabled ancestor folder. Request include/exclude narrows the
// set further.
func (e *Engine) visibleScope(ctx context.Context, user string, include, exclude []string) (folderScope, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return folderScope{}, err
	}

	visibility := map[string]bool{}
	if user != "" {
		visibility, err = e.store.GetUserVisibility(ctx, user)
		if err != nil {
			return folderScope{}, err
		}
	}

	disabled := make(map[string]struct{})
	for _, f := range folders {
		if !f.IndexingEnabled {
			disabled[f.Path] = struct{}{}
		}
	}

	var scope folderScope
	for _, f := range folders {
		if !f.IndexingEnabled || f.IndexStatus != store.IndexIndexed {
			continue
		}
		if active, ok := visibility[f.Path]; ok && !active {
			continue
		}
		if hasDisabledAncestor(f.Path, disabled) {
			continue
		}
		if len(include) > 0 && !withinAny(f.Path, include) {
			continue
		}
		if withinAny(f.Path, exclude) {
			continue
		}
		scope.include = append(scope.include, f.Path)
	}

	// A hidden folder nested inside a visible one must not leak its
	// chunks through the parent's prefix.
	for _, f := range folders {
		if inScope(f.Path, scope.include) {
			continue
		}
		if withinAny(f.Path, scope.include) {
			scope.exclude = append(scope.exclude, f.Path)
		}
	}
	sort.Strings(scope.include)
	sort.Strings(scope.exclude)
	return scope, nil
}

func hasDisabledAncestor(folderPath string, disabled map[string]struct{}) bool {
	for _, anc := range validation.Ancestors(folderPath) {
		if _, ok := disabled[anc]; ok {
			return true
		}
	}
	return false
}

func withinAny(folderPath string, prefixes []string) bool {
	for _, p := range prefixes {
		if validation.IsWithin(folderPath, p) {
			return true
		}
	}
	return false
}

func inScope(folderPath string, scope []string) bool {
	for _, p := range scope {
		if folderPath == p {
			return true
		}
	}
	return false
}
