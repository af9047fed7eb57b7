package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/embed"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/search"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
	"github.com/lodekb/lodestone/internal/vector"
)

const testDims = 64

type fixture struct {
	server *Server
	store  store.MetadataStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs, err := vector.New(vector.DefaultConfig(testDims), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	em := embed.NewStaticEmbedder(testDims)
	engine := search.New(st, vs, em, nil)

	rawURI := func(filePath string) (string, error) {
		if filePath == "missing.txt" {
			return "", errors.Newf(errors.KindNotFound, "file not found: %s", filePath)
		}
		return "/api/raw/test-token", nil
	}
	srv := NewServer(engine, st, rawURI, nil)

	ctx := context.Background()
	_, err = st.UpsertFolder(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, st.SetFolderEnabled(ctx, "docs", true))
	require.NoError(t, st.SetFolderIndexStatus(ctx, "docs", store.IndexIndexed, ""))

	texts := []string{"the quick brown fox jumps", "jumps over the lazy dog"}
	require.NoError(t, st.UpsertFile(ctx, &store.File{
		Path:        "docs/animals.txt",
		FolderPath:  "docs",
		Size:        int64(len(strings.Join(texts, " "))),
		ContentHash: "hash-animals",
		MIME:        "text/plain",
	}))
	chunks := make([]*store.Chunk, len(texts))
	points := make([]*vector.Point, len(texts))
	for i, text := range texts {
		id := vector.PointID("docs/animals.txt", i, 1)
		chunks[i] = &store.Chunk{
			FilePath:         "docs/animals.txt",
			Ordinal:          i,
			Text:             text,
			TokenCount:       len(strings.Fields(text)),
			EmbeddingVersion: 1,
			DenseVectorID:    id,
		}
		dense, err := em.Embed(ctx, text)
		require.NoError(t, err)
		points[i] = &vector.Point{
			ID:    id,
			Dense: dense,
			Payload: vector.Payload{
				FilePath:   "docs/animals.txt",
				FolderPath: validation.FolderOf("docs/animals.txt"),
				Ordinal:    i,
				Text:       text,
				TokenCount: len(strings.Fields(text)),
				FileMIME:   "text/plain",
			},
		}
	}
	require.NoError(t, st.SwapChunks(ctx, "docs/animals.txt", chunks, "hash-animals", 1))
	require.NoError(t, vs.Upsert(ctx, points))

	return &fixture{server: srv, store: st}
}

func asUser(user string) context.Context {
	return context.WithValue(context.Background(), userKey{}, user)
}

func TestSearchTool(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleSearch(asUser("alice"), nil, SearchInput{Query: "brown fox"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "docs/animals.txt", out.Results[0].FilePath)
}

func TestSearchToolEmptyQuery(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleSearch(asUser("alice"), nil, SearchInput{Query: "   "})
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidPath, mcpErr.Code)
}

func TestSearchToolRespectsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetUserVisibility(ctx, "alice", "docs", false))

	_, out, err := f.server.handleSearch(asUser("alice"), nil, SearchInput{Query: "brown fox"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)

	_, out, err = f.server.handleSearch(asUser("bob"), nil, SearchInput{Query: "brown fox"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
}

func TestListIndexedFoldersTool(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleListFolders(asUser("alice"), nil, ListFoldersInput{})
	require.NoError(t, err)
	require.Len(t, out.Folders, 1)
	assert.Equal(t, "docs", out.Folders[0].Path)
	assert.Equal(t, 1, out.Folders[0].FileCount)
	assert.Equal(t, 2, out.Folders[0].ChunkCount)
	assert.True(t, out.Folders[0].SearchActive)
}

func TestGetFileTool(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleGetFile(asUser("alice"), nil, GetFileInput{FilePath: "docs/animals.txt"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "quick brown fox")
	assert.Contains(t, out.Text, "lazy dog")
}

func TestGetFileToolUnknown(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleGetFile(asUser("alice"), nil, GetFileInput{FilePath: "docs/nope.txt"})
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeNotFound, mcpErr.Code)
}

func TestGetChunkRangeTool(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleGetChunkRange(asUser("alice"), nil, GetChunkRangeInput{
		FilePath: "docs/animals.txt",
		Start:    0,
		End:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Start)
	assert.Equal(t, 1, out.End)
	assert.Equal(t, 2, out.TotalChunks)
	assert.False(t, out.Truncated)
	assert.Contains(t, out.Text, "fox")
}

func TestGetChunkRangeToolInvalid(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleGetChunkRange(asUser("alice"), nil, GetChunkRangeInput{
		FilePath: "docs/animals.txt",
		Start:    3,
		End:      1,
	})
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidPath, mcpErr.Code)
}

func TestGetFileURITool(t *testing.T) {
	f := newFixture(t)

	_, out, err := f.server.handleGetFileURI(asUser("alice"), nil, GetFileURIInput{FilePath: "docs/animals.txt"})
	require.NoError(t, err)
	assert.Equal(t, "/api/raw/test-token", out.URI)
}

func TestGetFileURIToolNotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleGetFileURI(asUser("alice"), nil, GetFileURIInput{FilePath: "missing.txt"})
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeNotFound, mcpErr.Code)
}

func TestFolderActiveTools(t *testing.T) {
	f := newFixture(t)

	_, setOut, err := f.server.handleSetFolderActive(asUser("alice"), nil, SetFolderActiveInput{
		FolderPath: "docs",
		Active:     false,
	})
	require.NoError(t, err)
	assert.False(t, setOut.Active)

	_, states, err := f.server.handleGetActiveStates(asUser("alice"), nil, GetActiveStatesInput{})
	require.NoError(t, err)
	assert.False(t, states.States["docs"])

	_, states, err = f.server.handleGetActiveStates(asUser("bob"), nil, GetActiveStatesInput{})
	require.NoError(t, err)
	assert.True(t, states.States["docs"])
}

func TestSetFolderActiveUnknownFolder(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleSetFolderActive(asUser("alice"), nil, SetFolderActiveInput{
		FolderPath: "ghost",
		Active:     false,
	})
	require.Error(t, err)
	var mcpErr *Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeNotFound, mcpErr.Code)
}

func TestCallerUserFallback(t *testing.T) {
	assert.Equal(t, "default", callerUser(context.Background()))
	assert.Equal(t, "alice", callerUser(asUser("alice")))
}

func TestMapErrorPassthrough(t *testing.T) {
	orig := &Error{Code: ErrCodeUnavailable, Message: "down"}
	assert.Same(t, orig, MapError(orig))
	assert.Nil(t, MapError(nil))
}
