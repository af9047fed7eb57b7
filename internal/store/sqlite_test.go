package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFile(t *testing.T, s *SQLiteStore, path, folder, hash string) {
	t.Helper()
	require.NoError(t, s.UpsertFile(context.Background(), &File{
		Path:        path,
		FolderPath:  folder,
		Size:        42,
		MTime:       time.Now(),
		ContentHash: hash,
		MIME:        "text/plain",
	}))
}

func TestFolderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.UpsertFolder(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, IndexNone, f.IndexStatus)
	assert.False(t, f.IndexingEnabled)
	assert.Equal(t, SyncIdle, f.SyncStatus)

	// Upsert is idempotent.
	again, err := s.UpsertFolder(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, f.CreatedAt, again.CreatedAt)

	require.NoError(t, s.SetFolderEnabled(ctx, "docs", true))
	f, err = s.GetFolder(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, f.IndexingEnabled)
	assert.Equal(t, IndexPending, f.IndexStatus)

	require.NoError(t, s.SetFolderIndexStatus(ctx, "docs", IndexIndexing, ""))
	require.NoError(t, s.SetFolderIndexStatus(ctx, "docs", IndexIndexed, ""))
	f, _ = s.GetFolder(ctx, "docs")
	assert.Equal(t, IndexIndexed, f.IndexStatus)

	require.NoError(t, s.SetFolderEnabled(ctx, "docs", false))
	f, _ = s.GetFolder(ctx, "docs")
	assert.Equal(t, IndexNone, f.IndexStatus)
}

func TestGetFolderNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFolder(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestFolderSyncStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertFolder(ctx, "wiki")
	require.NoError(t, err)

	require.NoError(t, s.SetFolderSyncStatus(ctx, "wiki", SyncSyncing, ""))
	f, _ := s.GetFolder(ctx, "wiki")
	assert.Nil(t, f.LastSyncedAt)

	require.NoError(t, s.SetFolderSyncStatus(ctx, "wiki", SyncSynced, ""))
	f, _ = s.GetFolder(ctx, "wiki")
	require.NotNil(t, f.LastSyncedAt)
	assert.WithinDuration(t, time.Now(), *f.LastSyncedAt, 5*time.Second)

	require.NoError(t, s.SetFolderSyncStatus(ctx, "wiki", SyncError, "token expired"))
	f, _ = s.GetFolder(ctx, "wiki")
	assert.Equal(t, SyncError, f.SyncStatus)
	assert.Equal(t, "token expired", f.LastSyncError)
}

func TestListFoldersWithStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_, err := s.UpsertFolder(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetFolderEnabled(ctx, "a", true))
	require.NoError(t, s.SetFolderEnabled(ctx, "c", true))

	pending, err := s.ListFoldersWithStatus(ctx, IndexPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Path)
	assert.Equal(t, "c", pending[1].Path)
}

func TestFileUpsertAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")

	f, err := s.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, IndexPending, f.IndexStatus)
	assert.Equal(t, -1, f.ChunkCount)
	assert.Equal(t, "h1", f.ContentHash)
	assert.Empty(t, f.IndexedHash)

	// Re-upsert with a new hash keeps index bookkeeping untouched.
	seedFile(t, s, "docs/a.txt", "docs", "h2")
	f, _ = s.GetFile(ctx, "docs/a.txt")
	assert.Equal(t, "h2", f.ContentHash)
	assert.Empty(t, f.IndexedHash)

	require.NoError(t, s.MarkFileStatus(ctx, "docs/a.txt", IndexError, "no extractor"))
	f, _ = s.GetFile(ctx, "docs/a.txt")
	assert.Equal(t, IndexError, f.IndexStatus)
	assert.Equal(t, "no extractor", f.ErrorMessage)
}

func TestUpsertFileKeepsStatusOnUnchangedHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")

	chunks := []*Chunk{
		{FilePath: "docs/a.txt", Ordinal: 0, Text: "body", TokenCount: 1, CharEnd: 4, EmbeddingVersion: 1, DenseVectorID: 7},
	}
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt", chunks, "h1", 1))

	// Re-scanning an unchanged file must not demote it to pending.
	seedFile(t, s, "docs/a.txt", "docs", "h1")
	f, err := s.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, IndexIndexed, f.IndexStatus)
	assert.Equal(t, "h1", f.IndexedHash)
	assert.Equal(t, 1, f.ChunkCount)

	// A changed hash demotes the file so the indexer picks it up again.
	seedFile(t, s, "docs/a.txt", "docs", "h2")
	f, err = s.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, IndexPending, f.IndexStatus)
	assert.Equal(t, "h2", f.ContentHash)
}

func TestSwapChunksAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")

	chunks := []*Chunk{
		{FilePath: "docs/a.txt", Ordinal: 0, Text: "first", TokenCount: 1, CharEnd: 5, EmbeddingVersion: 1, DenseVectorID: 11},
		{FilePath: "docs/a.txt", Ordinal: 1, Text: "second", TokenCount: 1, CharStart: 5, CharEnd: 11, EmbeddingVersion: 1, DenseVectorID: 12},
	}
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt", chunks, "h1", 1))

	f, err := s.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, IndexIndexed, f.IndexStatus)
	assert.Equal(t, "h1", f.IndexedHash)
	assert.Equal(t, 2, f.ChunkCount)
	require.NotNil(t, f.IndexedAt)

	got, err := s.GetChunks(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(11), got[0].DenseVectorID)

	// Swapping to a smaller set leaves no leftovers.
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt", chunks[:1], "h1", 1))
	got, _ = s.GetChunks(ctx, "docs/a.txt")
	assert.Len(t, got, 1)
	f, _ = s.GetFile(ctx, "docs/a.txt")
	assert.Equal(t, 1, f.ChunkCount)
}

func TestSwapChunksMissingFile(t *testing.T) {
	s := newTestStore(t)
	err := s.SwapChunks(context.Background(), "ghost.txt", nil, "h", 1)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestGetChunkRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")

	var chunks []*Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, &Chunk{FilePath: "docs/a.txt", Ordinal: i, Text: "t", TokenCount: 1, EmbeddingVersion: 1, DenseVectorID: uint64(i)})
	}
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt", chunks, "h1", 1))

	got, err := s.GetChunkRange(ctx, "docs/a.txt", 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Ordinal)
	assert.Equal(t, 3, got[2].Ordinal)

	_, err = s.GetChunkRange(ctx, "docs/a.txt", -1, 3)
	require.Error(t, err)
}

func TestDeleteFileCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt",
		[]*Chunk{{FilePath: "docs/a.txt", Ordinal: 0, Text: "x", TokenCount: 1, EmbeddingVersion: 1}}, "h1", 1))

	require.NoError(t, s.DeleteFile(ctx, "docs/a.txt"))
	_, err := s.GetFile(ctx, "docs/a.txt")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	got, err := s.GetChunks(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteFolderCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertFolder(ctx, "docs")
	require.NoError(t, err)
	_, err = s.UpsertFolder(ctx, "docs/sub")
	require.NoError(t, err)
	_, err = s.UpsertFolder(ctx, "docserve")
	require.NoError(t, err)
	seedFile(t, s, "docs/a.txt", "docs", "h1")
	seedFile(t, s, "docs/sub/b.txt", "docs/sub", "h2")
	seedFile(t, s, "docserve/c.txt", "docserve", "h3")

	require.NoError(t, s.DeleteFolder(ctx, "docs"))

	_, err = s.GetFolder(ctx, "docs")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	_, err = s.GetFolder(ctx, "docs/sub")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	_, err = s.GetFile(ctx, "docs/sub/b.txt")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	// Sibling with a shared name prefix survives.
	_, err = s.GetFolder(ctx, "docserve")
	assert.NoError(t, err)
	_, err = s.GetFile(ctx, "docserve/c.txt")
	assert.NoError(t, err)
}

func TestListFilesUnder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")
	seedFile(t, s, "docs/sub/b.txt", "docs/sub", "h2")
	seedFile(t, s, "other/c.txt", "other", "h3")

	files, err := s.ListFilesUnder(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, files, 2)

	all, err := s.ListFilesUnder(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	direct, err := s.ListFiles(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "docs/a.txt", direct[0].Path)
}

func TestSyncSourceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, _ := json.Marshal(map[string]string{"repo": "org/app", "branch": "main"})
	require.NoError(t, s.SetSyncSource(ctx, &SyncSource{
		FolderPath: "repos/app",
		Provider:   "github",
		Config:     cfg,
	}))

	src, err := s.GetSyncSource(ctx, "repos/app")
	require.NoError(t, err)
	assert.Equal(t, "github", src.Provider)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(src.Config, &decoded))
	assert.Equal(t, "main", decoded["branch"])

	// Replacement swaps the whole record.
	cfg2, _ := json.Marshal(map[string]string{"drive_id": "xyz"})
	require.NoError(t, s.SetSyncSource(ctx, &SyncSource{
		FolderPath: "repos/app",
		Provider:   "google_drive",
		Config:     cfg2,
	}))
	src, _ = s.GetSyncSource(ctx, "repos/app")
	assert.Equal(t, "google_drive", src.Provider)

	require.NoError(t, s.DeleteSyncSource(ctx, "repos/app"))
	_, err = s.GetSyncSource(ctx, "repos/app")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestUserVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vis, err := s.GetUserVisibility(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, vis)

	require.NoError(t, s.SetUserVisibility(ctx, "alice", "docs", false))
	require.NoError(t, s.SetUserVisibility(ctx, "alice", "wiki", true))
	require.NoError(t, s.SetUserVisibility(ctx, "bob", "docs", true))

	vis, err = s.GetUserVisibility(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"docs": false, "wiki": true}, vis)

	require.NoError(t, s.SetUserVisibility(ctx, "alice", "docs", true))
	vis, _ = s.GetUserVisibility(ctx, "alice")
	assert.True(t, vis["docs"])
}

func TestStatsByExtension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "docs/a.txt", "docs", "h1")
	seedFile(t, s, "docs/b.txt", "docs", "h2")
	seedFile(t, s, "docs/c.md", "docs", "h3")
	require.NoError(t, s.SwapChunks(ctx, "docs/a.txt",
		[]*Chunk{{FilePath: "docs/a.txt", Ordinal: 0, Text: "x", TokenCount: 1, EmbeddingVersion: 1}}, "h1", 1))

	stats, err := s.StatsByExtension(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, ".txt", stats[0].Extension)
	assert.Equal(t, 2, stats[0].Files)
	assert.Equal(t, 1, stats[0].Chunks)
	assert.Equal(t, ".md", stats[1].Extension)
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "embedding_version")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, "embedding_version", "2"))
	v, err = s.GetState(ctx, "embedding_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestClosedStoreFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.ListFolders(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindStoreUnavailable, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}
