// Package store persists the metadata model: folders, files, chunks,
// sync sources, and per-user visibility. SQLite is the single source
// of truth; the vector store holds only derived data.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// IndexStatus is the lifecycle state of a folder or file.
type IndexStatus string

const (
	IndexNone     IndexStatus = "none"
	IndexPending  IndexStatus = "pending"
	IndexIndexing IndexStatus = "indexing"
	IndexIndexed  IndexStatus = "indexed"
	IndexError    IndexStatus = "error"
)

// SyncStatus is the remote-sync state of a folder.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// Folder is a directory under the managed root.
type Folder struct {
	Path              string
	IndexingEnabled   bool
	IndexStatus       IndexStatus
	IndexError        string
	SyncStatus        SyncStatus
	LastSyncedAt      *time.Time
	LastSyncError     string
	MetadataText      string
	MetadataUpdatedBy string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// File is a regular file under the managed root.
type File struct {
	Path       string
	FolderPath string
	Size       int64
	MTime      time.Time
	// ContentHash is the hash of the current bytes on disk.
	ContentHash string
	// IndexedHash is the hash that was last indexed; differs from
	// ContentHash when the file changed after its last index run.
	IndexedHash string
	MIME        string
	IndexStatus IndexStatus
	IndexedAt   *time.Time
	// EmbeddingVersion tags the vectors derived from this file.
	EmbeddingVersion int
	// ChunkCount is negative while unknown or in progress.
	ChunkCount        int
	ErrorMessage      string
	MetadataText      string
	MetadataUpdatedBy string
}

// Chunk is one slice of a file's extracted text, keyed by
// (FilePath, Ordinal). Ordinals are dense from zero.
type Chunk struct {
	FilePath         string
	Ordinal          int
	Text             string
	TokenCount       int
	CharStart        int
	CharEnd          int
	EmbeddingVersion int
	// DenseVectorID is the point id in the vector store.
	DenseVectorID uint64
}

// SyncSource binds a remote provider to a folder. Config is the
// provider-specific selector and credential blob.
type SyncSource struct {
	FolderPath string
	Provider   string
	Config     json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExtensionStat aggregates indexed content per file extension.
type ExtensionStat struct {
	Extension string
	Files     int
	Chunks    int
}

// MetadataStore is the full persistence surface. Implementations must
// be safe for concurrent use within a single process.
type MetadataStore interface {
	// Folders.
	UpsertFolder(ctx context.Context, path string) (*Folder, error)
	GetFolder(ctx context.Context, path string) (*Folder, error)
	ListFolders(ctx context.Context) ([]*Folder, error)
	ListFoldersWithStatus(ctx context.Context, status IndexStatus) ([]*Folder, error)
	SetFolderEnabled(ctx context.Context, path string, enabled bool) error
	SetFolderIndexStatus(ctx context.Context, path string, status IndexStatus, errMsg string) error
	SetFolderSyncStatus(ctx context.Context, path string, status SyncStatus, syncErr string) error
	SetFolderMetadata(ctx context.Context, path, text, updatedBy string) error
	DeleteFolder(ctx context.Context, path string) error

	// Files.
	UpsertFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	ListFiles(ctx context.Context, folderPath string) ([]*File, error)
	ListFilesUnder(ctx context.Context, prefix string) ([]*File, error)
	MarkFileStatus(ctx context.Context, path string, status IndexStatus, errMsg string) error
	SetFileMetadata(ctx context.Context, path, text, updatedBy string) error
	DeleteFile(ctx context.Context, path string) error

	// SwapChunks atomically replaces a file's chunks and commits the
	// transition to indexed in the same transaction, so readers never
	// observe a stale chunk count.
	SwapChunks(ctx context.Context, filePath string, chunks []*Chunk, indexedHash string, embeddingVersion int) error
	GetChunks(ctx context.Context, filePath string) ([]*Chunk, error)
	GetChunkRange(ctx context.Context, filePath string, start, end int) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, filePath string) error

	// Sync sources.
	GetSyncSource(ctx context.Context, folderPath string) (*SyncSource, error)
	SetSyncSource(ctx context.Context, src *SyncSource) error
	DeleteSyncSource(ctx context.Context, folderPath string) error
	ListSyncSources(ctx context.Context) ([]*SyncSource, error)

	// Per-user folder visibility. Unset entries default to active.
	SetUserVisibility(ctx context.Context, user, folderPath string, active bool) error
	GetUserVisibility(ctx context.Context, user string) (map[string]bool, error)

	// Aggregates and process-wide state.
	StatsByExtension(ctx context.Context, folderPath string) ([]ExtensionStat, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}
