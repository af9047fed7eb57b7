// Package vector implements the hybrid vector store: dense vectors in
// an HNSW graph, sparse keyword matching in SQLite FTS5, and point
// payloads in a plain table used for filtering. Callers treat it as an
// opaque store with upsert, filtered query, and delete-by-filter.
package vector

import "context"

// Payload is the metadata carried by every point.
type Payload struct {
	FilePath   string `json:"file_path"`
	FolderPath string `json:"folder_path"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	FileMIME   string `json:"file_mime"`
}

// Point is one chunk's entry in the store. ID is derived from
// (file_path, ordinal, embedding_version) and upsert is idempotent
// by it.
type Point struct {
	ID      uint64
	Dense   []float32
	Payload Payload
}

// Filter restricts queries and deletes. Zero fields do not filter.
type Filter struct {
	// FilePath matches exactly one file.
	FilePath string
	// FolderPrefix matches a folder and everything below it.
	FolderPrefix string
	// IncludeFolders, when non-empty, allows only points whose folder
	// equals or descends from one of the entries.
	IncludeFolders []string
	// ExcludeFolders removes points whose folder equals or descends
	// from one of the entries.
	ExcludeFolders []string
	// MIMEs, when non-empty, allows only the listed file MIME types.
	MIMEs []string
}

// QueryResult is one scored hit.
type QueryResult struct {
	ID      uint64
	Score   float64
	Dense   float64
	Sparse  float64
	Payload Payload
}

// Config tunes the store.
type Config struct {
	// Dimensions of dense vectors.
	Dimensions int
	// M is the HNSW connectivity parameter.
	M int
	// EfSearch is the HNSW search beam width.
	EfSearch int
	// Alpha is the default dense weight in hybrid scoring.
	Alpha float64
}

// DefaultConfig returns the standard tuning for the given dimension.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions: dimensions,
		M:          32,
		EfSearch:   64,
		Alpha:      0.6,
	}
}

// Store is the hybrid vector store surface the indexer and search
// engine depend on.
type Store interface {
	Upsert(ctx context.Context, points []*Point) error
	DeleteByFilter(ctx context.Context, f Filter) (int, error)
	// Query runs hybrid retrieval. alpha < 0 selects the configured
	// default. Passing nil dense or an empty sparse query degrades to
	// single-mode retrieval.
	Query(ctx context.Context, dense []float32, sparse string, k int, alpha float64, f Filter) ([]*QueryResult, error)
	CountByFile(ctx context.Context, filePath string) (int, error)
	Count(ctx context.Context) (int, error)
	Save() error
	Close() error
}
