package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lodekb/lodestone/internal/errors"
)

// SwapChunks replaces a file's chunk set and commits the transition to
// indexed in the same transaction: delete old chunks, insert new ones,
// then set index_status, indexed_hash, chunk_count and indexed_at.
// Readers therefore never observe a chunk count that disagrees with
// the chunk rows.
func (s *SQLiteStore) SwapChunks(ctx context.Context, filePath string, chunks []*Chunk, indexedHash string, embeddingVersion int) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("swap chunks", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, filePath); err != nil {
		return wrapDB("swap chunks: delete", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_path, ordinal, text, token_count, char_start, char_end, embedding_version, dense_vector_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapDB("swap chunks: prepare", err)
	}
	defer insert.Close()

	for _, c := range chunks {
		_, err := insert.ExecContext(ctx, filePath, c.Ordinal, c.Text, c.TokenCount,
			c.CharStart, c.CharEnd, c.EmbeddingVersion, int64(c.DenseVectorID))
		if err != nil {
			return wrapDB("swap chunks: insert", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE files SET index_status = ?, indexed_hash = ?, chunk_count = ?,
			embedding_version = ?, indexed_at = ?, error_message = ''
		WHERE path = ?`,
		string(IndexIndexed), indexedHash, len(chunks), embeddingVersion, time.Now().UTC(), filePath)
	if err != nil {
		return wrapDB("swap chunks: mark indexed", err)
	}
	if err := requireRow(res, "file", filePath); err != nil {
		return err
	}
	return wrapDB("swap chunks: commit", tx.Commit())
}

// GetChunks returns a file's chunks in ordinal order.
func (s *SQLiteStore) GetChunks(ctx context.Context, filePath string) ([]*Chunk, error) {
	return s.GetChunkRange(ctx, filePath, 0, -1)
}

// GetChunkRange returns chunks with start <= ordinal <= end. A
// negative end means no upper bound.
func (s *SQLiteStore) GetChunkRange(ctx context.Context, filePath string, start, end int) ([]*Chunk, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, errors.Newf(errors.KindInvalidPath, "chunk range start must be non-negative, got %d", start)
	}
	var rows *sql.Rows
	var err error
	if end < 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT file_path, ordinal, text, token_count, char_start, char_end, embedding_version, dense_vector_id
			FROM chunks WHERE file_path = ? AND ordinal >= ? ORDER BY ordinal`, filePath, start)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT file_path, ordinal, text, token_count, char_start, char_end, embedding_version, dense_vector_id
			FROM chunks WHERE file_path = ? AND ordinal BETWEEN ? AND ? ORDER BY ordinal`, filePath, start, end)
	}
	if err != nil {
		return nil, wrapDB("get chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		var c Chunk
		var vid int64
		if err := rows.Scan(&c.FilePath, &c.Ordinal, &c.Text, &c.TokenCount,
			&c.CharStart, &c.CharEnd, &c.EmbeddingVersion, &vid); err != nil {
			return nil, wrapDB("scan chunk", err)
		}
		c.DenseVectorID = uint64(vid)
		out = append(out, &c)
	}
	return out, wrapDB("iterate chunks", rows.Err())
}

// DeleteChunks removes all chunk rows for a file.
func (s *SQLiteStore) DeleteChunks(ctx context.Context, filePath string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, filePath)
	return wrapDB("delete chunks", err)
}
