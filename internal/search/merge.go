package search

import (
	"context"
	"strings"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

// MaxRangeChunks bounds one chunk-range read.
const MaxRangeChunks = 20

// RangeResult is a reconstructed span of a file.
type RangeResult struct {
	FilePath string `json:"file_path"`
	Text     string `json:"text"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	// TotalChunks is the file's full chunk count.
	TotalChunks int `json:"total_chunks"`
	// Truncated reports that the requested range exceeded the cap and
	// was cut at Start+MaxRangeChunks-1.
	Truncated bool `json:"truncated,omitempty"`
}

// GetFile reconstructs a file's full extracted text from its chunks.
func (e *Engine) GetFile(ctx context.Context, path string) (string, error) {
	f, err := e.store.GetFile(ctx, path)
	if err != nil {
		return "", err
	}
	if f.IndexStatus != store.IndexIndexed {
		return "", errors.Newf(errors.KindNotFound, "file not indexed: %s", path)
	}
	chunks, err := e.store.GetChunks(ctx, path)
	if err != nil {
		return "", err
	}
	return mergeChunks(chunks), nil
}

// GetChunkRange reconstructs chunks start..end inclusive, capped at
// MaxRangeChunks per call.
func (e *Engine) GetChunkRange(ctx context.Context, path string, start, end int) (*RangeResult, error) {
	if start < 0 || end < start {
		return nil, errors.Newf(errors.KindInvalidPath, "invalid chunk range %d..%d", start, end)
	}
	f, err := e.store.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}

	truncated := false
	if end-start+1 > MaxRangeChunks {
		end = start + MaxRangeChunks - 1
		truncated = true
	}
	chunks, err := e.store.GetChunkRange(ctx, path, start, end)
	if err != nil {
		return nil, err
	}

	res := &RangeResult{
		FilePath:    path,
		Text:        mergeChunks(chunks),
		Start:       start,
		End:         end,
		TotalChunks: f.ChunkCount,
		Truncated:   truncated,
	}
	if n := len(chunks); n > 0 {
		res.Start = chunks[0].Ordinal
		res.End = chunks[n-1].Ordinal
	}
	return res, nil
}

// mergeChunks joins consecutive chunks, deduplicating the overlap the
// chunker carried between neighbors: the longest suffix of the text so
// far that prefixes the next chunk is emitted once.
func mergeChunks(chunks []*store.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(chunks[0].Text)
	tail := chunks[0].Text
	for i := 1; i < len(chunks); i++ {
		text := chunks[i].Text
		if chunks[i].Ordinal != chunks[i-1].Ordinal+1 {
			// A gap in ordinals means no shared overlap.
			sb.WriteString("\n")
			sb.WriteString(text)
			tail = text
			continue
		}
		n := overlapLen(tail, text)
		sb.WriteString(text[n:])
		tail = text
	}
	return sb.String()
}

// overlapLen returns the length of the longest suffix of a that is
// also a prefix of b.
func overlapLen(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if a[len(a)-n:] == b[:n] {
			return n
		}
	}
	return 0
}
