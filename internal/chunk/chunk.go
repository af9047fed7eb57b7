// Package chunk splits extracted text into overlapping token windows.
// Chunking is deterministic: the same input yields byte-identical
// chunk boundaries and ordinals.
package chunk

import (
	"unicode"
)

const (
	// DefaultSize is the target chunk size in tokens.
	DefaultSize = 512
	// DefaultOverlap is the token overlap between adjacent chunks.
	DefaultOverlap = 50
)

// Chunk is one window of text with its position in the source.
type Chunk struct {
	Ordinal    int
	Text       string
	TokenCount int
	// CharStart and CharEnd are byte offsets into the source text.
	CharStart int
	CharEnd   int
}

// Chunker carries the window parameters.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. Non-positive size or overlap falls back to
// the defaults; overlap is clamped below size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// token is a maximal non-space run with its byte extent.
type token struct {
	start, end int
}

// CountTokens returns the whitespace token count of text. The same
// counting rule sizes chunks and sizes embedder batches.
func CountTokens(text string) int {
	return len(tokenize(text))
}

func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{start: start, end: len(text)})
	}
	return tokens
}

// Split cuts text into chunks. breaks are byte offsets of preferred
// split points; a chunk boundary snaps to a break inside a ±10%
// window around the target size.
func (c *Chunker) Split(text string, breaks []int) []Chunk {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(tokens) {
		end := start + c.size
		if end >= len(tokens) {
			end = len(tokens)
		} else {
			end = c.snapToBreak(tokens, end, breaks)
		}

		chunks = append(chunks, Chunk{
			Ordinal:    len(chunks),
			Text:       text[tokens[start].start:tokens[end-1].end],
			TokenCount: end - start,
			CharStart:  tokens[start].start,
			CharEnd:    tokens[end-1].end,
		})

		if end == len(tokens) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// snapToBreak moves the boundary token index to the soft break nearest
// the target, as long as it stays within 10% of the chunk size.
func (c *Chunker) snapToBreak(tokens []token, target int, breaks []int) int {
	slack := c.size / 10
	if slack == 0 || len(breaks) == 0 {
		return target
	}
	lo := target - slack
	if lo < 1 {
		lo = 1
	}
	hi := target + slack
	if hi > len(tokens) {
		hi = len(tokens)
	}

	best := target
	bestDist := slack + 1
	for _, b := range breaks {
		idx := boundaryAt(tokens, b)
		if idx < lo || idx > hi {
			continue
		}
		dist := idx - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = idx
			bestDist = dist
		}
	}
	return best
}

// boundaryAt returns the exclusive token index for a byte offset: the
// number of tokens ending at or before it.
func boundaryAt(tokens []token, offset int) int {
	lo, hi := 0, len(tokens)
	for lo < hi {
		mid := (lo + hi) / 2
		if tokens[mid].end <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
