package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "word%d", i)
	}
	return sb.String()
}

func TestSplitEmpty(t *testing.T) {
	c := New(512, 50)
	assert.Nil(t, c.Split("", nil))
	assert.Nil(t, c.Split("   \n\t  ", nil))
}

func TestSplitSingleChunk(t *testing.T) {
	c := New(512, 50)
	text := words(100)
	chunks := c.Split(text, nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 100, chunks[0].TokenCount)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(text), chunks[0].CharEnd)
}

func TestSplitOverlap(t *testing.T) {
	c := New(100, 20)
	text := words(250)
	chunks := c.Split(text, nil)
	require.Len(t, chunks, 3)

	// Windows advance by size-overlap tokens.
	assert.Equal(t, 100, chunks[0].TokenCount)
	assert.Equal(t, 100, chunks[1].TokenCount)
	assert.Equal(t, 250-2*80, chunks[2].TokenCount)

	// The second chunk begins inside the first chunk's tail.
	assert.Less(t, chunks[1].CharStart, chunks[0].CharEnd)
	assert.Contains(t, chunks[0].Text, "word80")
	assert.True(t, strings.HasPrefix(chunks[1].Text, "word80"))
}

func TestSplitOrdinalsAreDense(t *testing.T) {
	c := New(50, 10)
	chunks := c.Split(words(500), nil)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := New(64, 16)
	text := words(1000)
	first := c.Split(text, []int{500, 2500})
	second := c.Split(text, []int{500, 2500})
	require.Equal(t, first, second)
}

func TestSplitSnapsToSoftBreak(t *testing.T) {
	c := New(100, 0)
	text := words(200)

	// A break 5 tokens before the target boundary.
	tokens := strings.Fields(text)
	breakOffset := strings.Index(text, tokens[95])
	chunks := c.Split(text, []int{breakOffset})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 95, chunks[0].TokenCount)
}

func TestSplitIgnoresDistantBreak(t *testing.T) {
	c := New(100, 0)
	text := words(200)

	// A break 50 tokens before the target is outside the 10% window.
	tokens := strings.Fields(text)
	breakOffset := strings.Index(text, tokens[50])
	chunks := c.Split(text, []int{breakOffset})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 100, chunks[0].TokenCount)
}

func TestCharOffsetsSliceSource(t *testing.T) {
	c := New(30, 5)
	text := words(100)
	for _, ch := range c.Split(text, nil) {
		assert.Equal(t, ch.Text, text[ch.CharStart:ch.CharEnd])
	}
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 3, CountTokens("one two three"))
	assert.Equal(t, 3, CountTokens("  one\n two\tthree  "))
}

func TestNewClampsOverlap(t *testing.T) {
	c := New(100, 100)
	assert.Equal(t, 25, c.overlap)

	c = New(0, -1)
	assert.Equal(t, DefaultSize, c.size)
	assert.Equal(t, DefaultOverlap, c.overlap)
}
