package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestChunker_ShortTextIsOneChunk(t *testing.T) {
	c := NewChunker(ChunkingConfig{ChunkSize: 100, ChunkOverlap: 10})
	chunks := c.Split("  Apple reported revenue of $383.3 billion.  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Apple reported revenue of $383.3 billion.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Position)
}

func TestChunker_EmptyText(t *testing.T) {
	assert.Empty(t, NewChunker(DefaultChunkingConfig()).Split("   "))
}

func TestChunker_SplitsOnParagraphs(t *testing.T) {
	para := strings.Repeat("Net income rose sharply. ", 4)
	text := para + "\n\n" + para + "\n\n" + para

	c := NewChunker(ChunkingConfig{ChunkSize: 120, ChunkOverlap: 0})
	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, strings.TrimSpace(para), ch.Content)
	}
}

func TestChunker_OverlapCarriesPreviousTail(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)
	c := NewChunker(ChunkingConfig{ChunkSize: 60, ChunkOverlap: 15})
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		words := strings.Fields(chunks[i-1].Content)
		last := words[len(words)-1]
		assert.Contains(t, chunks[i].Content, last)
	}
}

func TestChunker_LongWordFallsBackToRunes(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := NewChunker(ChunkingConfig{ChunkSize: 100, ChunkOverlap: 0}).Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[2].Content))
}

func TestChunker_Property_BoundedAndComplete(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,12}`), 1, 200).Draw(rt, "words")
		size := rapid.IntRange(20, 200).Draw(rt, "size")
		overlap := rapid.IntRange(0, size/4).Draw(rt, "overlap")
		text := strings.Join(words, " ")

		chunks := NewChunker(ChunkingConfig{ChunkSize: size, ChunkOverlap: overlap}).Split(text)
		if len(chunks) == 0 {
			rt.Fatalf("no chunks for non-empty text")
		}
		joined := ""
		for i, ch := range chunks {
			if ch.Position != i {
				rt.Fatalf("position %d != %d", ch.Position, i)
			}
			if n := utf8.RuneCountInString(ch.Content); n > size+overlap+1 {
				rt.Fatalf("chunk %d has %d runes, limit %d", i, n, size+overlap+1)
			}
			joined += " " + ch.Content
		}
		for _, w := range words {
			if !strings.Contains(joined, w) {
				rt.Fatalf("word %q lost", w)
			}
		}
	})
}
