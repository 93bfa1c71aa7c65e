package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Split(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		size  int
		count int
	}{
		{"empty", "   ", 100, 0},
		{"short text is one chunk", "Grappling is a special melee attack.", 100, 1},
		{"exact size", strings.Repeat("a", 100), 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := NewChunker(tt.size, 10).Split(tt.text)
			require.NoError(t, err)
			assert.Len(t, chunks, tt.count)
		})
	}
}

func TestChunker_SizeAndOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		sb.WriteString("word")
		sb.WriteString(strings.Repeat("x", i%5))
		sb.WriteString(" ")
	}
	text := sb.String()

	c := NewChunker(200, 40)
	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 5)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 200, "chunk %d", i)
		assert.True(t, strings.HasPrefix(chunk, "word"), "chunk %d starts mid-word: %q", i, chunk[:10])
	}

	// consecutive chunks share text
	for i := 1; i < len(chunks); i++ {
		head := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1][len(chunks[i-1])/2:], head, "chunk %d", i)
	}

	// nothing is lost
	last := strings.Fields(chunks[len(chunks)-1])
	assert.Equal(t, strings.Fields(text)[len(strings.Fields(text))-1], last[len(last)-1])
}

func TestChunker_PrefersParagraphs(t *testing.T) {
	para := strings.Repeat("rule ", 30)
	text := para + "\n\n" + para + "\n\n" + para

	chunks, err := NewChunker(200, 0).Split(text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.Equal(t, strings.TrimSpace(para), chunk)
	}
}

func TestChunker_MultibyteText(t *testing.T) {
	text := strings.Repeat("épée ", 100)
	chunks, err := NewChunker(50, 10).Split(text)
	require.NoError(t, err)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 50)
	}
}

func TestChunker_UnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks, err := NewChunker(100, 0).Split(text)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 100)
	}
}

func TestChunker_InvalidSettingsFallBack(t *testing.T) {
	chunks, err := Chunker{Size: 0, Overlap: 50}.Split("Opportunity attacks use your reaction.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Opportunity attacks use your reaction."}, chunks)
}

func TestNewChunker_Defaults(t *testing.T) {
	assert.Equal(t, Chunker{Size: DefaultChunkSize, Overlap: 0}, NewChunker(0, -1))
	assert.Equal(t, Chunker{Size: 10, Overlap: 0}, NewChunker(10, 10))
	assert.Equal(t, Chunker{Size: 10, Overlap: 3}, NewChunker(10, 3))
}
