package knowledge

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits documents into overlapping windows measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker, replacing unusable values with the defaults.
func NewChunker(size, overlap int) Chunker {
	if size < 1 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split cuts text into chunks of at most Size runes, preferring paragraph,
// then line, then word boundaries. Consecutive chunks share up to Overlap
// runes of trailing text.
func (c Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	c = NewChunker(c.Size, c.Overlap)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.Size),
		textsplitter.WithChunkOverlap(c.Overlap),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}
