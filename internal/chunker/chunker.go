// Package chunker splits extracted page text into overlapping windows and
// attributes each window to the page it starts on.
package chunker

import (
	"sort"
	"strings"

	"github.com/feichai0017/vectordocs/internal/models"
)

// TokenCounter counts model tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// Chunker carries the window settings and the optional token counter.
type Chunker struct {
	size    int
	overlap int
	tokens  TokenCounter
}

// New creates a chunker. tokens may be nil.
func New(size, overlap int, tokens TokenCounter) *Chunker {
	return &Chunker{size: size, overlap: overlap, tokens: tokens}
}

// Split chunks pages with the configured settings.
func (c *Chunker) Split(pages []models.PageText) []models.Chunk {
	chunks := Split(pages, c.size, c.overlap)
	if c.tokens != nil {
		for i := range chunks {
			chunks[i].TokenCount = c.tokens.Count(chunks[i].Text)
		}
	}
	return chunks
}

// Split concatenates the page texts and cuts them into windows of size
// runes, each starting overlap runes before the previous one ended.
// Only Text and PageNumber are set on the returned chunks.
func Split(pages []models.PageText, size, overlap int) []models.Chunk {
	var sb strings.Builder
	starts := make([]int, 0, len(pages))
	offset := 0
	for _, p := range pages {
		starts = append(starts, offset)
		sb.WriteString(p.Text)
		offset += len([]rune(p.Text))
	}

	text := []rune(sb.String())
	if strings.TrimSpace(string(text)) == "" {
		return nil
	}

	if size <= 0 {
		return []models.Chunk{{Text: string(text), PageNumber: pageAt(pages, starts, 0)}}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	var chunks []models.Chunk
	for start := 0; ; {
		end := min(start+size, len(text))
		chunks = append(chunks, models.Chunk{
			Text:       string(text[start:end]),
			PageNumber: pageAt(pages, starts, start),
		})
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// pageAt returns the number of the page whose text contains offset.
// Pages with empty text never own an offset.
func pageAt(pages []models.PageText, starts []int, offset int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return pages[i].Number
}
