package usecases

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// Segment is one chunk of parsed text. Start and End are rune offsets, half-open.
type Segment struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker splits text into overlapping segments.
// Pure business logic - no external dependencies.
type Chunker struct {
	size    int
	overlap int
	window  int
}

// NewChunker validates the chunking parameters.
// window is how far back from the size limit a natural boundary is searched for.
func NewChunker(size, overlap, window int) (*Chunker, error) {
	if size <= 0 {
		return nil, entities.Errorf(entities.KindInvalidInput, "chunker", "size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, entities.Errorf(entities.KindInvalidInput, "chunker", "overlap must be in [0, %d), got %d", size, overlap)
	}
	if window < 0 || window >= size-overlap {
		return nil, entities.Errorf(entities.KindInvalidInput, "chunker", "window must be in [0, %d), got %d", size-overlap, window)
	}
	return &Chunker{size: size, overlap: overlap, window: window}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into segments of at most size runes. Consecutive segments
// share exactly overlap runes and the last segment ends at the end of text.
func (c *Chunker) Split(text string) ([]Segment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, entities.E(entities.KindEmptyDocument, "chunk", fmt.Errorf("no extractable text"))
	}

	runes := []rune(text)
	n := len(runes)
	var segments []Segment

	for start := 0; ; {
		end := start + c.size
		final := end >= n
		if final {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}

		segments = append(segments, Segment{
			Index: len(segments),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if final {
			return segments, nil
		}
		start = end - c.overlap
	}
}

// boundary picks the cut point for a segment starting at start whose hard
// limit is target. Paragraph breaks win over other whitespace.
func (c *Chunker) boundary(runes []rune, start, target int) int {
	lo := target - c.window
	if floor := start + c.overlap + 1; lo < floor {
		lo = floor
	}

	// A cut after rune i yields end = i+1, which must stay within [lo, target].
	for i := target - 1; i >= lo-1 && i >= 1; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := target - 1; i >= lo-1; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return target
}
