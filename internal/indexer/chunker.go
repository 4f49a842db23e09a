package indexer

import (
	"fmt"
	"strings"
)

// Default window and overlap, in lines.
const (
	DefaultWindow  = 80
	DefaultOverlap = 20
)

// LineRange is a 1-based, inclusive span of lines.
type LineRange struct {
	Start int
	End   int
}

// Chunker splits a file's lines into overlapping windows.
type Chunker struct {
	window  int
	overlap int
}

// NewChunker creates a chunker with the given window and overlap (in lines).
// Requires 0 <= overlap < window.
func NewChunker(window, overlap int) (*Chunker, error) {
	if window < 1 {
		return nil, fmt.Errorf("chunk window must be at least 1, got %d", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", window, overlap)
	}
	return &Chunker{window: window, overlap: overlap}, nil
}

// Window returns the window size in lines.
func (c *Chunker) Window() int { return c.window }

// Overlap returns the overlap in lines.
func (c *Chunker) Overlap() int { return c.overlap }

// Ranges returns the chunk boundaries for a file of n lines. Each step advances
// the cursor by at least window-overlap lines, and the last range always ends at n.
func (c *Chunker) Ranges(n int) []LineRange {
	if n <= 0 {
		return nil
	}
	out := make([]LineRange, 0, n/(c.window-c.overlap)+1)
	i := 0
	for i < n {
		j := i + c.window
		if j > n {
			j = n
		}
		out = append(out, LineRange{Start: i + 1, End: j})
		if j == n {
			break
		}
		i = j - c.overlap
		if i < 0 {
			i = 0
		}
	}
	return out
}

// Chunk pairs every range with its exact text, terminators included.
func (c *Chunker) Chunk(lines []string) []TextChunk {
	ranges := c.Ranges(len(lines))
	chunks := make([]TextChunk, len(ranges))
	for k, r := range ranges {
		chunks[k] = TextChunk{
			LineRange: r,
			Content:   strings.Join(lines[r.Start-1:r.End], ""),
		}
	}
	return chunks
}

// TextChunk is a line range together with its content.
type TextChunk struct {
	LineRange
	Content string
}

// SplitLines splits content into lines that keep their "\n" terminator
// ("\r\n" stays intact). The final line may have no terminator. Empty content
// has zero lines.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
