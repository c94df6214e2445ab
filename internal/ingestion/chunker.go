package ingestion

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChunking is returned when chunk size and overlap cannot produce
// forward progress.
var ErrInvalidChunking = errors.New("ingestion: invalid chunking configuration")

// boundaryMarkers are tried in order when looking for a sentence end inside a
// window. The window is cut just after the punctuation character.
var boundaryMarkers = []string{". ", ".\n", "! ", "? "}

// Segment is one chunk together with its character offsets in the source
// text. Offsets describe the untrimmed window.
type Segment struct {
	// Start is the rune offset where the window begins.
	Start int
	// End is the rune offset just past the window.
	End int
	// Text is the trimmed window content.
	Text string
}

// Chunker splits text into overlapping windows that prefer to end on a
// sentence boundary.
type Chunker struct {
	// Size is the maximum window width in characters.
	Size int
	// Overlap is how many characters consecutive windows share.
	Overlap int
}

// NewChunker validates size and overlap.
func NewChunker(size, overlap int) (*Chunker, error) {
	switch {
	case size <= 0:
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, size)
	case overlap < 0:
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidChunking, overlap)
	case overlap >= size:
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidChunking, overlap, size)
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// Split returns the chunk texts of text in order.
func (c *Chunker) Split(text string) []string {
	segs := c.Segments(text)
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

// Segments walks text with a window of c.Size characters, advancing by
// c.Size-c.Overlap until the start passes the end of the text, so the short
// windows at the tail are kept. A window that does not reach the end of the
// text is shortened to the last sentence boundary found in its second half;
// the next window then starts c.Overlap before the cut so no text is skipped.
// Windows that are blank after trimming are dropped.
func (c *Chunker) Segments(text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []Segment
	start := 0
	for start < n {
		end := start + c.Size
		if end > n {
			end = n
		}
		if end < n {
			end = start + cutAtBoundary(runes[start:end], c.Size)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, Segment{Start: start, End: end, Text: chunk})
		}

		next := start + c.Size - c.Overlap
		if end < n && end < start+c.Size {
			next = end - c.Overlap
			if next <= start {
				next = end
			}
		}
		start = next
	}
	return out
}

// cutAtBoundary returns the window length after applying the boundary rule.
// A marker only counts when its last occurrence starts past size/2.
func cutAtBoundary(window []rune, size int) int {
	s := string(window)
	for _, marker := range boundaryMarkers {
		idx := strings.LastIndex(s, marker)
		if idx < 0 {
			continue
		}
		pos := len([]rune(s[:idx]))
		if pos > size/2 {
			return pos + 1
		}
	}
	return len(window)
}

// ChunkID derives a stable identifier from the document stem, chunk position
// and chunk content.
func ChunkID(stem string, index int, text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec // identifier, not security
	return fmt.Sprintf("%s_chunk%d_%s", stem, index, hex.EncodeToString(sum[:])[:8])
}
