// Package chunker splits source text into overlapping, sentence-aligned windows.
package chunker

import "unicode"

const (
	// DefaultChunkSize is used when a caller passes a non-positive size.
	DefaultChunkSize = 1000

	// boundaryLookback is how far back from a window end we look for a
	// sentence terminator or newline to cut on.
	boundaryLookback = 100
)

// Chunk is a trimmed window of the source. StartIndex and EndIndex are rune
// offsets; Text equals the source runes in [StartIndex, EndIndex).
type Chunk struct {
	Text       string
	StartIndex int
	EndIndex   int
}

// Split slides a chunkSize-rune window over text. Each cut is moved back to
// just after the last '.', '!', '?' or newline found within the final 100
// runes of the window, and the next window starts chunkOverlap runes before
// the cut. Empty input yields no chunks.
func Split(text string, chunkSize, chunkOverlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []Chunk

	start := 0
	for start < n {
		end := min(start+chunkSize, n)
		if end < n {
			end = cutPoint(runes, start, end)
		}

		if c, ok := trimmed(runes, start, end); ok {
			chunks = append(chunks, c)
		}
		if end >= n {
			break
		}

		next := end - chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cutPoint returns the window end moved back to the nearest boundary, or end
// unchanged when no boundary exists in the lookback range.
func cutPoint(runes []rune, start, end int) int {
	floor := max(start+1, end-boundaryLookback)
	for i := end - 1; i >= floor; i-- {
		if isBoundary(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isBoundary(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

func trimmed(runes []rune, start, end int) (Chunk, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return Chunk{}, false
	}
	return Chunk{
		Text:       string(runes[start:end]),
		StartIndex: start,
		EndIndex:   end,
	}, true
}
