package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrChunkSize      = errors.New("chunkSize must be at least 100")
	ErrChunkOverlap   = errors.New("chunkOverlap must be between 0 and chunkSize-1")
	ErrNoChunks       = errors.New("chunking produced no chunks")
	errBadChunkOffset = errors.New("chunk offsets do not address the canonical text")
)

type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunk is an offset-anchored slice of the canonical text. Text is always the
// exact substring canonical[StartOffset:EndOffset]; boundary whitespace is
// trimmed by moving the offsets, never by rewriting the text.
type Chunk struct {
	StartOffset int
	EndOffset   int
	Text        string
}

// SplitChunks walks the canonical text in windows of ChunkSize bytes. For a
// non-final window it searches backward from 60% of the window for the most
// structural separator (paragraph break, then line break, then space) and
// cuts there, so words never split mid-stream. The cursor then advances to
// the cut minus ChunkOverlap, with an explicit forward-progress guard.
func SplitChunks(canonical string, opt ChunkOptions) ([]Chunk, error) {
	if opt.ChunkSize < 100 {
		return nil, ErrChunkSize
	}
	if opt.ChunkOverlap < 0 || opt.ChunkOverlap >= opt.ChunkSize {
		return nil, ErrChunkOverlap
	}
	if canonical == "" {
		return nil, ErrEmptyText
	}

	n := len(canonical)
	out := make([]Chunk, 0, n/opt.ChunkSize+1)
	cursor := 0

	for cursor < n {
		cut := cursor + opt.ChunkSize
		final := cut >= n
		if final {
			cut = n
		} else {
			cut = findCut(canonical, cursor, cut, opt.ChunkSize)
		}

		start, end := trimOffsets(canonical, cursor, cut)
		if end > start {
			out = append(out, Chunk{
				StartOffset: start,
				EndOffset:   end,
				Text:        canonical[start:end],
			})
		}

		// Overlap only steps back between windows. The final window ends the
		// walk outright, otherwise the step back would re-emit its suffix as
		// a duplicate chunk.
		if final {
			break
		}
		next := cut - opt.ChunkOverlap
		if next <= cursor {
			next = cut
		}
		cursor = next
	}

	if len(out) == 0 {
		return nil, ErrNoChunks
	}
	for _, c := range out {
		if c.Text != canonical[c.StartOffset:c.EndOffset] {
			return nil, fmt.Errorf("%w: [%d,%d)", errBadChunkOffset, c.StartOffset, c.EndOffset)
		}
	}
	return out, nil
}

// findCut returns the byte position to cut a non-final window at. Separators
// are tried longest/most-structural first; within one separator the rightmost
// occurrence wins. The search floor at 60% of the window keeps chunks from
// degenerating when the window holds one giant paragraph.
func findCut(s string, windowStart, windowEnd, chunkSize int) int {
	floor := windowStart + chunkSize*6/10
	if floor >= windowEnd {
		return windowEnd
	}
	window := s[floor:windowEnd]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			cut := floor + idx
			if cut > windowStart {
				return cut
			}
		}
	}
	return windowEnd
}

// trimOffsets narrows [start,end) past boundary whitespace so recorded
// offsets address the exact retained substring.
func trimOffsets(s string, start, end int) (int, int) {
	for start < end && isBoundaryWS(s[start]) {
		start++
	}
	for end > start && isBoundaryWS(s[end-1]) {
		end--
	}
	return start, end
}

func isBoundaryWS(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
