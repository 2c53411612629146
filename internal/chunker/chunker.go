package chunker

import (
	"strings"
	"unicode/utf8"
)

// Segment is one ordered piece of a document's extracted text, the unit of
// embedding and retrieval.
type Segment struct {
	Index   int
	Content string
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into segments of at most the configured size, breaking
// near sentence or paragraph boundaries and carrying the configured overlap
// between adjacent segments. Cuts always land on rune boundaries, so every
// segment is valid UTF-8 whenever the input is. The output is
// deterministic: identical input always yields identical segments with
// contiguous indices starting at 0. Empty or whitespace-only input yields
// no segments.
func (c *Chunker) Chunk(text string) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= c.size {
		return []Segment{{Index: 0, Content: text}}
	}

	var segments []Segment
	start := 0
	for start < len(text) {
		end := min(start+c.size, len(text))
		if end < len(text) {
			end = runeStart(text, end)
			// Prefer a clean break in the back half of the window.
			if b, ok := boundaryBefore(text, start+c.size/2, end); ok {
				end = b
			}
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			segments = append(segments, Segment{Index: len(segments), Content: content})
		}

		if end == len(text) {
			break
		}
		next := runeStart(text, end-c.overlap)
		if next <= start {
			_, n := utf8.DecodeRuneInString(text[start:])
			next = start + n
		}
		start = next
	}
	return segments
}

// runeStart walks i back to the start of the rune containing it.
func runeStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// boundaryBefore finds the cut position just after the last sentence
// terminator in (lo, end). The result is a rune start.
func boundaryBefore(text string, lo, end int) (int, bool) {
	for i := end - 1; i > lo; i-- {
		if !utf8.RuneStart(text[i]) {
			continue
		}
		r, n := utf8.DecodeRuneInString(text[i:])
		if isBoundary(r) {
			return i + n, true
		}
	}
	return 0, false
}

func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}
