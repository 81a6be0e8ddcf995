package chunker

import (
	"errors"
	"strings"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

var ErrInvalidOverlap = errors.New("chunk overlap must be smaller than chunk size")

// Chunk is one word-window slice of a source document. Ordinal is the
// position of the window within the document, starting at 0.
type Chunk struct {
	Text    string
	Ordinal int
}

// Split tokenizes text on whitespace and cuts it into windows of up to size
// words, each window starting size-overlap words after the previous one.
// Whitespace-only input yields no chunks. The result is deterministic for a
// given input and parameters.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, ErrInvalidOverlap
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := size - overlap
	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Text:    strings.Join(words[i:end], " "),
			Ordinal: len(chunks),
		})
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}
