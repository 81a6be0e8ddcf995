package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestSplit_SingleChunk(t *testing.T) {
	chunks, err := Split("Alice likes apples. Bob likes bananas.", DefaultChunkSize, DefaultOverlap)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("Expected ordinal 0, got %d", chunks[0].Ordinal)
	}
	if !strings.Contains(chunks[0].Text, "apples") {
		t.Errorf("Chunk text lost content: %q", chunks[0].Text)
	}
}

func TestSplit_WindowsAndOverlap(t *testing.T) {
	const size, overlap, total = 10, 3, 25
	chunks, err := Split(words(total), size, overlap)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	// step 7: windows start at 0, 7, 14, 21
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Text == "" {
			t.Errorf("Chunk %d is empty", i)
		}
		n := len(strings.Fields(c.Text))
		if n > size {
			t.Errorf("Chunk %d has %d words, max is %d", i, n, size)
		}
		if c.Ordinal != i {
			t.Errorf("Chunk %d has ordinal %d", i, c.Ordinal)
		}
	}
	// consecutive full windows share exactly `overlap` words
	for i := 0; i+1 < len(chunks); i++ {
		prev := strings.Fields(chunks[i].Text)
		next := strings.Fields(chunks[i+1].Text)
		if len(prev) < size {
			continue
		}
		tail := prev[len(prev)-overlap:]
		head := next[:overlap]
		for j := range tail {
			if tail[j] != head[j] {
				t.Errorf("Chunks %d/%d overlap mismatch: %v vs %v", i, i+1, tail, head)
				break
			}
		}
	}
}

func TestSplit_Whitespace(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t  \n"} {
		chunks, err := Split(input, 10, 2)
		if err != nil {
			t.Fatalf("Split(%q) failed: %v", input, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Split(%q): expected no chunks, got %d", input, len(chunks))
		}
	}
}

func TestSplit_OverlapTooLarge(t *testing.T) {
	for _, overlap := range []int{10, 11, 100} {
		_, err := Split(words(30), 10, overlap)
		if !errors.Is(err, ErrInvalidOverlap) {
			t.Errorf("overlap=%d: expected ErrInvalidOverlap, got %v", overlap, err)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := words(137)
	first, err := Split(text, 20, 5)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	second, err := Split(text, 20, 5)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("Chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Chunk %d differs between runs", i)
		}
	}
}
