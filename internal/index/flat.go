// Package index implements a flat in-process vector index: row vectors of a
// fixed dimension plus a positionally aligned metadata sequence, searched by
// brute-force squared-L2 scan.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension does not match index dimension")
	ErrIndexCorruption   = errors.New("vector and metadata counts disagree")
)

// ChunkMeta describes one indexed row. metas[i] always describes vecs[i];
// every mutation preserves that alignment.
type ChunkMeta struct {
	Filename string `json:"filename"`
	DocID    string `json:"doc_id"`
	ChunkID  int    `json:"chunk_id"`
	OwnerID  uint   `json:"owner_id"`
	Text     string `json:"text"`
}

// Result is one search hit: the row position, its squared-L2 distance to the
// query, and the row's metadata.
type Result struct {
	Row      int
	Distance float32
	Meta     ChunkMeta
}

type Flat struct {
	mu    sync.RWMutex
	dim   int
	vecs  [][]float32
	metas []ChunkMeta
}

func NewFlat(dimension int) *Flat {
	return &Flat{dim: dimension}
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vecs)
}

// Insert appends rows. Vectors and metadata must have equal length and every
// vector must match the index dimension; on failure nothing is appended.
func (f *Flat) Insert(vecs [][]float32, metas []ChunkMeta) error {
	if len(vecs) != len(metas) {
		return fmt.Errorf("insert: %d vectors but %d metadata entries", len(vecs), len(metas))
	}
	for i, v := range vecs {
		if len(v) != f.dim {
			return fmt.Errorf("insert row %d: got %d dims, index has %d: %w", i, len(v), f.dim, ErrDimensionMismatch)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs = append(f.vecs, vecs...)
	f.metas = append(f.metas, metas...)
	return nil
}

// Search returns up to k rows sorted by ascending squared-L2 distance, ties
// broken by row order. An empty index yields an empty result, not an error.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	return f.SearchFiltered(query, k, nil)
}

// SearchFiltered is Search restricted to rows whose metadata satisfies keep.
// A nil keep matches every row.
func (f *Flat) SearchFiltered(query []float32, k int, keep func(ChunkMeta) bool) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("search: got %d dims, index has %d: %w", len(query), f.dim, ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([]Result, 0, len(f.vecs))
	for i, v := range f.vecs {
		if keep != nil && !keep(f.metas[i]) {
			continue
		}
		results = append(results, Result{Row: i, Distance: l2Squared(query, v), Meta: f.metas[i]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Row < results[j].Row
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// DeleteWhere removes every row whose metadata satisfies drop and rebuilds
// the index from the retained rows, in their original order. Returns the
// number of rows removed. Stored vectors are reused; nothing is re-embedded.
func (f *Flat) DeleteWhere(drop func(ChunkMeta) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	keptVecs := make([][]float32, 0, len(f.vecs))
	keptMetas := make([]ChunkMeta, 0, len(f.metas))
	for i, m := range f.metas {
		if drop(m) {
			continue
		}
		keptVecs = append(keptVecs, f.vecs[i])
		keptMetas = append(keptMetas, m)
	}
	removed := len(f.vecs) - len(keptVecs)
	f.vecs = keptVecs
	f.metas = keptMetas
	return removed
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
