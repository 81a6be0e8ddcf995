package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	vectorsFile  = "vectors.bin"
	metadataFile = "metadata.json"
)

// Save writes the full index state into dir: the raw vector rows as one
// little-endian float32 blob and the metadata sequence as one JSON blob.
// Each file is written to a temp name and renamed, so a crash mid-write
// leaves the previous state intact.
func (f *Flat) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir failed: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := writeAtomic(filepath.Join(dir, metadataFile), func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(f.metas)
	}); err != nil {
		return fmt.Errorf("write index metadata failed: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, vectorsFile), func(w *bufio.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(f.vecs))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(f.dim)); err != nil {
			return err
		}
		for _, row := range f.vecs {
			if err := binary.Write(w, binary.LittleEndian, row); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("write index vectors failed: %w", err)
	}
	return nil
}

// Load restores an index of the given dimension from dir. If neither file
// exists the index starts empty. A half-written pair, a dimension that does
// not match, or a vector/metadata count mismatch is fatal: the caller must
// refuse to serve rather than truncate silently.
func Load(dir string, dimension int) (*Flat, error) {
	vecPath := filepath.Join(dir, vectorsFile)
	metaPath := filepath.Join(dir, metadataFile)

	vecMissing := fileMissing(vecPath)
	metaMissing := fileMissing(metaPath)
	if vecMissing && metaMissing {
		return NewFlat(dimension), nil
	}
	if vecMissing != metaMissing {
		return nil, fmt.Errorf("index files incomplete in %s: %w", dir, ErrIndexCorruption)
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read index metadata failed: %w", err)
	}
	var metas []ChunkMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, fmt.Errorf("decode index metadata failed: %w", err)
	}

	vf, err := os.Open(vecPath)
	if err != nil {
		return nil, fmt.Errorf("open index vectors failed: %w", err)
	}
	defer vf.Close()

	r := bufio.NewReader(vf)
	var count, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read vector header failed: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read vector header failed: %w", err)
	}
	if int(dim) != dimension {
		return nil, fmt.Errorf("stored dimension %d, configured %d: %w", dim, dimension, ErrDimensionMismatch)
	}
	if int(count) != len(metas) {
		return nil, fmt.Errorf("%d vectors but %d metadata entries: %w", count, len(metas), ErrIndexCorruption)
	}

	// the header counts are untrusted until checked against the file size
	fi, err := vf.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index vectors failed: %w", err)
	}
	if want := int64(8) + int64(count)*int64(dim)*4; fi.Size() != want {
		return nil, fmt.Errorf("vector file is %d bytes, want %d: %w", fi.Size(), want, ErrIndexCorruption)
	}

	vecs := make([][]float32, count)
	for i := range vecs {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("read vector row %d failed: %w", i, err)
		}
		vecs[i] = row
	}

	return &Flat{dim: dimension, vecs: vecs, metas: metas}, nil
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	if err := fill(w); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func fileMissing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}
