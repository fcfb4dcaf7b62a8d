package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Artifact framing for the serialized index: magic, format version, dimension,
// vector count, then count*dim little-endian float32 values.
const (
	indexMagic   = "RQIX"
	indexVersion = 1
	headerSize   = 4 + 1 + 4 + 4
)

// Index is an exact-search nearest-neighbor structure over fixed-dimension
// vectors. Immutable after construction; safe for concurrent readers.
type Index struct {
	dim     int
	vectors []float32 // len = dim * count, row-major
}

// NewIndex builds an in-memory index from row-major vector data.
// len(vectors) must be a multiple of dim.
func NewIndex(dim int, vectors []float32) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrCorrupt, dim)
	}
	if len(vectors)%dim != 0 {
		return nil, fmt.Errorf("%w: %d floats not divisible by dimension %d",
			ErrCorrupt, len(vectors), dim)
	}
	return &Index{dim: dim, vectors: vectors}, nil
}

// Dimension returns the build-time vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of vectors in the index.
func (ix *Index) Len() int { return len(ix.vectors) / ix.dim }

// DecodeIndex parses a serialized index artifact.
func DecodeIndex(data []byte) (*Index, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: artifact too short (%d bytes)", ErrCorrupt, len(data))
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[:4])
	}
	if data[4] != indexVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, data[4])
	}

	dim := int(binary.LittleEndian.Uint32(data[5:9]))
	count := int(binary.LittleEndian.Uint32(data[9:13]))
	if dim <= 0 || count < 0 {
		return nil, fmt.Errorf("%w: dim=%d count=%d", ErrCorrupt, dim, count)
	}

	want := headerSize + dim*count*4
	if len(data) != want {
		return nil, fmt.Errorf("%w: payload is %d bytes, header implies %d",
			ErrCorrupt, len(data), want)
	}

	vectors := make([]float32, dim*count)
	for i := range vectors {
		off := headerSize + i*4
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return &Index{dim: dim, vectors: vectors}, nil
}

// EncodeIndex serializes vectors into the artifact format. The inverse of
// DecodeIndex; used by the offline builder and by test fixtures.
func EncodeIndex(dim int, vectors []float32) ([]byte, error) {
	if dim <= 0 || len(vectors)%dim != 0 {
		return nil, fmt.Errorf("%w: cannot encode %d floats at dimension %d",
			ErrCorrupt, len(vectors), dim)
	}
	count := len(vectors) / dim

	buf := make([]byte, headerSize+len(vectors)*4)
	copy(buf, indexMagic)
	buf[4] = indexVersion
	binary.LittleEndian.PutUint32(buf[5:9], uint32(dim))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(count))
	for i, v := range vectors {
		off := headerSize + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
	}
	return buf, nil
}

// Search returns the top-k records nearest to query, ordered by descending
// similarity. Distance is squared Euclidean — the metric the artifacts are
// built with — and similarity = 1/(1+d), bounded in (0, 1].
//
// Result indices past the end of records are skipped rather than padded; a
// transient count mismatch degrades the result set instead of crashing.
// Pure function of its inputs; no side effects.
func Search(ix *Index, records []Record, query []float32, k int) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d",
			ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	n := ix.Len()
	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, n)
	for i := 0; i < n; i++ {
		row := ix.vectors[i*ix.dim : (i+1)*ix.dim]
		var d float64
		for j, q := range query {
			diff := float64(row[j]) - float64(q)
			d += diff * diff
		}
		hits = append(hits, hit{idx: i, dist: d})
	}

	// Ascending distance; ties break on index order so results are stable.
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].idx < hits[b].idx
	})

	results := make([]Result, 0, min(k, n))
	for _, h := range hits {
		if len(results) == k {
			break
		}
		if h.idx >= len(records) {
			continue
		}
		results = append(results, Result{
			Record:     records[h.idx],
			Similarity: 1 / (1 + h.dist),
		})
	}
	return results, nil
}
