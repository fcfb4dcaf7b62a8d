package catalog

import (
	"errors"
	"testing"
)

// fourCorners builds a 2-dim index with vectors at known positions so
// distances are easy to reason about.
func fourCorners(t *testing.T) (*Index, []Record) {
	t.Helper()
	ix, err := NewIndex(2, []float32{
		0, 0,
		1, 0,
		0, 3,
		5, 5,
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	records := []Record{
		{"repository": "origin"},
		{"repository": "near"},
		{"repository": "mid"},
		{"repository": "far"},
	}
	return ix, records
}

func TestSearch_OrdersByDescendingSimilarity(t *testing.T) {
	ix, records := fourCorners(t)

	results, err := Search(ix, records, []float32{0, 0}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	wantOrder := []string{"origin", "near", "mid", "far"}
	for i, want := range wantOrder {
		if got := results[i].Record["repository"]; got != want {
			t.Errorf("rank %d = %q, want %q", i+1, got, want)
		}
	}

	for i, r := range results {
		if r.Similarity <= 0 || r.Similarity > 1 {
			t.Errorf("similarity[%d] = %v, want in (0,1]", i, r.Similarity)
		}
		if i > 0 && results[i-1].Similarity < r.Similarity {
			t.Errorf("similarity not non-increasing at rank %d: %v < %v",
				i+1, results[i-1].Similarity, r.Similarity)
		}
	}

	// Exact match has distance 0, so similarity must be exactly 1.
	if results[0].Similarity != 1 {
		t.Errorf("exact match similarity = %v, want 1", results[0].Similarity)
	}
}

func TestSearch_TruncatesToK(t *testing.T) {
	ix, records := fourCorners(t)

	results, err := Search(ix, records, []float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	ix, records := fourCorners(t)

	results, err := Search(ix, records, []float32{0, 0}, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// No padding: at most the index size comes back.
	if len(results) != 4 {
		t.Errorf("got %d results, want 4", len(results))
	}
}

func TestSearch_SkipsOutOfRangeRecords(t *testing.T) {
	ix, records := fourCorners(t)
	short := records[:2] // simulate a transient record/vector mismatch

	results, err := Search(ix, short, []float32{5, 5}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		name := r.Record["repository"]
		if name != "origin" && name != "near" {
			t.Errorf("result %q should have been skipped", name)
		}
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2 (no padding)", len(results))
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	ix, records := fourCorners(t)
	_, err := Search(ix, records, []float32{1, 2, 3}, 2)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearch_NonPositiveK(t *testing.T) {
	ix, records := fourCorners(t)
	results, err := Search(ix, records, []float32{0, 0}, 0)
	if err != nil || results != nil {
		t.Errorf("Search(k=0) = (%v, %v), want (nil, nil)", results, err)
	}
}

func TestEncodeDecodeIndex(t *testing.T) {
	vectors := []float32{0.5, -1.25, 3, 0, 2.75, -0.001}
	data, err := EncodeIndex(3, vectors)
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}

	ix, err := DecodeIndex(data)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if ix.Dimension() != 3 || ix.Len() != 2 {
		t.Errorf("decoded dim=%d len=%d, want 3 and 2", ix.Dimension(), ix.Len())
	}
	for i, v := range vectors {
		if ix.vectors[i] != v {
			t.Errorf("vector[%d] = %v, want %v", i, ix.vectors[i], v)
		}
	}
}

func TestDecodeIndex_Corrupt(t *testing.T) {
	good, err := EncodeIndex(2, []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RQ")},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"bad version", func() []byte {
			d := append([]byte(nil), good...)
			d[4] = 99
			return d
		}()},
		{"truncated payload", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeIndex(tt.data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("DecodeIndex error = %v, want ErrCorrupt", err)
			}
		})
	}
}
