package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/repoquery/repoquery/internal/catalog"
)

// WriteTenantFixture writes a tenant's index and records artifacts under
// root, in the layout the catalog store fetches from. Vectors become the
// index rows in order; records align by position.
func WriteTenantFixture(t *testing.T, root, tenant string, dim int, vectors [][]float32, records []catalog.Record) {
	t.Helper()

	flat := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		flat = append(flat, v...)
	}
	encoded, err := catalog.EncodeIndex(dim, flat)
	if err != nil {
		t.Fatalf("encoding fixture index: %v", err)
	}

	dir := filepath.Join(root, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating fixture dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, catalog.IndexArtifact), encoded, 0o644); err != nil {
		t.Fatalf("writing index fixture: %v", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshaling records fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, catalog.RecordsArtifact), data, 0o644); err != nil {
		t.Fatalf("writing records fixture: %v", err)
	}
}
