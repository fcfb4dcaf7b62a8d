package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSFetcher_ReadsArtifact(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "aws-samples")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	want := []byte(`[{"repository":"a"}]`)
	if err := os.WriteFile(filepath.Join(dir, "records.json"), want, 0o600); err != nil {
		t.Fatal(err)
	}

	f := NewFSFetcher(root)
	got, err := f.Fetch(context.Background(), "aws-samples", "records.json")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Fetch() = %q, want %q", got, want)
	}
}

func TestFSFetcher_MissingIsNotFound(t *testing.T) {
	f := NewFSFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), "nobody", "index.bin")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch() error = %v, want ErrNotFound", err)
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"aws-samples", "index.bin", "org_2"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", k, err)
		}
	}

	invalid := []string{"", ".", "..", "a/b", `a\b`, "a\x00b"}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) = %v, want ErrInvalidKey", k, err)
		}
	}
}

func TestFSFetcher_RejectsTraversal(t *testing.T) {
	f := NewFSFetcher(t.TempDir())
	if _, err := f.Fetch(context.Background(), "..", "index.bin"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("traversal tenant accepted: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "ok", "../secret"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("traversal name accepted: %v", err)
	}
}
