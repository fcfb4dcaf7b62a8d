// Package blob fetches serialized index artifacts from durable storage.
//
// Artifacts live under a storage root, one prefix per tenant:
//
//	<root>/<tenant>/index.bin
//	<root>/<tenant>/records.json
//
// The Fetcher interface keeps the backend swappable; the shipped
// implementation reads from the local filesystem (or a mounted bucket).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned when a key segment fails validation.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Fetcher retrieves artifact bytes by tenant and name.
type Fetcher interface {
	Fetch(ctx context.Context, tenant, name string) ([]byte, error)
}

// ValidateKey checks that a tenant or artifact name is safe to join into a
// storage path. Rejects empties, separators, null bytes, and dot segments.
func ValidateKey(key string) error {
	if key == "" || len(key) > 255 {
		return ErrInvalidKey
	}
	for _, c := range key {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrInvalidKey
		}
	}
	if key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}

// FSFetcher reads artifacts from a directory tree rooted at Root.
type FSFetcher struct {
	root string
}

// NewFSFetcher creates a filesystem-backed Fetcher rooted at root.
func NewFSFetcher(root string) *FSFetcher {
	return &FSFetcher{root: root}
}

// Fetch reads <root>/<tenant>/<name>. A missing file maps to ErrNotFound;
// any other I/O failure is returned wrapped for the caller to classify.
func (f *FSFetcher) Fetch(ctx context.Context, tenant, name string) ([]byte, error) {
	if err := ValidateKey(tenant); err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenant, err)
	}
	if err := ValidateKey(name); err != nil {
		return nil, fmt.Errorf("name %q: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", tenant, name, err)
	}

	data, err := os.ReadFile(filepath.Join(f.root, tenant, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fetch %s/%s: %w", tenant, name, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", tenant, name, err)
	}
	return data, nil
}
