package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/repoquery/repoquery/internal/blob"
)

// Artifact names within a tenant's storage prefix.
const (
	IndexArtifact   = "index.bin"
	RecordsArtifact = "records.json"
)

// TenantIndex is one cached (index, records) pair.
type TenantIndex struct {
	Index   *Index
	Records []Record
}

// Store loads tenant indexes lazily and caches them for the life of the
// process. Entries are never invalidated or evicted: tenants are few and
// artifacts are megabytes, so unbounded growth is an accepted tradeoff.
//
// Safe for concurrent use. Two concurrent misses for the same tenant may both
// fetch; the load is a pure function of the tenant, so last-write-wins into
// the cache is harmless and no singleflight is needed.
type Store struct {
	fetcher blob.Fetcher
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*TenantIndex
}

// NewStore creates a Store backed by the given artifact fetcher.
func NewStore(fetcher blob.Fetcher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*TenantIndex),
	}
}

// Load returns the index and records for tenant, fetching and decoding the
// artifacts on first access. The warm path is a map read under RLock and
// must stay the common case under sustained load.
//
// Fetch failures surface as ErrUnavailable, decode failures and count
// mismatches as ErrCorrupt. Neither is retried here.
func (s *Store) Load(ctx context.Context, tenant string) (*TenantIndex, error) {
	s.mu.RLock()
	entry, ok := s.cache[tenant]
	s.mu.RUnlock()
	if ok {
		s.logger.Debug("using cached index", "tenant", tenant)
		return entry, nil
	}

	start := time.Now()

	indexData, err := s.fetcher.Fetch(ctx, tenant, IndexArtifact)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %q: %v", ErrUnavailable, tenant, err)
	}
	recordData, err := s.fetcher.Fetch(ctx, tenant, RecordsArtifact)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %q: %v", ErrUnavailable, tenant, err)
	}
	fetchElapsed := time.Since(start)

	ix, err := DecodeIndex(indexData)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenant, err)
	}

	var records []Record
	if err := json.Unmarshal(recordData, &records); err != nil {
		return nil, fmt.Errorf("%w: tenant %q records: %v", ErrCorrupt, tenant, err)
	}

	if ix.Len() != len(records) {
		return nil, fmt.Errorf("%w: tenant %q has %d vectors but %d records",
			ErrCorrupt, tenant, ix.Len(), len(records))
	}

	entry = &TenantIndex{Index: ix, Records: records}

	s.mu.Lock()
	s.cache[tenant] = entry
	s.mu.Unlock()

	s.logger.Debug("loaded index",
		"tenant", tenant,
		"vectors", ix.Len(),
		"dimension", ix.Dimension(),
		"fetch_elapsed", fetchElapsed,
		"total_elapsed", time.Since(start),
	)
	return entry, nil
}

// Cached reports whether tenant is already resident, without loading.
func (s *Store) Cached(tenant string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[tenant]
	return ok
}
