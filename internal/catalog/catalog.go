// Package catalog holds the per-tenant vector indexes and their paired
// repository records, and performs exact nearest-neighbor retrieval over them.
//
// An index artifact is immutable after load: position i in the record array
// corresponds 1:1 to vector i in the index. The Store caches one
// (Index, []Record) pair per tenant for the life of the process.
package catalog

import "errors"

var (
	// ErrUnavailable indicates the index artifacts could not be fetched from
	// storage. The caller decides whether to retry.
	ErrUnavailable = errors.New("index unavailable")

	// ErrCorrupt indicates the fetched artifacts failed to decode or their
	// vector/record counts disagree. This is a data-integrity alarm, not a
	// transient fault.
	ErrCorrupt = errors.New("index corrupt")

	// ErrDimensionMismatch indicates a query vector's dimension differs from
	// the index's build-time dimension.
	ErrDimensionMismatch = errors.New("query dimension mismatch")
)

// Record is one catalog entry: a repository described by named string fields
// (repository, description, solution_type, aws_services, primary_language,
// ...). The schema is open; the core never interprets fields beyond passing
// them through to prompts and responses.
type Record map[string]string

// Result pairs a record with its similarity to a query, in (0, 1].
type Result struct {
	Record     Record
	Similarity float64
}
