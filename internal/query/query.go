// Package query orchestrates the retrieval pipeline: identity and quota
// gating, index loading, embedding, nearest-neighbor search, and answer
// synthesis.
package query

import (
	"errors"
	"fmt"

	"github.com/repoquery/repoquery/internal/quota"
)

// ErrMissingQuery indicates the request carried no query text. Nothing
// downstream runs and no usage is spent.
var ErrMissingQuery = errors.New("query is required")

// QuotaExceededError is returned when the caller's daily quota is exhausted.
// It carries the counts the rejection envelope needs.
type QuotaExceededError struct {
	Tier      quota.Tier
	Used      int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded for tier %s (used %d)", e.Tier, e.Used)
}

// Request is the normalized input for one pipeline run, after protocol
// decoding.
type Request struct {
	Query  string
	Tenant string // empty means the configured default
	K      int    // non-positive means the configured default
}

// Response is the success envelope shared by both protocols.
type Response struct {
	Answer               string           `json:"answer"`
	Repositories         []map[string]any `json:"repositories"`
	Query                string           `json:"query"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
}
