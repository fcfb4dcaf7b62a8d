package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/repoquery/repoquery/internal/answer"
	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/embed"
	"github.com/repoquery/repoquery/internal/quota"
)

// Service runs the pipeline. One Service is shared across requests; all
// mutable state lives in the injected components, which are safe for
// concurrent use.
type Service struct {
	catalog       *catalog.Store
	embedder      *embed.Client
	synth         *answer.Synthesizer
	limiter       *quota.Limiter
	defaultTenant string
	defaultK      int
	logger        *slog.Logger
}

// NewService wires the pipeline components together. defaultTenant and
// defaultK apply when a request leaves them unset.
func NewService(store *catalog.Store, embedder *embed.Client, synth *answer.Synthesizer,
	limiter *quota.Limiter, defaultTenant string, defaultK int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:       store,
		embedder:      embedder,
		synth:         synth,
		limiter:       limiter,
		defaultTenant: defaultTenant,
		defaultK:      defaultK,
		logger:        logger,
	}
}

type loadResult struct {
	ti  *catalog.TenantIndex
	err error
}

// Execute runs the full pipeline for an already-resolved caller.
//
// Order matters: the quota check rejects before any slot is spent, the
// increment lands before the index result is awaited, and every stage after
// the increment consumes the slot even on failure. The tenant index is
// prefetched concurrently with the quota work since neither depends on the
// other.
func (s *Service) Execute(ctx context.Context, id quota.Identity, tier quota.Tier, req Request) (*Response, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, ErrMissingQuery
	}
	tenant := req.Tenant
	if tenant == "" {
		tenant = s.defaultTenant
	}
	k := req.K
	if k <= 0 {
		k = s.defaultK
	}

	loadCh := make(chan loadResult, 1)
	go func() {
		ti, err := s.catalog.Load(ctx, tenant)
		loadCh <- loadResult{ti: ti, err: err}
	}()

	decision := s.limiter.Check(ctx, id, tier)
	if !decision.Allowed {
		return nil, &QuotaExceededError{Tier: tier, Used: decision.Used, Remaining: decision.Remaining}
	}
	s.limiter.Increment(ctx, id, tier)

	load := <-loadCh
	if load.err != nil {
		return nil, fmt.Errorf("loading index for %q: %w", tenant, load.err)
	}
	loaded := time.Since(start)

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	embedded := time.Since(start)

	results, err := catalog.Search(load.ti.Index, load.ti.Records, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", tenant, err)
	}

	text, err := s.synth.Synthesize(ctx, req.Query, results)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.logger.Debug("pipeline complete",
		"tenant", tenant,
		"k", k,
		"results", len(results),
		"load", loaded,
		"embed", embedded-loaded,
		"total", elapsed)

	return &Response{
		Answer:               text,
		Repositories:         annotate(results),
		Query:                req.Query,
		ExecutionTimeSeconds: math.Round(elapsed.Seconds()*100) / 100,
	}, nil
}

// annotate flattens each result's record fields alongside its score.
func annotate(results []catalog.Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, res := range results {
		entry := make(map[string]any, len(res.Record)+1)
		for k, v := range res.Record {
			entry[k] = v
		}
		entry["similarity_score"] = res.Similarity
		out[i] = entry
	}
	return out
}
