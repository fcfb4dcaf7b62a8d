package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/repoquery/repoquery/internal/answer"
	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/embed"
	"github.com/repoquery/repoquery/internal/query"
	"github.com/repoquery/repoquery/internal/quota"
)

// maxBodyBytes caps request bodies; queries are short text.
const maxBodyBytes = 64 << 10

// queryHandler serves the direct JSON protocol.
type queryHandler struct {
	logger     *slog.Logger
	service    *query.Service
	resolver   *quota.Resolver
	upgradeURL string
}

// queryRequest is the direct protocol body.
type queryRequest struct {
	Query  string `json:"query"`
	Org    string `json:"org"`
	K      int    `json:"k"`
	APIKey string `json:"apikey"`
}

// usageInfo reports quota consumption in rejection envelopes.
type usageInfo struct {
	Tier              string `json:"tier"`
	SearchesUsed      int    `json:"searches_used"`
	SearchesRemaining any    `json:"searches_remaining"`
}

// quotaExceededBody is the 429 envelope.
type quotaExceededBody struct {
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	Usage         usageInfo `json:"usage"`
	UpgradeURL    string    `json:"upgrade_url"`
	UpgradeNeeded bool      `json:"upgrade_needed"`
}

func (h *queryHandler) handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	id, tier := h.resolver.Resolve(r.Context(), r, req.APIKey)

	resp, err := h.service.Execute(r.Context(), id, tier, query.Request{
		Query:  req.Query,
		Tenant: req.Org,
		K:      req.K,
	})
	if err != nil {
		h.writeServiceError(w, r, err, tier)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps pipeline errors to protocol responses. Client input
// and quota errors carry detail; everything else is logged in full and
// surfaced opaquely.
func (h *queryHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, tier quota.Tier) {
	var qerr *query.QuotaExceededError
	switch {
	case errors.Is(err, query.ErrMissingQuery):
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
	case errors.As(err, &qerr):
		writeJSON(w, http.StatusTooManyRequests, quotaExceededBody{
			Error:   "quota_exceeded",
			Message: "daily search limit reached, upgrade for more searches",
			Usage: usageInfo{
				Tier:              string(qerr.Tier),
				SearchesUsed:      qerr.Used,
				SearchesRemaining: qerr.Remaining,
			},
			UpgradeURL:    h.upgradeURL,
			UpgradeNeeded: true,
		})
	case errors.Is(err, catalog.ErrCorrupt):
		// Data-integrity alarm: the artifact pair disagrees with itself.
		h.logger.Error("tenant index corrupt", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "index_corrupt", "search index unusable")
	case errors.Is(err, catalog.ErrUnavailable):
		h.logger.Error("tenant index unavailable", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "index_unavailable", "search index unavailable")
	case errors.Is(err, embed.ErrEmbedFailed):
		h.logger.Error("embedding backend failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "embedding_failed", "search backend unavailable")
	case errors.Is(err, answer.ErrSynthesisFailed):
		h.logger.Error("synthesis backend failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "synthesis_failed", "answer generation unavailable")
	default:
		h.logger.Error("pipeline failed", "error", err, "path", r.URL.Path, "tier", tier)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
