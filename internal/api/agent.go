package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/repoquery/repoquery/internal/query"
	"github.com/repoquery/repoquery/internal/quota"
)

// agentHandler serves the agent action-group protocol. The wire contract is
// fixed by the agent platform: the outer HTTP response is always 200 and the
// pipeline outcome travels in the envelope's httpStatusCode.
type agentHandler struct {
	logger   *slog.Logger
	service  *query.Service
	resolver *quota.Resolver
}

type agentParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// agentRequest is the action-group invocation shape. Only the named "query"
// parameter is consumed; tenant and k always use defaults in this protocol.
type agentRequest struct {
	MessageVersion string           `json:"messageVersion"`
	ActionGroup    string           `json:"actionGroup"`
	APIPath        string           `json:"apiPath"`
	HTTPMethod     string           `json:"httpMethod"`
	Parameters     []agentParameter `json:"parameters"`
}

type agentResponseBody struct {
	Body string `json:"body"`
}

type agentResponse struct {
	ActionGroup    string                       `json:"actionGroup"`
	APIPath        string                       `json:"apiPath"`
	HTTPMethod     string                       `json:"httpMethod"`
	HTTPStatusCode int                          `json:"httpStatusCode"`
	ResponseBody   map[string]agentResponseBody `json:"responseBody"`
}

type agentEnvelope struct {
	MessageVersion string        `json:"messageVersion"`
	Response       agentResponse `json:"response"`
}

func (h *agentHandler) handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	var q string
	for _, p := range req.Parameters {
		if p.Name == "query" {
			q = p.Value
			break
		}
	}

	id, tier := h.resolver.Resolve(r.Context(), r, "")

	resp, err := h.service.Execute(r.Context(), id, tier, query.Request{Query: q})
	if err != nil {
		h.writeAgentError(w, r, req, err)
		return
	}

	h.writeEnvelope(w, req, http.StatusOK, resp)
}

func (h *agentHandler) writeAgentError(w http.ResponseWriter, r *http.Request, req agentRequest, err error) {
	var qerr *query.QuotaExceededError
	switch {
	case errors.Is(err, query.ErrMissingQuery):
		h.writeEnvelope(w, req, http.StatusBadRequest, errorBody{Error: "missing_query", Message: "query parameter required"})
	case errors.As(err, &qerr):
		h.writeEnvelope(w, req, http.StatusTooManyRequests, errorBody{Error: "quota_exceeded", Message: "daily search limit reached"})
	default:
		h.logger.Error("agent pipeline failed", "error", err, "path", r.URL.Path)
		h.writeEnvelope(w, req, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

// writeEnvelope wraps payload in the platform envelope. The inner body is a
// JSON string, not a nested object.
func (h *agentHandler) writeEnvelope(w http.ResponseWriter, req agentRequest, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode agent payload", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, agentEnvelope{
		MessageVersion: "1.0",
		Response: agentResponse{
			ActionGroup:    req.ActionGroup,
			APIPath:        req.APIPath,
			HTTPMethod:     req.HTTPMethod,
			HTTPStatusCode: status,
			ResponseBody: map[string]agentResponseBody{
				"application/json": {Body: string(body)},
			},
		},
	})
}
