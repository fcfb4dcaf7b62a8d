package quota

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Resolver derives a caller identity from request credentials, strongest
// evidence first: a session token proving a known account, then an API key,
// then an anonymous fingerprint. Arrival order in the request never changes
// the precedence.
type Resolver struct {
	querier    Querier
	trustProxy bool
	logger     *slog.Logger
}

// NewResolver creates a Resolver. trustProxy enables X-Real-IP /
// X-Forwarded-For for the anonymous fingerprint (only set behind a reverse
// proxy).
func NewResolver(querier Querier, trustProxy bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{querier: querier, trustProxy: trustProxy, logger: logger}
}

// sessionCookie is the marketplace session cookie name.
const sessionCookie = "marketplace_session"

// Resolve returns the caller's identity and tier. bodyAPIKey is the optional
// "apikey" field from a parsed request body (the direct protocol allows it
// there). Lookup failures against the account store degrade to the next
// weaker evidence instead of failing the request.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, bodyAPIKey string) (Identity, Tier) {
	// Session token: Authorization bearer, then cookie.
	for _, token := range sessionTokens(req) {
		acct, err := r.querier.AccountBySession(ctx, token)
		if err == nil {
			return Identity{ID: acct.UserID, Source: SourceSession}, acct.Tier
		}
		if !errors.Is(err, ErrNoAccount) {
			r.logger.Warn("session lookup failed", "error", err)
		}
	}

	// API key: query param, header, bearer value, body field.
	for _, key := range apiKeys(req, bodyAPIKey) {
		acct, err := r.querier.AccountByAPIKey(ctx, key)
		if err == nil {
			return Identity{ID: acct.UserID, Source: SourceAPIKey}, acct.Tier
		}
		if !errors.Is(err, ErrNoAccount) {
			r.logger.Warn("api key lookup failed", "error", err)
		}
	}

	return Identity{ID: r.Fingerprint(req), Source: SourceFingerprint}, TierAnonymous
}

// Fingerprint derives a deterministic anonymous surrogate from the source
// address and a short hash of the client signature. Non-cryptographic: it
// only has to be stable enough to key a daily counter.
func (r *Resolver) Fingerprint(req *http.Request) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.UserAgent()))
	return fmt.Sprintf("%s_%04d", clientIP(req, r.trustProxy), h.Sum32()%10000)
}

func sessionTokens(req *http.Request) []string {
	var tokens []string
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokens = append(tokens, strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := req.Cookie(sessionCookie); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}
	return tokens
}

func apiKeys(req *http.Request, bodyAPIKey string) []string {
	var keys []string
	if k := req.URL.Query().Get("apikey"); k != "" {
		keys = append(keys, k)
	}
	if k := req.Header.Get("x-api-key"); k != "" {
		keys = append(keys, k)
	}
	// A bearer value that failed session lookup may be an API key.
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		keys = append(keys, strings.TrimPrefix(auth, "Bearer "))
	}
	if bodyAPIKey != "" {
		keys = append(keys, bodyAPIKey)
	}
	return keys
}

// clientIP extracts the client IP. With trustProxy, X-Real-IP and the first
// X-Forwarded-For entry are honored after net.ParseIP validation; otherwise
// only RemoteAddr is used.
func clientIP(req *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := req.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return ip
}
