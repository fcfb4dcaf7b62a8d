// Package embed converts query text into fixed-length vectors via the
// configured embedding backend.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmbedFailed indicates the embedding backend rejected or failed the
// request. Query-time failures are never papered over with a zero vector --
// a zero vector would silently match everything equally badly.
var ErrEmbedFailed = errors.New("embedding failed")

// MaxInputChars is the hard input cap. The backend rejects longer inputs, so
// text is truncated before submission. The offline index builder applies the
// same cap; changing one side without the other breaks similarity.
const MaxInputChars = 8000

// Client embeds free text into vectors of a fixed dimension.
type Client struct {
	embedder  ai.Embedder
	dimension int
	logger    *slog.Logger
}

// New creates a Client around a genkit embedder. dimension is the vector
// length the paired indexes were built with.
func New(embedder ai.Embedder, dimension int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{embedder: embedder, dimension: dimension, logger: logger}
}

// Dimension returns the expected vector length.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the embedding vector for text, truncated to MaxInputChars
// first. Backend failures and malformed responses surface as ErrEmbedFailed.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text)

	start := time.Now()
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: backend returned no embedding", ErrEmbedFailed)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("%w: backend returned %d dims, expected %d",
			ErrEmbedFailed, len(vec), c.dimension)
	}

	c.logger.Debug("embedded query",
		"chars", utf8.RuneCountInString(text), "elapsed", time.Since(start))
	return vec, nil
}

// truncate caps text at MaxInputChars characters. The cap is counted in
// runes, never splitting one: a byte cut could hand the backend invalid
// UTF-8 and drifts from the index builder's character-based policy.
func truncate(text string) string {
	if len(text) <= MaxInputChars {
		return text
	}
	count := 0
	for i := range text {
		if count == MaxInputChars {
			return text[:i]
		}
		count++
	}
	return text
}
