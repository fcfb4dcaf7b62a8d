// Package answer turns retrieved repository records into a grounded natural
// language answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/repoquery/repoquery/internal/catalog"
)

// ErrSynthesisFailed indicates the generation call failed or returned nothing
// usable. Generation is attempted once; retries belong to the caller's policy,
// not here.
var ErrSynthesisFailed = errors.New("answer synthesis failed")

// contextRecords is how many top-ranked records are shown to the model.
const contextRecords = 3

// fields are rendered per record, in this order, with "N/A" for anything the
// record does not carry.
var fields = []struct {
	key   string
	label string
}{
	{"repository", "Repository"},
	{"description", "Description"},
	{"solution_type", "Solution Type"},
	{"competency", "Competency"},
	{"aws_services", "AWS Services"},
	{"primary_language", "Primary Language"},
}

const promptTemplate = `You are an AWS solutions expert. Based on the following AWS sample repositories, answer the user's question.

Retrieved Repositories:
%s

User Question: %s

Provide a helpful answer based ONLY on the repositories above. Include repository names and relevant details.`

// Synthesizer generates answers grounded in retrieved records.
type Synthesizer struct {
	g           *genkit.Genkit
	model       string
	temperature float32
	maxTokens   int32
	logger      *slog.Logger
}

// New creates a Synthesizer. model is a genkit model name such as
// "googleai/gemini-2.5-flash".
func New(g *genkit.Genkit, model string, temperature float32, maxTokens int32, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{g: g, model: model, temperature: temperature, maxTokens: maxTokens, logger: logger}
}

// Synthesize produces an answer for query grounded in results. Only the top
// records are rendered into the prompt, in rank order. A failed or empty
// generation returns ErrSynthesisFailed.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []catalog.Result) (string, error) {
	prompt := fmt.Sprintf(promptTemplate, RenderContext(results), query)

	start := time.Now()
	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.model),
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(s.temperature),
			MaxOutputTokens: s.maxTokens,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty response", ErrSynthesisFailed)
	}

	s.logger.Debug("answer generated",
		"model", s.model,
		"records", min(len(results), contextRecords),
		"duration", time.Since(start))
	return text, nil
}

// RenderContext formats the top records as labeled blocks separated by blank
// lines, preserving rank order.
func RenderContext(results []catalog.Result) string {
	n := min(len(results), contextRecords)
	blocks := make([]string, 0, n)
	for _, res := range results[:n] {
		var b strings.Builder
		for i, f := range fields {
			if i > 0 {
				b.WriteByte('\n')
			}
			v := res.Record[f.key]
			if v == "" {
				v = "N/A"
			}
			b.WriteString(f.label)
			b.WriteString(": ")
			b.WriteString(v)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
