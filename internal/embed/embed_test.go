package embed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/repoquery/repoquery/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	vector      []float32
	lastInput   string
	callCount   int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{}, nil
	}
	vec := m.vector
	if vec == nil {
		vec = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: vec}},
	}, nil
}

func TestEmbed_ReturnsVector(t *testing.T) {
	m := &mockEmbedder{vector: []float32{1, 2, 3, 4}}
	c := New(m, 4, log.NewNop())

	vec, err := c.Embed(context.Background(), "serverless lambda examples")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("got %d dims, want 4", len(vec))
	}
	if m.lastInput != "serverless lambda examples" {
		t.Errorf("backend saw %q", m.lastInput)
	}
}

func TestEmbed_TruncatesLongInput(t *testing.T) {
	m := &mockEmbedder{vector: []float32{1}}
	c := New(m, 1, log.NewNop())

	long := strings.Repeat("x", MaxInputChars+500)
	if _, err := c.Embed(context.Background(), long); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := utf8.RuneCountInString(m.lastInput); got != MaxInputChars {
		t.Errorf("backend received %d chars, want %d", got, MaxInputChars)
	}
}

func TestEmbed_TruncationKeepsRunesWhole(t *testing.T) {
	m := &mockEmbedder{vector: []float32{1}}
	c := New(m, 1, log.NewNop())

	// A multi-byte rune straddles the byte offset of the cap.
	long := strings.Repeat("x", MaxInputChars-1) + "é" + strings.Repeat("x", 500)
	if _, err := c.Embed(context.Background(), long); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !utf8.ValidString(m.lastInput) {
		t.Fatalf("backend received invalid UTF-8: tail % x", m.lastInput[len(m.lastInput)-4:])
	}
	if got := utf8.RuneCountInString(m.lastInput); got != MaxInputChars {
		t.Errorf("backend received %d chars, want %d", got, MaxInputChars)
	}
	if !strings.HasSuffix(m.lastInput, "é") {
		t.Errorf("boundary rune dropped, tail = %q", m.lastInput[len(m.lastInput)-4:])
	}
}

func TestEmbed_ShortInputUntouched(t *testing.T) {
	m := &mockEmbedder{vector: []float32{1}}
	c := New(m, 1, log.NewNop())

	const q = "serverless パターン"
	if _, err := c.Embed(context.Background(), q); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if m.lastInput != q {
		t.Errorf("backend saw %q, want %q", m.lastInput, q)
	}
}

func TestEmbed_BackendErrorWrapped(t *testing.T) {
	m := &mockEmbedder{embedErr: errors.New("throttled")}
	c := New(m, 4, log.NewNop())

	_, err := c.Embed(context.Background(), "q")
	if !errors.Is(err, ErrEmbedFailed) {
		t.Errorf("Embed error = %v, want ErrEmbedFailed", err)
	}
}

func TestEmbed_EmptyResponseIsError(t *testing.T) {
	m := &mockEmbedder{returnEmpty: true}
	c := New(m, 4, log.NewNop())

	if _, err := c.Embed(context.Background(), "q"); !errors.Is(err, ErrEmbedFailed) {
		t.Errorf("Embed error = %v, want ErrEmbedFailed", err)
	}
}

func TestEmbed_DimensionMismatchIsError(t *testing.T) {
	m := &mockEmbedder{vector: []float32{1, 2}}
	c := New(m, 1024, log.NewNop())

	if _, err := c.Embed(context.Background(), "q"); !errors.Is(err, ErrEmbedFailed) {
		t.Errorf("Embed error = %v, want ErrEmbedFailed", err)
	}
}
