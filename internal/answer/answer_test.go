package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/log"
	"github.com/repoquery/repoquery/internal/testutil"
)

func sampleResults() []catalog.Result {
	return []catalog.Result{
		{Record: catalog.Record{
			"repository":       "serverless-patterns",
			"description":      "Serverless architecture patterns",
			"solution_type":    "reference",
			"competency":       "serverless",
			"aws_services":     "Lambda, API Gateway",
			"primary_language": "Python",
		}, Similarity: 0.92},
		{Record: catalog.Record{
			"repository":  "eks-blueprints",
			"description": "EKS cluster blueprints",
		}, Similarity: 0.81},
		{Record: catalog.Record{
			"repository": "cdk-examples",
		}, Similarity: 0.74},
		{Record: catalog.Record{
			"repository": "never-shown",
		}, Similarity: 0.11},
	}
}

func TestRenderContext_TopThreeInRankOrder(t *testing.T) {
	text := RenderContext(sampleResults())

	first := strings.Index(text, "serverless-patterns")
	second := strings.Index(text, "eks-blueprints")
	third := strings.Index(text, "cdk-examples")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("missing repositories in context:\n%s", text)
	}
	if !(first < second && second < third) {
		t.Errorf("rank order not preserved: %d %d %d", first, second, third)
	}
	if strings.Contains(text, "never-shown") {
		t.Error("fourth-ranked record leaked into context")
	}
	if got := strings.Count(text, "\n\n"); got != 2 {
		t.Errorf("blank-line separators = %d, want 2", got)
	}
}

func TestRenderContext_MissingFieldsFallBack(t *testing.T) {
	text := RenderContext(sampleResults())
	if !strings.Contains(text, "Primary Language: N/A") {
		t.Errorf("missing field not rendered as N/A:\n%s", text)
	}
	if !strings.Contains(text, "Primary Language: Python") {
		t.Errorf("present field not rendered:\n%s", text)
	}
}

func TestRenderContext_FewerThanThree(t *testing.T) {
	text := RenderContext(sampleResults()[:1])
	if strings.Contains(text, "\n\n") {
		t.Error("single record should produce a single block")
	}
	if !strings.Contains(text, "Repository: serverless-patterns") {
		t.Errorf("unexpected context:\n%s", text)
	}
}

func TestSynthesize_GroundsPromptInRecords(t *testing.T) {
	g := testutil.NewTestGenkit(t)
	model := testutil.NewMockModel("Use serverless-patterns.")
	model.Register(g)

	s := New(g, testutil.MockModelName, 0.7, 500, log.NewNop())
	got, err := s.Synthesize(context.Background(), "how do I build serverless apps?", sampleResults())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "Use serverless-patterns." {
		t.Errorf("answer = %q", got)
	}

	calls := model.Calls()
	if len(calls) != 1 {
		t.Fatalf("generation calls = %d, want 1", len(calls))
	}
	prompt := calls[0].Prompt
	for _, want := range []string{
		"serverless-patterns",
		"how do I build serverless apps?",
		"ONLY on the repositories above",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSynthesize_FailureWrapsSentinel(t *testing.T) {
	g := testutil.NewTestGenkit(t)
	model := testutil.NewMockModel("unused")
	model.Register(g)
	model.FailWith(errors.New("backend down"))

	s := New(g, testutil.MockModelName, 0.7, 500, log.NewNop())
	_, err := s.Synthesize(context.Background(), "anything", sampleResults())
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", err)
	}

	if calls := model.Calls(); len(calls) != 0 {
		t.Errorf("failed generation recorded %d calls, want 0", len(calls))
	}
}
