package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/repoquery/repoquery/internal/answer"
	"github.com/repoquery/repoquery/internal/blob"
	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/embed"
	"github.com/repoquery/repoquery/internal/log"
	"github.com/repoquery/repoquery/internal/quota"
	"github.com/repoquery/repoquery/internal/testutil"
)

func TestMain(m *testing.M) {
	// Persistent goroutines from shared HTTP pools and global singletons are
	// expected to outlive tests.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		// genkit.Init installs a process-lifetime signal handler.
		goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"),
	)
}

// countingQuerier is an in-memory counter store with injectable failures.
type countingQuerier struct {
	mu         sync.Mutex
	counts     map[string]int
	increments int
}

func newCountingQuerier() *countingQuerier {
	return &countingQuerier{counts: make(map[string]int)}
}

func (q *countingQuerier) UsageCount(_ context.Context, identity, day string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[identity+"|"+day], nil
}

func (q *countingQuerier) IncrementUsage(_ context.Context, identity, day string, _ quota.Tier) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.increments++
	q.counts[identity+"|"+day]++
	return q.counts[identity+"|"+day], nil
}

func (q *countingQuerier) AccountBySession(context.Context, string) (quota.Account, error) {
	return quota.Account{}, quota.ErrNoAccount
}

func (q *countingQuerier) AccountByAPIKey(context.Context, string) (quota.Account, error) {
	return quota.Account{}, quota.ErrNoAccount
}

func (q *countingQuerier) incrementCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.increments
}

type serviceFixture struct {
	svc      *Service
	querier  *countingQuerier
	embedder *testutil.MockEmbedder
	model    *testutil.MockModel
}

const testDim = 4

// newServiceFixture builds a Service over a filesystem catalog fixture for
// tenant "aws-samples" with three records, a deterministic embedder, and a
// pattern-matched model.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	root := t.TempDir()
	testutil.WriteTenantFixture(t, root, "aws-samples", testDim,
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
		},
		[]catalog.Record{
			{"repository": "serverless-patterns", "description": "Lambda and DynamoDB examples"},
			{"repository": "eks-blueprints", "description": "EKS cluster blueprints"},
			{"repository": "cdk-examples", "description": "CDK sample apps"},
		})

	g := testutil.NewTestGenkit(t)
	mockEmb := testutil.NewMockEmbedder(testDim)
	embRef := mockEmb.Register(g)
	model := testutil.NewMockModel("The serverless-patterns repository fits best.")
	model.Register(g)

	querier := newCountingQuerier()
	store := catalog.NewStore(blob.NewFSFetcher(root), log.NewNop())
	svc := NewService(
		store,
		embed.New(embRef, testDim, log.NewNop()),
		answer.New(g, testutil.MockModelName, 0.7, 500, log.NewNop()),
		quota.NewLimiter(querier, quota.DefaultQuotas(), log.NewNop()),
		"aws-samples",
		5,
		log.NewNop(),
	)
	return &serviceFixture{svc: svc, querier: querier, embedder: mockEmb, model: model}
}

func anonID() (quota.Identity, quota.Tier) {
	return quota.Identity{ID: "203.0.113.7_0042", Source: quota.SourceFingerprint}, quota.TierAnonymous
}

func TestExecute_FullPipeline(t *testing.T) {
	f := newServiceFixture(t)
	const q = "Show me serverless Lambda examples with DynamoDB"
	// Closest to the first indexed vector.
	f.embedder.SetVector(q, []float32{0.9, 0.1, 0, 0})

	id, tier := anonID()
	resp, err := f.svc.Execute(context.Background(), id, tier, Request{Query: q, Tenant: "aws-samples", K: 5})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(resp.Repositories) == 0 || len(resp.Repositories) > 5 {
		t.Fatalf("repositories = %d, want 1..5", len(resp.Repositories))
	}
	for i, repo := range resp.Repositories {
		score, ok := repo["similarity_score"].(float64)
		if !ok {
			t.Fatalf("repository %d missing similarity_score: %v", i, repo)
		}
		if score <= 0 || score > 1 {
			t.Errorf("similarity_score[%d] = %v, want in (0,1]", i, score)
		}
	}
	if top := resp.Repositories[0]["repository"]; top != "serverless-patterns" {
		t.Errorf("top repository = %v, want serverless-patterns", top)
	}
	if !strings.Contains(resp.Answer, "serverless-patterns") {
		t.Errorf("answer does not name a returned repository: %q", resp.Answer)
	}
	if resp.Query != q {
		t.Errorf("echoed query = %q", resp.Query)
	}
	if resp.ExecutionTimeSeconds < 0 {
		t.Errorf("execution_time_seconds = %v", resp.ExecutionTimeSeconds)
	}
	if got := f.querier.incrementCalls(); got != 1 {
		t.Errorf("usage increments = %d, want 1", got)
	}
}

func TestExecute_MissingQueryShortCircuits(t *testing.T) {
	f := newServiceFixture(t)
	id, tier := anonID()

	_, err := f.svc.Execute(context.Background(), id, tier, Request{})
	if !errors.Is(err, ErrMissingQuery) {
		t.Fatalf("err = %v, want ErrMissingQuery", err)
	}
	if got := f.querier.incrementCalls(); got != 0 {
		t.Errorf("usage increments = %d, want 0", got)
	}
	if calls := f.model.Calls(); len(calls) != 0 {
		t.Errorf("model called %d times on empty query", len(calls))
	}
}

func TestExecute_QuotaExceeded(t *testing.T) {
	f := newServiceFixture(t)
	id, tier := anonID()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Execute(ctx, id, tier, Request{Query: "lambda examples"}); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := f.svc.Execute(ctx, id, tier, Request{Query: "lambda examples"})
	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qerr.Used != 3 || qerr.Remaining != 0 {
		t.Errorf("quota error = %+v, want used=3 remaining=0", qerr)
	}
	if got := f.querier.incrementCalls(); got != 3 {
		t.Errorf("usage increments = %d, want 3 (rejection spends nothing)", got)
	}
}

func TestExecute_IndexUnavailableAfterIncrement(t *testing.T) {
	f := newServiceFixture(t)
	id, tier := anonID()

	_, err := f.svc.Execute(context.Background(), id, tier,
		Request{Query: "lambda examples", Tenant: "no-such-tenant"})
	if !errors.Is(err, catalog.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// The slot is spent: the increment lands before the index load resolves.
	if got := f.querier.incrementCalls(); got != 1 {
		t.Errorf("usage increments = %d, want 1", got)
	}
	if calls := f.model.Calls(); len(calls) != 0 {
		t.Errorf("model called %d times despite missing index", len(calls))
	}
}

func TestExecute_DefaultsApplied(t *testing.T) {
	f := newServiceFixture(t)
	id, tier := anonID()

	resp, err := f.svc.Execute(context.Background(), id, tier, Request{Query: "anything"})
	if err != nil {
		t.Fatalf("Execute with defaults: %v", err)
	}
	if len(resp.Repositories) != 3 {
		t.Errorf("repositories = %d, want all 3 under default k", len(resp.Repositories))
	}
}
