package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/agent/chart"
	"github.com/BaSui01/finrag/agent/evaluation"
	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/rag/websearch"
	"github.com/BaSui01/finrag/testutil/fixtures"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
)

// ====== analyzer ======

type fakeAnalyzer struct {
	plan types.SubQueryPlan
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ types.Query) (types.SubQueryPlan, error) {
	if err := ctx.Err(); err != nil {
		return types.SubQueryPlan{}, err
	}
	return f.plan, nil
}

// ====== retriever ======

type fakeRetriever struct {
	mu      sync.Mutex
	chunks  map[string][]types.EvidenceChunk
	queries []string
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{chunks: make(map[string][]types.EvidenceChunk)}
}

func (f *fakeRetriever) with(entity string, chunks ...types.EvidenceChunk) *fakeRetriever {
	f.chunks[entity] = append(f.chunks[entity], chunks...)
	return f
}

func (f *fakeRetriever) Retrieve(_ context.Context, entities []string, _ types.SubQueryPlan, raw string) (rag.RetrievalResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, raw)
	f.mu.Unlock()

	var res rag.RetrievalResult
	for _, e := range entities {
		chunks, ok := f.chunks[e]
		if !ok {
			res.Stats.MissingCollections = append(res.Stats.MissingCollections, e)
			continue
		}
		res.Evidence.Add(chunks...)
	}
	return res, nil
}

func (f *fakeRetriever) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// ====== web search ======

type fakeWeb struct {
	mu      sync.Mutex
	results map[string][]types.EvidenceChunk // by entity, "" for untargeted queries
	batches [][]types.TargetedQuery
	err     error
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{results: make(map[string][]types.EvidenceChunk)}
}

func (f *fakeWeb) Integrate(_ context.Context, existing types.EvidenceSet, queries []types.TargetedQuery) (websearch.IntegrationResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, queries)
	f.mu.Unlock()
	if f.err != nil {
		return websearch.IntegrationResult{}, f.err
	}

	out := existing.Clone()
	added := 0
	for _, q := range queries {
		added += out.Add(f.results[q.Entity]...)
	}
	return websearch.IntegrationResult{Evidence: out, Added: added}, nil
}

func (f *fakeWeb) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// ====== grader / gaps ======

type fakeGrader struct {
	mu     sync.Mutex
	grades []types.GradeResult // last one repeats
	reqs   []evaluation.GradeRequest
}

func (f *fakeGrader) Grade(_ context.Context, req evaluation.GradeRequest) (types.GradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	g := f.grades[0]
	if len(f.grades) > 1 {
		f.grades = f.grades[1:]
	}
	g.EvidenceCountAtGrading = req.Evidence.Len()
	return g, nil
}

func (f *fakeGrader) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeGaps struct {
	plan  types.GapPlan
	calls int
}

func (f *fakeGaps) Analyze(_ context.Context, _ evaluation.GapRequest) (types.GapPlan, error) {
	f.calls++
	return f.plan, nil
}

// ====== generation ======

type fakeGenerator struct {
	mu     sync.Mutex
	drafts []answer.Draft // last one repeats
	err    error
	reqs   []answer.GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req answer.GenerateRequest) (answer.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return answer.Draft{}, f.err
	}
	if req.Evidence.IsEmpty() && req.PriorAnswer == "" {
		return answer.Draft{Text: answer.InsufficientAnswer(req.Query, req.Entities), Insufficient: true}, nil
	}
	d := f.drafts[0]
	if len(f.drafts) > 1 {
		f.drafts = f.drafts[1:]
	}
	return d, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeVerifier struct {
	mu      sync.Mutex
	verdict []answer.Verification // last one repeats
	calls   int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string, _ answer.Draft, _ types.EvidenceSet) (answer.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	v := f.verdict[0]
	if len(f.verdict) > 1 {
		f.verdict = f.verdict[1:]
	}
	return v, nil
}

var (
	accepted   = answer.Verification{Grounded: true, Relevant: true}
	ungrounded = answer.Verification{Grounded: false, Reason: "revenue figure not in evidence"}
	offTopic   = answer.Verification{Grounded: true, Relevant: false, Reason: "answers a different period"}
)

type fakeReformulator struct {
	rewrite string
	err     error
	calls   int
}

func (f *fakeReformulator) Reformulate(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.rewrite, f.err
}

type fakeClarifier struct {
	calls int
	known []string
}

func (f *fakeClarifier) Question(_ context.Context, _ string, known []string) string {
	f.calls++
	f.known = known
	return answer.DefaultClarification
}

type fakeCharts struct {
	calls int
	err   error
}

func (f *fakeCharts) FromAnswer(_ context.Context, id, _ string, table *answer.ComparisonTable) (*chart.Ref, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if table == nil {
		return nil, errors.New("no table")
	}
	return &chart.Ref{URL: "file://charts/" + id + ".png", Format: "png", Entities: table.Entities}, nil
}

// ====== cache ======

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
	stores  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]json.RawMessage)}
}

func (f *fakeCache) Lookup(_ context.Context, conv, scope, query string) (*rag.CacheHit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entries[conv+"|"+scope+"|"+query]
	if !ok {
		return nil, false
	}
	return &rag.CacheHit{Response: raw, Similarity: 1, Query: query}, true
}

func (f *fakeCache) Store(_ context.Context, conv, scope, query string, resp any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(resp)
	f.entries[conv+"|"+scope+"|"+query] = raw
	f.stores++
}

// ====== harness ======

type harness struct {
	analyzer     *fakeAnalyzer
	retriever    *fakeRetriever
	grader       *fakeGrader
	gaps         *fakeGaps
	generator    *fakeGenerator
	verifier     *fakeVerifier
	reformulator *fakeReformulator
	clarifier    *fakeClarifier
	checkpoints  *workflow.MemoryCheckpointStore
	container    *Container
}

// newHarness wires fakes for every required component. Web search, charts and
// the cache are left disabled.
func newHarness(entities ...string) *harness {
	h := &harness{
		analyzer:     &fakeAnalyzer{plan: types.SubQueryPlan{QueryType: types.QueryTypeSingleEntity, Entities: entities}},
		retriever:    newFakeRetriever(),
		grader:       &fakeGrader{grades: []types.GradeResult{fixtures.SufficientGrade(entities...)}},
		gaps:         &fakeGaps{},
		generator:    &fakeGenerator{drafts: []answer.Draft{{Text: "Apple reported revenue of $383.3 billion in fiscal 2023."}}},
		verifier:     &fakeVerifier{verdict: []answer.Verification{accepted}},
		reformulator: &fakeReformulator{rewrite: "Apple fiscal 2023 total net sales"},
		clarifier:    &fakeClarifier{},
		checkpoints:  workflow.NewMemoryCheckpointStore(config.DefaultCheckpointConfig().TTL),
	}
	h.container = NewContainer().
		WithLogger(zap.NewNop()).
		WithAnalyzer(h.analyzer).
		WithRetriever(h.retriever).
		WithGrader(h.grader).
		WithGapPlanner(h.gaps).
		WithGenerator(h.generator).
		WithVerifier(h.verifier).
		WithReformulator(h.reformulator).
		WithClarifier(h.clarifier).
		WithCheckpoints(h.checkpoints)
	return h
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(h.container)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func traceNodes(trace []workflow.StepRecord) []workflow.Node {
	out := make([]workflow.Node, len(trace))
	for i, r := range trace {
		out[i] = r.Node
	}
	return out
}
