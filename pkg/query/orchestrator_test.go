package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/treeline-ai/treeline/pkg/jobs"
	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
	"github.com/treeline-ai/treeline/pkg/vector"
)

// queryChat plays all three model roles, with evaluator decisions
// scripted per iteration.
type queryChat struct {
	mu            sync.Mutex
	evalResponses []string
	evalCalls     int
}

func (c *queryChat) ModelName() string { return "scripted" }

func (c *queryChat) Complete(ctx context.Context, req llms.CompletionRequest) (string, error) {
	switch req.System {
	case rerankSystem:
		return "[0]", nil
	case generatorSystem:
		return "Answer [1].", nil
	case evaluatorSystem:
		c.mu.Lock()
		defer c.mu.Unlock()
		i := c.evalCalls
		c.evalCalls++
		if i >= len(c.evalResponses) {
			i = len(c.evalResponses) - 1
		}
		return c.evalResponses[i], nil
	}
	return "", fmt.Errorf("unexpected system prompt %q", req.System)
}

func proceedResponse(confidence float64) string {
	return fmt.Sprintf(`{"decision": "proceed", "confidence": %v, "reasoning": "sufficient"}`, confidence)
}

func queryFixture(evalResponses ...string) (*Orchestrator, *memMeta, *scriptedIndex) {
	meta := newMemMeta()
	meta.docs["doc-1"] = &metastore.Document{ID: "doc-1", Filename: "policy.txt"}
	index := &scriptedIndex{
		dense: map[string][]vector.Hit{
			vector.CollectionChunks: {chunkHit("chunk-1", "doc-1", "Refunds take ten days.")},
		},
		lexical: map[string][]vector.Hit{},
	}
	o := NewOrchestrator(OrchestratorOptions{
		Embedder: &fixedEmbedder{},
		Index:    index,
		Chat:     &queryChat{evalResponses: evalResponses},
		Meta:     meta,
	})
	return o, meta, index
}

func queryJob(debugMode bool) jobs.QueryJob {
	return jobs.QueryJob{
		QueryID:       "query-1",
		QueryText:     "how long do refunds take",
		DebugMode:     debugMode,
		CorrelationID: "corr-1",
	}
}

func lastResult(t *testing.T, meta *memMeta) metastore.QueryResultRecord {
	t.Helper()
	if len(meta.results) == 0 {
		t.Fatal("no query result persisted")
	}
	return meta.results[len(meta.results)-1]
}

func TestQueryHandleProceed(t *testing.T) {
	o, meta, _ := queryFixture(proceedResponse(0.9))

	if err := o.Handle(context.Background(), queryJob(false)); err != nil {
		t.Fatal(err)
	}

	record := lastResult(t, meta)
	if record.ID != "query-1" || record.Answer == nil || *record.Answer != "Answer [1]." {
		t.Errorf("record = %+v", record)
	}
	if record.ConfidenceScore != 0.9 {
		t.Errorf("confidence = %v, want 0.9", record.ConfidenceScore)
	}
	if record.IterationCount != 1 {
		t.Errorf("iteration count = %d, want 1", record.IterationCount)
	}
	if record.DebugData != nil {
		t.Errorf("debug data persisted without debug mode: %s", record.DebugData)
	}

	var citations []Citation
	if err := json.Unmarshal(record.Citations, &citations); err != nil {
		t.Fatal(err)
	}
	if len(citations) != 1 || citations[0].ChunkID != "chunk-1" || citations[0].DocumentName != "policy.txt" {
		t.Errorf("citations = %+v", citations)
	}
}

func TestQueryHandleDebugCapture(t *testing.T) {
	o, meta, _ := queryFixture(proceedResponse(0.8))

	if err := o.Handle(context.Background(), queryJob(true)); err != nil {
		t.Fatal(err)
	}

	record := lastResult(t, meta)
	if record.DebugData == nil {
		t.Fatal("debug data missing in debug mode")
	}
	var debug DebugData
	if err := json.Unmarshal(record.DebugData, &debug); err != nil {
		t.Fatal(err)
	}
	if len(debug.Iterations) != record.IterationCount {
		t.Errorf("iterations = %d, iteration_count = %d", len(debug.Iterations), record.IterationCount)
	}
	iteration := debug.Iterations[0]
	if iteration.IterationNumber != 1 || iteration.QueryUsed != "how long do refunds take" {
		t.Errorf("iteration = %+v", iteration)
	}
	if iteration.SearchSources.VectorChunks != 1 {
		t.Errorf("sources = %+v", iteration.SearchSources)
	}
	if len(iteration.ChunksBeforeRerank) != 1 || len(iteration.ChunksAfterRerank) != 1 {
		t.Errorf("chunk lists = %d before, %d after", len(iteration.ChunksBeforeRerank), len(iteration.ChunksAfterRerank))
	}
	if iteration.ChunksAfterRerank[0].ScoreChange == nil {
		t.Error("post-rerank chunks must carry score_change")
	}
	if iteration.AgentEvaluation.Decision != DecisionProceed {
		t.Errorf("evaluation = %+v", iteration.AgentEvaluation)
	}
}

func TestQueryHandleRefineQuery(t *testing.T) {
	o, meta, _ := queryFixture(
		`{"decision": "refine_query", "confidence": 0.4, "reasoning": "vague", "refined_query": "refund window for electronics"}`,
		proceedResponse(0.85),
	)

	if err := o.Handle(context.Background(), queryJob(true)); err != nil {
		t.Fatal(err)
	}

	record := lastResult(t, meta)
	if record.IterationCount != 2 {
		t.Fatalf("iteration count = %d, want 2", record.IterationCount)
	}
	if record.ConfidenceScore != 0.85 {
		t.Errorf("confidence = %v, want the final evaluation's", record.ConfidenceScore)
	}

	var debug DebugData
	if err := json.Unmarshal(record.DebugData, &debug); err != nil {
		t.Fatal(err)
	}
	if debug.Iterations[0].QueryUsed != "how long do refunds take" {
		t.Errorf("iteration 1 query = %q", debug.Iterations[0].QueryUsed)
	}
	if debug.Iterations[1].QueryUsed != "refund window for electronics" {
		t.Errorf("iteration 2 query = %q, want the refinement", debug.Iterations[1].QueryUsed)
	}
}

func TestQueryHandleEmptyRefinedQuery(t *testing.T) {
	o, meta, _ := queryFixture(
		`{"decision": "refine_query", "confidence": 0.4, "reasoning": "vague", "refined_query": "   "}`,
	)

	if err := o.Handle(context.Background(), queryJob(false)); err != nil {
		t.Fatal(err)
	}

	record := lastResult(t, meta)
	if record.IterationCount != 1 {
		t.Errorf("iteration count = %d, want 1 (blank refinement stops the loop)", record.IterationCount)
	}
	if record.Answer == nil {
		t.Error("answer must still be generated")
	}
}

func TestQueryHandleExpandSearch(t *testing.T) {
	o, meta, index := queryFixture(
		`{"decision": "expand_search", "confidence": 0.3, "reasoning": "thin"}`,
		proceedResponse(0.7),
	)
	job := queryJob(false)
	job.DocumentFilter = []string{"doc-1"}

	if err := o.Handle(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if lastResult(t, meta).IterationCount != 2 {
		t.Fatalf("iteration count = %d, want 2", lastResult(t, meta).IterationCount)
	}

	// Three dense fetches per iteration. The second round doubles
	// top_k and drops the document filter.
	if len(index.calls) != 6 {
		t.Fatalf("dense calls = %d, want 6", len(index.calls))
	}
	for _, call := range index.calls[:3] {
		if call.limit != 10 || call.filter == nil {
			t.Errorf("iteration 1 call = %+v, want limit 10 with filter", call)
		}
	}
	for _, call := range index.calls[3:] {
		if call.limit != 20 || call.filter != nil {
			t.Errorf("iteration 2 call = %+v, want limit 20 without filter", call)
		}
	}
}

func TestQueryHandleIterationCap(t *testing.T) {
	o, meta, _ := queryFixture(
		`{"decision": "expand_search", "confidence": 0.2, "reasoning": "still thin"}`,
	)

	if err := o.Handle(context.Background(), queryJob(false)); err != nil {
		t.Fatal(err)
	}

	record := lastResult(t, meta)
	if record.IterationCount != 3 {
		t.Errorf("iteration count = %d, want the configured maximum", record.IterationCount)
	}
	if record.Answer == nil {
		t.Error("answer must be generated from the final iteration's context")
	}
}

func TestQueryHandleTopKExpansionCap(t *testing.T) {
	o, meta, index := queryFixture(
		`{"decision": "expand_search", "confidence": 0.2, "reasoning": "thin"}`,
	)
	meta.settings.MaxAgentIterations = 4

	if err := o.Handle(context.Background(), queryJob(false)); err != nil {
		t.Fatal(err)
	}

	// top_k grows 10, 20, 40 and then stays at the 4x cap.
	wantLimits := []int{10, 20, 40, 40}
	if len(index.calls) != 12 {
		t.Fatalf("dense calls = %d, want 12", len(index.calls))
	}
	for iteration := 0; iteration < 4; iteration++ {
		for _, call := range index.calls[iteration*3 : iteration*3+3] {
			if call.limit != wantLimits[iteration] {
				t.Errorf("iteration %d limit = %d, want %d", iteration+1, call.limit, wantLimits[iteration])
			}
		}
	}
}

func TestQueryHandleEmbedFailure(t *testing.T) {
	o, meta, _ := queryFixture(proceedResponse(0.9))
	o.embedder = &fixedEmbedder{err: errors.New("embedding api down")}

	err := o.Handle(context.Background(), queryJob(true))
	if err == nil {
		t.Fatal("expected error")
	}

	record := lastResult(t, meta)
	if record.Answer != nil {
		t.Errorf("failed query must have no answer: %+v", record)
	}
	if record.ErrorMessage == "" {
		t.Error("error message missing")
	}
	if record.IterationCount != 0 {
		t.Errorf("iteration count = %d, want 0", record.IterationCount)
	}
}
