package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/treeline-ai/treeline/pkg/embedders"
	"github.com/treeline-ai/treeline/pkg/jobs"
	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
	"github.com/treeline-ai/treeline/pkg/metrics"
	"github.com/treeline-ai/treeline/pkg/vector"
)

// topKExpansionCap bounds expand_search growth relative to the default.
const topKExpansionCap = 4

// Orchestrator runs the bounded agent loop for one query and persists
// the result.
type Orchestrator struct {
	embedder  embedders.Embedder
	index     vector.Index
	reranker  *Reranker
	evaluator *Evaluator
	generator *Generator
	meta      metastore.Store

	softBudget time.Duration
}

// OrchestratorOptions wires the query pipeline.
type OrchestratorOptions struct {
	Embedder embedders.Embedder
	Index    vector.Index
	Chat     llms.Chat
	Meta     metastore.Store

	// IterationSoftBudget logs a warning when one iteration exceeds
	// it. Zero disables the check.
	IterationSoftBudget time.Duration
}

// NewOrchestrator builds the query pipeline driver.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		embedder:   opts.Embedder,
		index:      opts.Index,
		reranker:   NewReranker(opts.Chat),
		evaluator:  NewEvaluator(opts.Chat),
		generator:  NewGenerator(opts.Chat),
		meta:       opts.Meta,
		softBudget: opts.IterationSoftBudget,
	}
}

// loopState carries the mutable retrieval parameters across
// iterations.
type loopState struct {
	queryText string
	topK      int
	filter    []string
}

// Handle answers one query job. Errors are recorded on the persisted
// result; the returned error is for the bus handler's log.
func (o *Orchestrator) Handle(ctx context.Context, job jobs.QueryJob) error {
	start := time.Now()
	logger := slog.With("query_id", job.QueryID, "correlation_id", job.CorrelationID)
	logger.Info("Starting query", "debug_mode", job.DebugMode)

	settings, err := o.meta.Settings(ctx)
	if err != nil {
		return o.fail(ctx, job, nil, start, fmt.Errorf("cannot load settings: %w", err))
	}

	debug := &DebugData{Iterations: []IterationDebug{}}
	state := loopState{
		queryText: job.QueryText,
		topK:      settings.DefaultTopK,
		filter:    job.DocumentFilter,
	}
	retriever := NewRetriever(o.index, settings.RRFK)

	var lastRanked []RankedChunk
	var lastEvaluation AgentEvaluation

loop:
	for i := 1; i <= settings.MaxAgentIterations; i++ {
		iterStart := time.Now()

		ranked, evaluation, sources, before, err := o.iterate(ctx, retriever, settings, &state, &debug.Timing)
		if err != nil {
			return o.fail(ctx, job, debug, start, fmt.Errorf("iteration %d: %w", i, err))
		}
		lastRanked = ranked
		lastEvaluation = evaluation

		duration := time.Since(iterStart)
		debug.Iterations = append(debug.Iterations, IterationDebug{
			IterationNumber:    i,
			QueryUsed:          state.queryText,
			SearchSources:      sources,
			ChunksBeforeRerank: before,
			ChunksAfterRerank:  chunkResults(ranked, true),
			AgentEvaluation:    evaluation,
			DurationMs:         float64(duration.Milliseconds()),
		})
		if o.softBudget > 0 && duration > o.softBudget {
			logger.Warn("Iteration exceeded soft budget", "iteration", i, "duration", duration)
		}

		if evaluation.Decision == DecisionProceed || i == settings.MaxAgentIterations {
			break
		}
		switch evaluation.Decision {
		case DecisionRefineQuery:
			// An empty refinement is a proceed in disguise.
			if evaluation.RefinedQuery == "" {
				break loop
			}
			state.queryText = evaluation.RefinedQuery
		case DecisionExpandSearch:
			state.topK *= 2
			if cap := settings.DefaultTopK * topKExpansionCap; state.topK > cap {
				state.topK = cap
			}
			state.filter = nil
		}
	}

	generationStart := time.Now()
	answer, citations, err := o.generator.Generate(ctx, job.QueryText, lastRanked, o.documentNames(ctx, lastRanked))
	if err != nil {
		return o.fail(ctx, job, debug, start, err)
	}
	debug.Timing.GenerationMs = float64(time.Since(generationStart).Milliseconds())
	debug.Timing.TotalMs = float64(time.Since(start).Milliseconds())

	citationsJSON, _ := json.Marshal(citations)
	record := metastore.QueryResultRecord{
		ID:              job.QueryID,
		QueryText:       job.QueryText,
		Answer:          &answer,
		ConfidenceScore: lastEvaluation.Confidence,
		Citations:       citationsJSON,
		TotalTimeMs:     debug.Timing.TotalMs,
		IterationCount:  len(debug.Iterations),
	}
	if job.DebugMode {
		debugJSON, err := json.Marshal(debug)
		if err != nil {
			return o.fail(ctx, job, debug, start, fmt.Errorf("cannot marshal debug data: %w", err))
		}
		record.DebugData = debugJSON
	}
	if err := o.meta.PutQueryResult(ctx, record); err != nil {
		metrics.QueryJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("cannot persist query result: %w", err)
	}

	metrics.QueryJobs.WithLabelValues("completed").Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	metrics.QueryIterations.Observe(float64(len(debug.Iterations)))
	logger.Info("Query completed",
		"iterations", len(debug.Iterations),
		"citations", len(citations),
		"total_ms", debug.Timing.TotalMs)
	return nil
}

// iterate runs embed, retrieve, rerank, evaluate for the current
// state, accumulating stage totals into timing.
func (o *Orchestrator) iterate(ctx context.Context, retriever *Retriever, settings *metastore.Settings, state *loopState, timing *Timing) ([]RankedChunk, AgentEvaluation, SearchSources, []ChunkResult, error) {
	embedStart := time.Now()
	vectors, err := o.embedder.Embed(ctx, []string{state.queryText})
	timing.EmbeddingMs += float64(time.Since(embedStart).Milliseconds())
	if err != nil {
		return nil, AgentEvaluation{}, SearchSources{}, nil, fmt.Errorf("query embedding failed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, AgentEvaluation{}, SearchSources{}, nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}

	searchStart := time.Now()
	candidates, sources, err := retriever.Search(ctx, state.queryText, vectors[0], state.topK, state.filter)
	timing.SearchMs += float64(time.Since(searchStart).Milliseconds())
	if err != nil {
		return nil, AgentEvaluation{}, SearchSources{}, nil, err
	}
	before := candidateResults(candidates)

	rerankStart := time.Now()
	ranked, fallback := o.reranker.Rerank(ctx, state.queryText, candidates, settings.DefaultRerankTop)
	timing.RerankMs += float64(time.Since(rerankStart).Milliseconds())

	agentStart := time.Now()
	evaluation := o.evaluator.Evaluate(ctx, state.queryText, ranked)
	timing.AgentMs += float64(time.Since(agentStart).Milliseconds())
	if fallback {
		if evaluation.Reasoning != "" {
			evaluation.Reasoning += "; "
		}
		evaluation.Reasoning += "rerank_fallback"
	}

	return ranked, evaluation, sources, before, nil
}

func (o *Orchestrator) documentNames(ctx context.Context, chunks []RankedChunk) map[string]string {
	names := make(map[string]string)
	for _, chunk := range chunks {
		if chunk.DocID == "" {
			continue
		}
		if _, ok := names[chunk.DocID]; ok {
			continue
		}
		doc, err := o.meta.GetDocument(ctx, chunk.DocID)
		if err != nil {
			slog.Debug("Cannot resolve document name for citation", "doc_id", chunk.DocID, "error", err)
			names[chunk.DocID] = ""
			continue
		}
		names[chunk.DocID] = doc.Filename
	}
	return names
}

// fail persists the error outcome with whatever debug data accumulated
// before the failure.
func (o *Orchestrator) fail(ctx context.Context, job jobs.QueryJob, debug *DebugData, start time.Time, cause error) error {
	record := metastore.QueryResultRecord{
		ID:             job.QueryID,
		QueryText:      job.QueryText,
		TotalTimeMs:    float64(time.Since(start).Milliseconds()),
		ErrorMessage:   cause.Error(),
		IterationCount: 0,
	}
	if debug != nil {
		record.IterationCount = len(debug.Iterations)
		if job.DebugMode {
			debug.Timing.TotalMs = record.TotalTimeMs
			if debugJSON, err := json.Marshal(debug); err == nil {
				record.DebugData = debugJSON
			}
		}
	}
	if putErr := o.meta.PutQueryResult(ctx, record); putErr != nil {
		slog.Error("Cannot persist failed query result", "query_id", job.QueryID, "error", putErr)
	}
	metrics.QueryJobs.WithLabelValues("failed").Inc()
	return cause
}
