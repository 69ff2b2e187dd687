// Package query implements the agentic retrieval loop: hybrid search
// with reciprocal-rank fusion, reranking, an LLM evaluator that may
// refine or broaden the query, grounded answer generation, and the
// debug capture consumed by the operator UI.
package query

// previewLength is how many leading characters of chunk content appear
// in debug output.
const previewLength = 200

// SearchSources counts hits per retrieval source for one iteration.
type SearchSources struct {
	VectorChunks    int `json:"vector_chunks"`
	VectorSummaries int `json:"vector_summaries"`
	VectorQA        int `json:"vector_qa"`
	KeywordBM25     int `json:"keyword_bm25"`
	AfterMerge      int `json:"after_merge"`
}

// ChunkResult is one retrieved chunk as shown in debug output.
// ScoreChange is set only on post-rerank lists.
type ChunkResult struct {
	ID          string   `json:"id"`
	Score       float64  `json:"score"`
	Source      string   `json:"source"`
	Section     string   `json:"section"`
	Preview     string   `json:"preview"`
	ScoreChange *float64 `json:"score_change,omitempty"`
}

// AgentEvaluation is the evaluator's decision for one iteration.
type AgentEvaluation struct {
	Decision     string  `json:"decision"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	RefinedQuery string  `json:"refined_query,omitempty"`
}

// IterationDebug records everything that happened in one loop pass.
type IterationDebug struct {
	IterationNumber    int             `json:"iteration_number"`
	QueryUsed          string          `json:"query_used"`
	SearchSources      SearchSources   `json:"search_sources"`
	ChunksBeforeRerank []ChunkResult   `json:"chunks_before_rerank"`
	ChunksAfterRerank  []ChunkResult   `json:"chunks_after_rerank"`
	AgentEvaluation    AgentEvaluation `json:"agent_evaluation"`
	DurationMs         float64         `json:"duration_ms"`
}

// Timing is the stage-total time breakdown across the whole query.
type Timing struct {
	EmbeddingMs  float64 `json:"embedding_ms"`
	SearchMs     float64 `json:"search_ms"`
	RerankMs     float64 `json:"rerank_ms"`
	AgentMs      float64 `json:"agent_ms"`
	GenerationMs float64 `json:"generation_ms"`
	TotalMs      float64 `json:"total_ms"`
}

// DebugData is the full per-query observability record. Its JSON shape
// is consumed directly by the operator UI and must stay stable.
type DebugData struct {
	Iterations []IterationDebug `json:"iterations"`
	Timing     Timing           `json:"timing"`
}

// preview returns the leading previewLength characters of content,
// respecting rune boundaries.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

// candidateResults converts fused candidates into pre-rerank debug
// entries.
func candidateResults(items []Candidate) []ChunkResult {
	out := make([]ChunkResult, 0, len(items))
	for _, item := range items {
		out = append(out, ChunkResult{
			ID:      item.ChunkID,
			Score:   item.Score,
			Source:  item.Source,
			Section: item.Section(),
			Preview: preview(item.Content),
		})
	}
	return out
}

// chunkResults converts ranked candidates into debug entries.
// withChange controls whether score deltas are attached.
func chunkResults(items []RankedChunk, withChange bool) []ChunkResult {
	out := make([]ChunkResult, 0, len(items))
	for _, item := range items {
		result := ChunkResult{
			ID:      item.ChunkID,
			Score:   item.Score,
			Source:  item.Source,
			Section: item.Section(),
			Preview: preview(item.Content),
		}
		if withChange {
			change := item.ScoreChange
			result.ScoreChange = &change
		}
		out = append(out, result)
	}
	return out
}
