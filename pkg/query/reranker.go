package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/treeline-ai/treeline/pkg/llms"
)

// RankedChunk is a candidate after reranking, carrying both the fused
// score and the rerank score.
type RankedChunk struct {
	Candidate
	PriorScore  float64
	ScoreChange float64
}

const rerankSystem = "You rank document excerpts by relevance to a question. Respond with JSON only."

const rerankPromptFormat = `Question: %s

Excerpts:
%s
Return a JSON array with the indices of the %d most relevant excerpts, most relevant first, e.g. [2, 0, 1].`

// Reranker rescoring uses an index-ranking completion: the model sees
// numbered excerpts and returns an ordering. Cheap and model-agnostic
// compared to per-pair scoring.
type Reranker struct {
	chat llms.Chat
}

// NewReranker builds an LLM reranker.
func NewReranker(chat llms.Chat) *Reranker {
	return &Reranker{chat: chat}
}

// Rerank returns the top chunks reordered by model relevance. Each
// result carries prior_score (the fused score), the new score, and
// their difference. A transient failure falls back to the original
// order with zero score change; the boolean reports whether the
// fallback was taken.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, top int) ([]RankedChunk, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if top > len(candidates) {
		top = len(candidates)
	}

	indices, err := r.rank(ctx, query, candidates, top)
	if err != nil {
		slog.Warn("Rerank failed, passing candidates through", "error", err)
		return passthrough(candidates, top), true
	}

	ranked := make([]RankedChunk, 0, top)
	for position, idx := range indices {
		chunk := RankedChunk{
			Candidate:  candidates[idx],
			PriorScore: candidates[idx].Score,
		}
		// Rank positions map onto a descending score in (0, 1].
		chunk.Candidate.Score = float64(top-position) / float64(top)
		chunk.ScoreChange = chunk.Candidate.Score - chunk.PriorScore
		ranked = append(ranked, chunk)
	}
	return ranked, false
}

func (r *Reranker) rank(ctx context.Context, query string, candidates []Candidate, top int) ([]int, error) {
	var excerpts strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&excerpts, "[%d] %s\n", i, preview(c.Content))
	}

	response, err := r.chat.Complete(ctx, llms.CompletionRequest{
		System:      rerankSystem,
		User:        fmt.Sprintf(rerankPromptFormat, query, excerpts.String(), top),
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var raw []int
	if err := llms.ExtractJSON(response, &raw); err != nil {
		return nil, fmt.Errorf("unparseable ranking: %w", err)
	}

	// Keep valid, unique indices in model order; pad with the fused
	// order if the model returned too few.
	seen := make(map[int]bool)
	indices := make([]int, 0, top)
	for _, idx := range raw {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
		if len(indices) == top {
			break
		}
	}
	for idx := 0; len(indices) < top && idx < len(candidates); idx++ {
		if !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("ranking contained no valid indices")
	}
	return indices, nil
}

func passthrough(candidates []Candidate, top int) []RankedChunk {
	ranked := make([]RankedChunk, 0, top)
	for _, c := range candidates[:top] {
		ranked = append(ranked, RankedChunk{
			Candidate:   c,
			PriorScore:  c.Score,
			ScoreChange: 0,
		})
	}
	return ranked
}
