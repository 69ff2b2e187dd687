package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/treeline-ai/treeline/pkg/llms"
)

// Evaluator decisions.
const (
	DecisionProceed      = "proceed"
	DecisionRefineQuery  = "refine_query"
	DecisionExpandSearch = "expand_search"
)

const (
	evaluatorMaxTokens   = 200
	evaluatorTemperature = 0.1
)

const evaluatorSystem = "You judge whether retrieved context is sufficient to answer a question. Respond with JSON only."

const evaluatorPromptFormat = `Question: %s

Retrieved context:
%s
Decide whether this context is sufficient to answer the question.
Respond with a JSON object:
{"decision": "proceed" | "refine_query" | "expand_search",
 "confidence": 0.0-1.0,
 "reasoning": "...",
 "refined_query": "only when decision is refine_query"}`

// Evaluator is the agent step deciding whether to answer, rephrase the
// query, or broaden the search.
type Evaluator struct {
	chat llms.Chat
}

// NewEvaluator builds the agent evaluator.
func NewEvaluator(chat llms.Chat) *Evaluator {
	return &Evaluator{chat: chat}
}

// Evaluate never fails: completion or parse problems collapse to the
// safe default of proceeding with middling confidence, and values
// outside the contract are coerced with a note in the reasoning.
func (e *Evaluator) Evaluate(ctx context.Context, query string, contextChunks []RankedChunk) AgentEvaluation {
	response, err := e.chat.Complete(ctx, llms.CompletionRequest{
		System:      evaluatorSystem,
		User:        fmt.Sprintf(evaluatorPromptFormat, query, renderContext(contextChunks)),
		MaxTokens:   evaluatorMaxTokens,
		Temperature: evaluatorTemperature,
		JSONMode:    true,
	})
	if err != nil {
		slog.Warn("Agent evaluation call failed, proceeding", "error", err)
		return AgentEvaluation{Decision: DecisionProceed, Confidence: 0.5, Reasoning: "parse_failed"}
	}

	var evaluation AgentEvaluation
	if err := llms.ExtractJSON(response, &evaluation); err != nil {
		slog.Warn("Agent evaluation was not parseable, proceeding", "error", err)
		return AgentEvaluation{Decision: DecisionProceed, Confidence: 0.5, Reasoning: "parse_failed"}
	}

	var notes []string
	switch evaluation.Decision {
	case DecisionProceed, DecisionRefineQuery, DecisionExpandSearch:
	default:
		notes = append(notes, fmt.Sprintf("unknown decision %q coerced to proceed", evaluation.Decision))
		evaluation.Decision = DecisionProceed
	}
	if evaluation.Confidence < 0 {
		notes = append(notes, "confidence raised to 0")
		evaluation.Confidence = 0
	}
	if evaluation.Confidence > 1 {
		notes = append(notes, "confidence capped at 1")
		evaluation.Confidence = 1
	}
	evaluation.RefinedQuery = strings.TrimSpace(evaluation.RefinedQuery)

	if len(notes) > 0 {
		if evaluation.Reasoning != "" {
			evaluation.Reasoning += "; "
		}
		evaluation.Reasoning += strings.Join(notes, "; ")
	}
	return evaluation
}

// renderContext lists numbered chunk excerpts for evaluator and
// generator prompts. Numbers are 1-based and shared with citation
// markers.
func renderContext(chunks []RankedChunk) string {
	if len(chunks) == 0 {
		return "(no context retrieved)\n"
	}
	var b strings.Builder
	for i, chunk := range chunks {
		section := chunk.Section()
		if section == "" {
			section = "document"
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n\n", i+1, section, chunk.Content)
	}
	return b.String()
}
