package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
)

const qaMaxTokens = 1500

// QAGenerator synthesizes question/answer pairs for the qa retrieval
// collection.
type QAGenerator struct {
	chat           llms.Chat
	numPairs       int
	promptOverride string
}

// NewQAGenerator builds a generator from runtime settings.
func NewQAGenerator(chat llms.Chat, settings *metastore.Settings) *QAGenerator {
	return &QAGenerator{
		chat:           chat,
		numPairs:       settings.QANumPairs,
		promptOverride: settings.PromptQA,
	}
}

// Generate requests pairs in one JSON-mode completion. Malformed items
// are dropped; zero surviving pairs is not a failure.
func (g *QAGenerator) Generate(ctx context.Context, tree *Tree, docTitle string) ([]QAPair, error) {
	text := tree.FullText()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	template := g.promptOverride
	if template == "" {
		template = defaultQAPrompt
	}
	user := RenderPrompt(template, map[string]string{
		"document_title":   docTitle,
		"document_content": text,
		"num_questions":    strconv.Itoa(g.numPairs),
	})

	response, err := g.chat.Complete(ctx, llms.CompletionRequest{
		System:      defaultQASystem,
		User:        user,
		MaxTokens:   qaMaxTokens,
		Temperature: summaryTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}
	return ParseQAPairs(response), nil
}

// ParseQAPairs extracts well-formed pairs from a model response.
// Unknown question types coerce to factual.
func ParseQAPairs(response string) []QAPair {
	var envelope struct {
		QAPairs []QAPair `json:"qa_pairs"`
	}
	if err := llms.ExtractJSON(response, &envelope); err != nil {
		slog.Warn("Q&A response was not parseable, keeping zero pairs", "error", err)
		return nil
	}

	pairs := make([]QAPair, 0, len(envelope.QAPairs))
	for _, pair := range envelope.QAPairs {
		pair.Question = strings.TrimSpace(pair.Question)
		pair.Answer = strings.TrimSpace(pair.Answer)
		if pair.Question == "" || pair.Answer == "" {
			continue
		}
		if !qaPairTypes[pair.Type] {
			pair.Type = "factual"
		}
		pairs = append(pairs, pair)
	}
	return pairs
}
