package query

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/treeline-ai/treeline/pkg/llms"
)

const generatorSystem = "You answer questions strictly from the provided context. " +
	"Cite supporting excerpts inline with their bracketed numbers, like [1]. " +
	"If the context does not contain the answer, say so."

const generatorPromptFormat = `Question: %s

Context:
%s
Answer the question using only the context above. Cite every claim with the excerpt number in square brackets.`

// Citation points an answer marker at its source chunk.
type Citation struct {
	Number        int      `json:"number"`
	DocumentID    string   `json:"document_id"`
	DocumentName  string   `json:"document_name"`
	HierarchyPath []string `json:"hierarchy_path"`
	PageNumber    int      `json:"page_number,omitempty"`
	ChunkID       string   `json:"chunk_id"`
}

// Generator produces the grounded answer from the final reranked
// context.
type Generator struct {
	chat llms.Chat
}

// NewGenerator builds the answer generator.
func NewGenerator(chat llms.Chat) *Generator {
	return &Generator{chat: chat}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Generate returns the answer text and its citations. Citations are
// ordered by first appearance in the answer; markers that do not
// resolve to a context chunk are dropped from the citation list.
// documentNames maps doc_id to filename for display.
func (g *Generator) Generate(ctx context.Context, query string, contextChunks []RankedChunk, documentNames map[string]string) (string, []Citation, error) {
	answer, err := g.chat.Complete(ctx, llms.CompletionRequest{
		System:      generatorSystem,
		User:        fmt.Sprintf(generatorPromptFormat, query, renderContext(contextChunks)),
		MaxTokens:   1000,
		Temperature: 0.2,
	})
	if err != nil {
		return "", nil, fmt.Errorf("answer generation failed: %w", err)
	}
	return answer, ExtractCitations(answer, contextChunks, documentNames), nil
}

// ExtractCitations resolves [n] markers against the context chunks.
// Duplicate markers share one entry; order follows first appearance.
func ExtractCitations(answer string, contextChunks []RankedChunk, documentNames map[string]string) []Citation {
	seen := make(map[int]bool)
	var citations []Citation
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		number, err := strconv.Atoi(match[1])
		if err != nil || seen[number] {
			continue
		}
		if number < 1 || number > len(contextChunks) {
			slog.Debug("Dropping unresolvable citation", "number", number)
			continue
		}
		seen[number] = true
		chunk := contextChunks[number-1]
		citations = append(citations, Citation{
			Number:        number,
			DocumentID:    chunk.DocID,
			DocumentName:  documentNames[chunk.DocID],
			HierarchyPath: chunk.HierarchyPath,
			PageNumber:    chunk.PageNumber,
			ChunkID:       chunk.ChunkID,
		})
	}
	return citations
}
