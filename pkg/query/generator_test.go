package query

import (
	"context"
	"errors"
	"testing"

	"github.com/treeline-ai/treeline/pkg/llms"
)

func generatorContext() []RankedChunk {
	return []RankedChunk{
		{Candidate: Candidate{
			ChunkID: "chunk-1", DocID: "doc-1", Content: "Refunds take ten days.",
			HierarchyPath: []string{"Returns"}, PageNumber: 2,
		}},
		{Candidate: Candidate{
			ChunkID: "chunk-2", DocID: "doc-2", Content: "Shipping is free over $50.",
		}},
	}
}

func TestExtractCitations(t *testing.T) {
	answer := "Refunds take ten days [2][1]. Free shipping applies [2], see also [7]."
	names := map[string]string{"doc-1": "returns.pdf", "doc-2": "shipping.md"}

	citations := ExtractCitations(answer, generatorContext(), names)
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2: %+v", len(citations), citations)
	}

	// First appearance wins the ordering; repeats and out-of-range
	// markers are dropped.
	if citations[0].Number != 2 || citations[1].Number != 1 {
		t.Errorf("order = %d, %d, want 2, 1", citations[0].Number, citations[1].Number)
	}
	first := citations[0]
	if first.ChunkID != "chunk-2" || first.DocumentID != "doc-2" || first.DocumentName != "shipping.md" {
		t.Errorf("citation fields = %+v", first)
	}
	second := citations[1]
	if second.ChunkID != "chunk-1" || second.PageNumber != 2 || len(second.HierarchyPath) != 1 {
		t.Errorf("citation fields = %+v", second)
	}
}

func TestExtractCitationsNone(t *testing.T) {
	if got := ExtractCitations("No markers here.", generatorContext(), nil); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
	if got := ExtractCitations("Out of range [3].", generatorContext(), nil); got != nil {
		t.Errorf("out-of-range marker must not produce a citation: %+v", got)
	}
}

func TestGenerateReturnsAnswerAndCitations(t *testing.T) {
	chat := &scriptedChat{respond: func(req llms.CompletionRequest, call int) (string, error) {
		return "Refunds take ten days [1].", nil
	}}
	answer, citations, err := NewGenerator(chat).Generate(context.Background(), "how long do refunds take", generatorContext(), map[string]string{"doc-1": "returns.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Refunds take ten days [1]." {
		t.Errorf("answer = %q", answer)
	}
	if len(citations) != 1 || citations[0].DocumentName != "returns.pdf" {
		t.Errorf("citations = %+v", citations)
	}
}

func TestGenerateError(t *testing.T) {
	chat := &scriptedChat{respond: func(req llms.CompletionRequest, call int) (string, error) {
		return "", errors.New("model down")
	}}
	if _, _, err := NewGenerator(chat).Generate(context.Background(), "q", generatorContext(), nil); err == nil {
		t.Fatal("expected error")
	}
}
