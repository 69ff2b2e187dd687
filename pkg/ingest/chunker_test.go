package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/treeline-ai/treeline/pkg/lang"
	"github.com/treeline-ai/treeline/pkg/llms"
)

// estimatedCounter gives deterministic whitespace tokenization so the
// tests do not depend on the bpe vocabulary being loadable.
func estimatedCounter() *TokenCounter {
	return &TokenCounter{method: TokenMethodEstimated}
}

// sentenceText builds n whitespace tokens with a period closing every
// fifth word.
func sentenceText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
		if (i+1)%5 == 0 {
			words[i] += "."
		}
	}
	return strings.Join(words, " ")
}

func singleLeafTree(text string) *Tree {
	return BuildTree(&ExtractResult{Blocks: []Block{{Role: RoleParagraph, Text: text, Position: 0}}}, nil)
}

func TestChunkOverlapAndBounds(t *testing.T) {
	counter := estimatedCounter()
	chunker := NewChunker(ChunkerConfig{ChunkSize: 20, ChunkOverlap: 5}, counter, nil, nil)

	tree := singleLeafTree(sentenceText(100))
	chunks, err := chunker.Chunk(context.Background(), tree, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	// Each chunk must be a contiguous token window, and each window
	// must start exactly ChunkOverlap tokens before the previous end.
	tokens := counter.Tokenize(tree.Nodes[tree.Leaves()[0]].Content)
	start := 0
	for i, chunk := range chunks {
		if chunk.TokenCount > 20 {
			t.Errorf("chunk %d token count %d exceeds size", i, chunk.TokenCount)
		}
		if i < len(chunks)-1 && chunk.TokenCount < 12 {
			t.Errorf("chunk %d token count %d below minimum fill", i, chunk.TokenCount)
		}
		end := start + chunk.TokenCount
		if end > len(tokens) {
			t.Fatalf("chunk %d window [%d:%d] past end of stream", i, start, end)
		}
		if want := strings.Join(tokens[start:end], ""); chunk.Content != want {
			t.Fatalf("chunk %d content mismatch:\ngot  %q\nwant %q", i, chunk.Content, want)
		}
		if i < len(chunks)-1 {
			// Boundary search only runs past the fill minimum, so a
			// closing sentence token is always available here.
			if !endsSentence(tokens[end-1]) {
				t.Errorf("chunk %d does not close at a sentence end: %q", i, tokens[end-1])
			}
		}
		start = end - 5
	}
	if start+5 != len(tokens) {
		t.Errorf("final chunk ends at %d, want %d", start+5, len(tokens))
	}
}

func TestChunkAnnotations(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50}, estimatedCounter(), lang.NewScriptTagger(), nil)
	result := &ExtractResult{Blocks: []Block{
		{Role: RoleHeading, Depth: 1, Text: "Returns", Position: 0},
		{Role: RoleParagraph, Text: "Refunds are issued within thirty days.", Position: 1, Page: 3},
	}}

	chunks, err := chunker.Chunk(context.Background(), BuildTree(result, nil), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.ChunkID == "" || c.DocID != "doc-1" {
		t.Errorf("identity fields not set: %+v", c)
	}
	if len(c.HierarchyPath) != 1 || c.HierarchyPath[0] != "Returns" {
		t.Errorf("hierarchy path = %v, want [Returns]", c.HierarchyPath)
	}
	if c.PageNumber != 3 {
		t.Errorf("page = %d, want 3", c.PageNumber)
	}
	if c.Language != "en" {
		t.Errorf("language = %q, want en", c.Language)
	}
	if c.TokenCountMethod != TokenMethodEstimated {
		t.Errorf("token method = %q", c.TokenCountMethod)
	}
	if c.Metadata["type"] != ChunkTypeText {
		t.Errorf("metadata type = %v", c.Metadata["type"])
	}
}

func TestChunkSpanningSectionsSharesPathPrefix(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50}, estimatedCounter(), nil, nil)
	result := &ExtractResult{Blocks: []Block{
		{Role: RoleHeading, Depth: 1, Text: "Alpha", Position: 0},
		{Role: RoleParagraph, Text: "First section body.", Position: 1},
		{Role: RoleHeading, Depth: 1, Text: "Beta", Position: 2},
		{Role: RoleParagraph, Text: "Second section body.", Position: 3},
	}}

	chunks, err := chunker.Chunk(context.Background(), BuildTree(result, nil), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 spanning chunk", len(chunks))
	}
	if len(chunks[0].HierarchyPath) != 0 {
		t.Errorf("spanning chunk path = %v, want empty", chunks[0].HierarchyPath)
	}
}

func TestSharedPrefix(t *testing.T) {
	tests := []struct {
		a, b, want []string
	}{
		{[]string{"A", "B"}, []string{"A", "C"}, []string{"A"}},
		{[]string{"A", "B"}, []string{"A", "B", "C"}, []string{"A", "B"}},
		{[]string{"A"}, []string{"B"}, []string{}},
		{nil, []string{"A"}, nil},
	}
	for _, tt := range tests {
		got := sharedPrefix(tt.a, tt.b)
		if len(got) != len(tt.want) {
			t.Errorf("sharedPrefix(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("sharedPrefix(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		}
	}
}

func TestChunkEmptyTree(t *testing.T) {
	chunker := NewChunker(ChunkerConfig{}, estimatedCounter(), nil, nil)
	chunks, err := chunker.Chunk(context.Background(), BuildTree(&ExtractResult{}, nil), "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if chunks != nil {
		t.Errorf("chunks = %+v, want nil", chunks)
	}
}

func hierarchicalFixture() *ExtractResult {
	result := &ExtractResult{}
	position := 0
	for _, title := range []string{"One", "Two", "Three"} {
		result.Blocks = append(result.Blocks, Block{Role: RoleHeading, Depth: 1, Text: title, Position: position})
		position++
		result.Blocks = append(result.Blocks, Block{
			Role: RoleParagraph, Text: strings.Repeat(title+" body sentence. ", 30), Position: position,
		})
		position++
	}
	return result
}

func TestChunkBuildsParentChunks(t *testing.T) {
	chat := &fakeChat{respond: func(req llms.CompletionRequest) (string, error) {
		return "section overview", nil
	}}
	chunker := NewChunker(ChunkerConfig{
		ChunkSize:                  30,
		ChunkOverlap:               5,
		HierarchicalThresholdChars: 100,
	}, estimatedCounter(), nil, chat)

	chunks, err := chunker.Chunk(context.Background(), BuildTree(hierarchicalFixture(), nil), "doc-1")
	if err != nil {
		t.Fatal(err)
	}

	var parents, children []Chunk
	for _, c := range chunks {
		if _, ok := c.Metadata["children"]; ok {
			parents = append(parents, c)
		} else {
			children = append(children, c)
		}
	}
	if len(parents) != 3 {
		t.Fatalf("got %d parent chunks, want 3", len(parents))
	}
	if len(children) == 0 {
		t.Fatal("no leaf chunks produced")
	}

	childByID := make(map[string]Chunk)
	for _, c := range children {
		childByID[c.ChunkID] = c
	}
	for i, title := range []string{"One", "Two", "Three"} {
		p := parents[i]
		if !strings.HasPrefix(p.Content, title+"\n\n") {
			t.Errorf("parent %d content %q missing heading", i, p.Content)
		}
		if len(p.HierarchyPath) != 1 || p.HierarchyPath[0] != title {
			t.Errorf("parent %d path = %v, want [%s]", i, p.HierarchyPath, title)
		}
		ids, ok := p.Metadata["children"].([]interface{})
		if !ok || len(ids) == 0 {
			t.Fatalf("parent %d has no child ids", i)
		}
		for _, id := range ids {
			child, ok := childByID[id.(string)]
			if !ok {
				t.Errorf("parent %d references unknown chunk %v", i, id)
				continue
			}
			if len(child.HierarchyPath) == 0 || child.HierarchyPath[0] != title {
				t.Errorf("chunk %v claimed by %q but its path is %v", id, title, child.HierarchyPath)
			}
		}
	}
}

func TestChunkParentSummaryFailure(t *testing.T) {
	boom := errors.New("overview failed")
	chat := &fakeChat{respond: func(req llms.CompletionRequest) (string, error) {
		return "", boom
	}}
	chunker := NewChunker(ChunkerConfig{
		ChunkSize:                  30,
		ChunkOverlap:               5,
		HierarchicalThresholdChars: 100,
	}, estimatedCounter(), nil, chat)

	_, err := chunker.Chunk(context.Background(), BuildTree(hierarchicalFixture(), nil), "doc-1")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want overview failure", err)
	}
}
