package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/treeline-ai/treeline/pkg/lang"
	"github.com/treeline-ai/treeline/pkg/llms"
)

// ChunkerConfig controls text chunk sizing.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int

	// Hierarchical strategy thresholds.
	HierarchicalThresholdChars int
	MinHeadersForSemantic      int
	ParentChunkMultiplier      int
	ParentSummaryMaxLength     int
}

func (c *ChunkerConfig) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 512
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 50
	}
	if c.HierarchicalThresholdChars <= 0 {
		c.HierarchicalThresholdChars = 60000
	}
	if c.MinHeadersForSemantic <= 0 {
		c.MinHeadersForSemantic = 3
	}
	if c.ParentChunkMultiplier <= 0 {
		c.ParentChunkMultiplier = 2
	}
	if c.ParentSummaryMaxLength <= 0 {
		c.ParentSummaryMaxLength = 300
	}
}

// sentenceBoundaryFill is the minimum chunk fill ratio at which an
// overflowing leaf may be closed at a sentence boundary instead of the
// exact token budget.
const sentenceBoundaryFill = 0.6

// Chunker slices a document tree into size-bounded, overlap-linked,
// language-tagged text chunks.
type Chunker struct {
	cfg     ChunkerConfig
	counter *TokenCounter
	tagger  lang.Tagger
	chat    llms.Chat // parent-chunk summaries only
}

// NewChunker builds a chunker. chat may be nil when the hierarchical
// strategy is not wanted.
func NewChunker(cfg ChunkerConfig, counter *TokenCounter, tagger lang.Tagger, chat llms.Chat) *Chunker {
	cfg.SetDefaults()
	return &Chunker{cfg: cfg, counter: counter, tagger: tagger, chat: chat}
}

// streamToken is one token of the flattened document with its source
// leaf.
type streamToken struct {
	text string
	leaf int // index into tree.Nodes
}

// Chunk produces text_chunk variants for the document. Adjacent chunks
// share ChunkOverlap tokens; chunk boundaries prefer sentence ends once
// a chunk is at least 60% full.
func (c *Chunker) Chunk(ctx context.Context, tree *Tree, docID string) ([]Chunk, error) {
	leaves := tree.Leaves()
	if len(leaves) == 0 {
		return nil, nil
	}

	var stream []streamToken
	for i, leafIdx := range leaves {
		if i > 0 {
			stream = append(stream, streamToken{text: "\n\n", leaf: leaves[i-1]})
		}
		for _, tok := range c.counter.Tokenize(tree.Nodes[leafIdx].Content) {
			stream = append(stream, streamToken{text: tok, leaf: leafIdx})
		}
	}

	chunks := c.sliceStream(tree, docID, stream)

	if c.chat != nil && len(tree.FullText()) > c.cfg.HierarchicalThresholdChars {
		sections := tree.Sections()
		if len(sections) >= c.cfg.MinHeadersForSemantic {
			parents, err := c.buildParentChunks(ctx, tree, docID, sections, chunks)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, parents...)
		}
	}
	return chunks, nil
}

func (c *Chunker) sliceStream(tree *Tree, docID string, stream []streamToken) []Chunk {
	var chunks []Chunk
	minFill := int(float64(c.cfg.ChunkSize) * sentenceBoundaryFill)

	start := 0
	for start < len(stream) {
		end := start + c.cfg.ChunkSize
		if end >= len(stream) {
			end = len(stream)
		} else {
			// Prefer closing at a sentence end once the chunk is
			// sufficiently full.
			for j := end - 1; j > start+minFill; j-- {
				if endsSentence(stream[j].text) {
					end = j + 1
					break
				}
			}
		}

		chunks = append(chunks, c.emit(tree, docID, stream[start:end]))
		if end >= len(stream) {
			break
		}
		next := end - c.cfg.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func (c *Chunker) emit(tree *Tree, docID string, tokens []streamToken) Chunk {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.text)
	}
	content := b.String()

	first := &tree.Nodes[tokens[0].leaf]
	path := first.HierarchyPath
	for _, tok := range tokens[1:] {
		if tok.leaf != tokens[0].leaf {
			path = sharedPrefix(path, tree.Nodes[tok.leaf].HierarchyPath)
		}
	}

	chunk := Chunk{
		ChunkID:          uuid.NewString(),
		DocID:            docID,
		Content:          content,
		HierarchyPath:    path,
		PageNumber:       first.Page,
		TokenCount:       len(tokens),
		TokenCountMethod: c.counter.Method(),
		Metadata:         map[string]interface{}{"type": ChunkTypeText},
	}
	c.tag(&chunk)
	return chunk
}

// tag attaches language fields when the content has at least one word.
func (c *Chunker) tag(chunk *Chunk) {
	if c.tagger == nil || len(strings.Fields(chunk.Content)) < 1 {
		return
	}
	analysis := c.tagger.Analyze(chunk.Content)
	chunk.Language = analysis.PrimaryLanguage
	chunk.IsMultilingual = analysis.IsMultilingual
	chunk.Languages = analysis.Languages
	chunk.LanguageDistribution = analysis.Distribution
}

// buildParentChunks emits one oversized chunk per top-level section
// carrying the heading, a short generated overview, and the ids of the
// section's child chunks.
func (c *Chunker) buildParentChunks(ctx context.Context, tree *Tree, docID string, sections []int, chunks []Chunk) ([]Chunk, error) {
	// A chunk's hierarchy path starts with the title of its owning
	// top-level section, so child membership follows from the path.
	childIDs := make(map[int][]interface{})
	owningSection := func(chunk *Chunk) int {
		if len(chunk.HierarchyPath) == 0 {
			return -1
		}
		for _, sectionIdx := range sections {
			if tree.Nodes[sectionIdx].Title == chunk.HierarchyPath[0] {
				return sectionIdx
			}
		}
		return -1
	}
	for i := range chunks {
		if sectionIdx := owningSection(&chunks[i]); sectionIdx >= 0 {
			childIDs[sectionIdx] = append(childIDs[sectionIdx], chunks[i].ChunkID)
		}
	}

	budget := c.cfg.ParentChunkMultiplier * c.cfg.ChunkSize
	var parents []Chunk
	for _, sectionIdx := range sections {
		section := &tree.Nodes[sectionIdx]
		text := tree.SectionText(sectionIdx)
		if strings.TrimSpace(text) == "" {
			continue
		}

		overview, err := c.chat.Complete(ctx, llms.CompletionRequest{
			System:      defaultSummarySystem,
			User:        RenderPrompt(parentSummaryPrompt, map[string]string{"document_title": section.Title, "document_content": text}),
			MaxTokens:   200,
			Temperature: summaryTemperature,
		})
		if err != nil {
			return nil, fmt.Errorf("parent summary for %q: %w", section.Title, err)
		}
		if len(overview) > c.cfg.ParentSummaryMaxLength {
			overview = overview[:c.cfg.ParentSummaryMaxLength]
		}

		content := section.Title + "\n\n" + strings.TrimSpace(overview)
		tokens := c.counter.Tokenize(content)
		if len(tokens) > budget {
			content = strings.Join(tokens[:budget], "")
			tokens = tokens[:budget]
		}

		path := append(append([]string{}, section.HierarchyPath...), section.Title)
		chunk := Chunk{
			ChunkID:          uuid.NewString(),
			DocID:            docID,
			Content:          content,
			HierarchyPath:    path,
			PageNumber:       section.Page,
			TokenCount:       len(tokens),
			TokenCountMethod: c.counter.Method(),
			Metadata: map[string]interface{}{
				"type":     ChunkTypeText,
				"children": childIDs[sectionIdx],
			},
		}
		c.tag(&chunk)
		parents = append(parents, chunk)
	}
	return parents, nil
}

// sharedPrefix returns the deepest common prefix of two hierarchy
// paths.
func sharedPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}
