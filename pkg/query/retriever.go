package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/treeline-ai/treeline/pkg/vector"
)

// Retrieval source labels, also used as collection priority for fusion
// tie-breaks.
const (
	SourceChunks    = "chunks"
	SourceQA        = "qa"
	SourceSummaries = "summaries"
)

var sourcePriority = map[string]int{
	SourceChunks:    0,
	SourceQA:        1,
	SourceSummaries: 2,
}

func sourceFor(collection string) string {
	switch collection {
	case vector.CollectionSummaries:
		return SourceSummaries
	case vector.CollectionQA:
		return SourceQA
	}
	return SourceChunks
}

// Candidate is one retrieved chunk with its fused score.
type Candidate struct {
	ChunkID       string
	DocID         string
	Content       string
	HierarchyPath []string
	PageNumber    int
	Source        string
	Score         float64
	Metadata      map[string]interface{}
}

// Section renders the hierarchy path for display.
func (c *Candidate) Section() string {
	return strings.Join(c.HierarchyPath, " > ")
}

// Retriever runs hybrid search over the three collections and fuses
// the ranked lists with reciprocal-rank fusion.
type Retriever struct {
	index vector.Index
	rrfK  int
}

// NewRetriever builds a retriever with the given RRF constant.
func NewRetriever(index vector.Index, rrfK int) *Retriever {
	if rrfK <= 0 {
		rrfK = 60
	}
	return &Retriever{index: index, rrfK: rrfK}
}

// lexicalOversample widens the candidate scroll so BM25 has enough
// material to rank.
const lexicalOversample = 10

// Search returns the fused top_k candidates plus per-source counts.
// The six collection fetches (dense and lexical per collection) run
// concurrently; fusion is deterministic given the full result set.
func (r *Retriever) Search(ctx context.Context, queryText string, embedding []float32, topK int, docFilter []string) ([]Candidate, SearchSources, error) {
	var filter *vector.Filter
	if len(docFilter) > 0 {
		filter = &vector.Filter{DocIDs: docFilter}
	}
	terms := vector.Tokenize(queryText)

	var mu sync.Mutex
	dense := make(map[string][]vector.Hit, len(vector.Collections))
	lexical := make(map[string][]vector.Hit, len(vector.Collections))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, collection := range vector.Collections {
		group.Go(func() error {
			hits, err := r.index.DenseSearch(groupCtx, collection, embedding, topK, filter)
			if err != nil {
				return fmt.Errorf("dense search on %s: %w", collection, err)
			}
			mu.Lock()
			dense[collection] = hits
			mu.Unlock()
			return nil
		})
		group.Go(func() error {
			candidates, err := r.index.LexicalCandidates(groupCtx, collection, terms, topK*lexicalOversample, filter)
			if err != nil {
				return fmt.Errorf("lexical search on %s: %w", collection, err)
			}
			ranked := vector.ScoreBM25(terms, candidates)
			if len(ranked) > topK {
				ranked = ranked[:topK]
			}
			mu.Lock()
			lexical[collection] = ranked
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, SearchSources{}, err
	}

	sources := SearchSources{
		VectorChunks:    len(dense[vector.CollectionChunks]),
		VectorSummaries: len(dense[vector.CollectionSummaries]),
		VectorQA:        len(dense[vector.CollectionQA]),
	}
	for _, collection := range vector.Collections {
		sources.KeywordBM25 += len(lexical[collection])
	}

	fused := r.fuse(dense, lexical)
	sources.AfterMerge = len(fused)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, sources, nil
}

// fuse applies RRF across the six ranked lists, deduping by chunk id
// with contribution summing.
func (r *Retriever) fuse(dense, lexical map[string][]vector.Hit) []Candidate {
	byID := make(map[string]*Candidate)

	accumulate := func(collection string, hits []vector.Hit) {
		source := sourceFor(collection)
		for rank, hit := range hits {
			contribution := 1.0 / float64(r.rrfK+rank+1)
			if existing, ok := byID[hit.ID]; ok {
				existing.Score += contribution
				continue
			}
			candidate := candidateFromHit(hit, source)
			candidate.Score = contribution
			byID[hit.ID] = &candidate
		}
	}
	for _, collection := range vector.Collections {
		accumulate(collection, dense[collection])
	}
	for _, collection := range vector.Collections {
		accumulate(collection, lexical[collection])
	}

	fused := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		fused = append(fused, *c)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if sourcePriority[fused[i].Source] != sourcePriority[fused[j].Source] {
			return sourcePriority[fused[i].Source] < sourcePriority[fused[j].Source]
		}
		if fused[i].DocID != fused[j].DocID {
			return fused[i].DocID < fused[j].DocID
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	return fused
}

func candidateFromHit(hit vector.Hit, source string) Candidate {
	c := Candidate{
		ChunkID:  hit.ID,
		Source:   source,
		Metadata: map[string]interface{}{},
	}
	if docID, ok := hit.Payload["doc_id"].(string); ok {
		c.DocID = docID
	}
	if chunkID, ok := hit.Payload["chunk_id"].(string); ok && chunkID != "" {
		c.ChunkID = chunkID
	}
	if content, ok := hit.Payload["content"].(string); ok {
		c.Content = content
	}
	if path, ok := hit.Payload["hierarchy_path"].([]interface{}); ok {
		for _, p := range path {
			if s, ok := p.(string); ok {
				c.HierarchyPath = append(c.HierarchyPath, s)
			}
		}
	}
	switch page := hit.Payload["page_number"].(type) {
	case int64:
		c.PageNumber = int(page)
	case float64:
		c.PageNumber = int(page)
	}
	if metadata, ok := hit.Payload["metadata"].(map[string]interface{}); ok {
		c.Metadata = metadata
	}
	return c
}
