package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
	"github.com/treeline-ai/treeline/pkg/vector"
)

// scriptedChat routes completions by system prompt so one fake can
// play reranker, evaluator, and generator in the same test.
type scriptedChat struct {
	mu    sync.Mutex
	calls []llms.CompletionRequest

	respond func(req llms.CompletionRequest, call int) (string, error)
}

func (c *scriptedChat) ModelName() string { return "scripted" }

func (c *scriptedChat) Complete(ctx context.Context, req llms.CompletionRequest) (string, error) {
	c.mu.Lock()
	call := len(c.calls)
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return c.respond(req, call)
}

// denseCall records one DenseSearch invocation for loop-state
// assertions.
type denseCall struct {
	collection string
	limit      int
	filter     *vector.Filter
}

// scriptedIndex serves canned hits per collection.
type scriptedIndex struct {
	mu      sync.Mutex
	dense   map[string][]vector.Hit
	lexical map[string][]vector.Hit
	calls   []denseCall
}

func (s *scriptedIndex) EnsureCollections(ctx context.Context, dimension int) error { return nil }

func (s *scriptedIndex) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	return nil
}

func (s *scriptedIndex) DeleteByDoc(ctx context.Context, collection string, docID string) error {
	return nil
}

func (s *scriptedIndex) DenseSearch(ctx context.Context, collection string, vec []float32, limit int, filter *vector.Filter) ([]vector.Hit, error) {
	s.mu.Lock()
	s.calls = append(s.calls, denseCall{collection: collection, limit: limit, filter: filter})
	s.mu.Unlock()
	hits := s.dense[collection]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *scriptedIndex) LexicalCandidates(ctx context.Context, collection string, terms []string, limit int, filter *vector.Filter) ([]vector.Hit, error) {
	return s.lexical[collection], nil
}

func (s *scriptedIndex) Close() error { return nil }

type fixedEmbedder struct {
	err error
}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2}
	}
	return vectors, nil
}

func (f *fixedEmbedder) Dimension() int { return 2 }

// memMeta is an in-memory metastore for query-loop tests.
type memMeta struct {
	mu       sync.Mutex
	docs     map[string]*metastore.Document
	results  []metastore.QueryResultRecord
	settings *metastore.Settings
}

func newMemMeta() *memMeta {
	return &memMeta{
		docs:     make(map[string]*metastore.Document),
		settings: metastore.DefaultSettings(),
	}
}

func (m *memMeta) GetDocument(ctx context.Context, id string) (*metastore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	copied := *doc
	return &copied, nil
}

func (m *memMeta) MarkProcessing(ctx context.Context, id string) error { return nil }

func (m *memMeta) MarkCompleted(ctx context.Context, id string, c metastore.Completion) error {
	return nil
}

func (m *memMeta) MarkFailed(ctx context.Context, id string, errMsg string) error { return nil }

func (m *memMeta) PutQueryResult(ctx context.Context, r metastore.QueryResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *memMeta) Settings(ctx context.Context) (*metastore.Settings, error) {
	return m.settings, nil
}

func (m *memMeta) PutSetting(ctx context.Context, key string, value any) error { return nil }

func (m *memMeta) Close() error { return nil }

func chunkHit(id, docID, content string) vector.Hit {
	return vector.Hit{
		ID: id,
		Payload: map[string]interface{}{
			"doc_id":   docID,
			"chunk_id": id,
			"content":  content,
		},
	}
}
