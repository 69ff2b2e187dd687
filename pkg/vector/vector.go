// Package vector provides the vector index port over the three search
// collections, a Qdrant adapter, and the BM25 scorer used for lexical
// retrieval.
package vector

import "context"

// Collection names. Chunks, summaries, and Q&A pairs live in separate
// collections so each retrieval source can be searched and sized
// independently.
const (
	CollectionChunks    = "documents_chunks"
	CollectionSummaries = "documents_summaries"
	CollectionQA        = "documents_qa"
)

// Collections lists every search collection in source-priority order.
var Collections = []string{CollectionChunks, CollectionSummaries, CollectionQA}

// Point is a single vector with its payload, keyed by a UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Hit is one search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Filter restricts a search to a subset of documents. A nil or empty
// filter matches everything.
type Filter struct {
	DocIDs []string
}

// Index stores and searches document vectors.
type Index interface {
	// EnsureCollections creates missing collections and payload
	// indexes for the configured vector dimension.
	EnsureCollections(ctx context.Context, dimension int) error

	// Upsert writes points into a collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteByDoc removes every point belonging to a document.
	DeleteByDoc(ctx context.Context, collection string, docID string) error

	// DenseSearch runs cosine similarity search.
	DenseSearch(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Hit, error)

	// LexicalCandidates returns points whose content matches any of
	// the query terms, for client-side BM25 scoring. Scores on the
	// returned hits are zero.
	LexicalCandidates(ctx context.Context, collection string, terms []string, limit int, filter *Filter) ([]Hit, error)

	Close() error
}
