// Package embedders provides the embedding port and an
// OpenAI-compatible adapter.
package embedders

import "context"

// Embedder converts text into dense vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the output vector length.
	Dimension() int
}
