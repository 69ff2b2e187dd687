// Package llms provides the chat completion port used by the
// summarizer, Q&A generator, reranker, evaluator, and answer generator,
// together with an OpenAI-compatible HTTP adapter.
package llms

import "context"

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Chat produces completions from a language model.
type Chat interface {
	// Complete returns the assistant text for the given prompt pair.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// ModelName reports the configured model identifier.
	ModelName() string
}

// Vision describes images. Separate from Chat because image support is
// optional and the pipeline treats vision failures as non-fatal.
type Vision interface {
	// DescribeImage returns a textual description of the image bytes.
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}
