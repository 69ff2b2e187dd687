package ingest

import "fmt"

// Failure reasons recorded on the document row.
const (
	ReasonExtractTimeout   = "extract_timeout"
	ReasonEmbedRateLimited = "embed_rate_limited"
	ReasonStorageError     = "storage_error"
	ReasonUnsupportedMime  = "unsupported_mime"
)

// Pipeline stage names, in execution order.
const (
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageVision    = "vision"
	StageTree      = "tree"
	StageSummarize = "summarize"
	StageQA        = "qa"
	StageChunk     = "chunk"
	StageStore     = "store"
)

// PipelineError is a stage failure carrying enough context for the
// document's error_message and for logs.
type PipelineError struct {
	Stage      string
	Reason     string
	DocumentID string
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stage %s failed (%s) for document %s: %v", e.Stage, e.Reason, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("stage %s failed for document %s: %v", e.Stage, e.DocumentID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func stageError(stage, reason, docID string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Reason: reason, DocumentID: docID, Err: err}
}
