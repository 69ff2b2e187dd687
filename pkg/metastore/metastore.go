// Package metastore provides the relational metadata port: document
// rows, runtime settings, and persisted query results.
package metastore

import (
	"context"
	"encoding/json"
	"time"
)

// Document lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is one uploaded document's metadata row. The ingestion
// pipeline is the single writer of the status field.
type Document struct {
	ID                    string     `db:"id"`
	Filename              string     `db:"filename"`
	FileSizeBytes         int64      `db:"file_size_bytes"`
	MimeType              string     `db:"mime_type"`
	Status                string     `db:"status"`
	UploadedAt            time.Time  `db:"uploaded_at"`
	ProcessingStartedAt   *time.Time `db:"processing_started_at"`
	ProcessingCompletedAt *time.Time `db:"processing_completed_at"`
	ProcessingTimeSeconds *float64   `db:"processing_time_seconds"`
	ChunkCount            int        `db:"chunk_count"`
	VectorCount           int        `db:"vector_count"`
	QAPairsCount          int        `db:"qa_pairs_count"`
	DetectedLanguages     []string   `db:"-"`
	PrimaryLanguage       string     `db:"primary_language"`
	Summary               string     `db:"summary"`
	ErrorMessage          string     `db:"error_message"`
}

// Completion carries everything written when a document finishes
// processing successfully.
type Completion struct {
	ChunkCount        int
	VectorCount       int
	QAPairsCount      int
	DetectedLanguages []string
	PrimaryLanguage   string
	Summary           string
	ProcessingSeconds float64
}

// QueryResultRecord is the persisted outcome of one query job.
// Citations and DebugData are stored as JSON so the record shape stays
// stable for the operator UI.
type QueryResultRecord struct {
	ID              string
	QueryText       string
	Answer          *string
	ConfidenceScore float64
	Citations       json.RawMessage
	TotalTimeMs     float64
	IterationCount  int
	DebugData       json.RawMessage
	ErrorMessage    string
}

// Store is the metadata port.
type Store interface {
	GetDocument(ctx context.Context, id string) (*Document, error)

	// MarkProcessing moves a pending document to processing and stamps
	// processing_started_at.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted moves a processing document to completed and
	// writes counters, languages, and the document summary.
	MarkCompleted(ctx context.Context, id string, c Completion) error

	// MarkFailed moves a processing document to failed with a
	// truncated error message.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	PutQueryResult(ctx context.Context, r QueryResultRecord) error

	// Settings returns the current runtime settings, merged over
	// defaults. Implementations may serve cached values for a few
	// seconds.
	Settings(ctx context.Context) (*Settings, error)

	// PutSetting writes one settings key and invalidates any cache.
	PutSetting(ctx context.Context, key string, value any) error

	Close() error
}
