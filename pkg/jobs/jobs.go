// Package jobs provides the message bus port that delivers ingestion
// and query jobs, with a RabbitMQ adapter.
package jobs

import (
	"context"
	"time"
)

// IngestJob asks a worker to process one uploaded document. Delivery is
// at-least-once, so handlers must be idempotent on DocumentID.
type IngestJob struct {
	DocumentID    string    `json:"document_id"`
	BlobKey       string    `json:"blob_key"`
	CorrelationID string    `json:"correlation_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// QueryJob asks a worker to answer one question.
type QueryJob struct {
	QueryID        string   `json:"query_id"`
	QueryText      string   `json:"query_text"`
	DebugMode      bool     `json:"debug_mode"`
	DocumentFilter []string `json:"document_filter"`
	CorrelationID  string   `json:"correlation_id"`
}

// IngestHandler processes one ingestion job. A returned error marks the
// job failed in the stores; the message is still acknowledged.
type IngestHandler func(ctx context.Context, job IngestJob) error

// QueryHandler processes one query job under the same ack contract.
type QueryHandler func(ctx context.Context, job QueryJob) error

// Bus consumes durable job queues.
type Bus interface {
	// ConsumeIngest blocks delivering ingestion jobs to handler until
	// ctx is cancelled or the connection drops.
	ConsumeIngest(ctx context.Context, handler IngestHandler) error

	// ConsumeQuery blocks delivering query jobs to handler.
	ConsumeQuery(ctx context.Context, handler QueryHandler) error

	// PublishIngest enqueues an ingestion job.
	PublishIngest(ctx context.Context, job IngestJob) error

	// PublishQuery enqueues a query job.
	PublishQuery(ctx context.Context, job QueryJob) error

	Close() error
}
