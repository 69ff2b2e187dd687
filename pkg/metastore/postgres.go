package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/treeline-ai/treeline/pkg/config"
)

const errorMessageLimit = 2000

const settingsCacheTTL = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	processing_time_seconds DOUBLE PRECISION,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	vector_count INTEGER NOT NULL DEFAULT 0,
	qa_pairs_count INTEGER NOT NULL DEFAULT 0,
	detected_languages TEXT[] NOT NULL DEFAULT '{}',
	primary_language TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_results (
	id UUID PRIMARY KEY,
	query_text TEXT NOT NULL,
	answer TEXT,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	citations JSONB,
	total_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	iteration_count INTEGER NOT NULL DEFAULT 0,
	debug_data JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type postgresStore struct {
	db *sqlx.DB

	mu          sync.Mutex
	cached      *Settings
	cacheExpiry time.Time
}

// NewPostgres connects to Postgres and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &postgresStore{db: db}, nil
}

func (s *postgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	var languages pq.StringArray
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, filename, file_size_bytes, mime_type, status,
		       uploaded_at, processing_started_at, processing_completed_at,
		       processing_time_seconds, chunk_count, vector_count,
		       qa_pairs_count, detected_languages, primary_language,
		       summary, error_message
		FROM documents WHERE id = $1`, id)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FileSizeBytes, &doc.MimeType,
		&doc.Status, &doc.UploadedAt, &doc.ProcessingStartedAt,
		&doc.ProcessingCompletedAt, &doc.ProcessingTimeSeconds,
		&doc.ChunkCount, &doc.VectorCount, &doc.QAPairsCount,
		&languages, &doc.PrimaryLanguage, &doc.Summary, &doc.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	doc.DetectedLanguages = languages
	return &doc, nil
}

func (s *postgresStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, processing_started_at = now(), error_message = ''
		WHERE id = $1`, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark document %s processing: %w", id, err)
	}
	return nil
}

func (s *postgresStore) MarkCompleted(ctx context.Context, id string, c Completion) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2,
		    processing_completed_at = now(),
		    processing_time_seconds = $3,
		    chunk_count = $4,
		    vector_count = $5,
		    qa_pairs_count = $6,
		    detected_languages = $7,
		    primary_language = $8,
		    summary = $9,
		    error_message = ''
		WHERE id = $1 AND status = $10`,
		id, StatusCompleted, c.ProcessingSeconds, c.ChunkCount, c.VectorCount,
		c.QAPairsCount, pq.StringArray(c.DetectedLanguages), c.PrimaryLanguage,
		c.Summary, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark document %s completed: %w", id, err)
	}
	return nil
}

func (s *postgresStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if len(errMsg) > errorMessageLimit {
		errMsg = errMsg[:errorMessageLimit]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, processing_completed_at = now(), error_message = $3
		WHERE id = $1`, id, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", id, err)
	}
	return nil
}

func (s *postgresStore) PutQueryResult(ctx context.Context, r QueryResultRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_results
			(id, query_text, answer, confidence_score, citations,
			 total_time_ms, iteration_count, debug_data, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			answer = EXCLUDED.answer,
			confidence_score = EXCLUDED.confidence_score,
			citations = EXCLUDED.citations,
			total_time_ms = EXCLUDED.total_time_ms,
			iteration_count = EXCLUDED.iteration_count,
			debug_data = EXCLUDED.debug_data,
			error_message = EXCLUDED.error_message`,
		r.ID, r.QueryText, r.Answer, r.ConfidenceScore, nullableJSON(r.Citations),
		r.TotalTimeMs, r.IterationCount, nullableJSON(r.DebugData), r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to persist query result %s: %w", r.ID, err)
	}
	return nil
}

func (s *postgresStore) Settings(ctx context.Context) (*Settings, error) {
	s.mu.Lock()
	if s.cached != nil && time.Now().Before(s.cacheExpiry) {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	rows, err := s.db.QueryxContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		stored[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}

	settings := mergeSettings(stored)
	s.mu.Lock()
	s.cached = settings
	s.cacheExpiry = time.Now().Add(settingsCacheTTL)
	s.mu.Unlock()
	return settings, nil
}

func (s *postgresStore) PutSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, data)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	return nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
