package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/treeline-ai/treeline/pkg/blob"
	"github.com/treeline-ai/treeline/pkg/embedders"
	"github.com/treeline-ai/treeline/pkg/httpclient"
	"github.com/treeline-ai/treeline/pkg/jobs"
	"github.com/treeline-ai/treeline/pkg/lang"
	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
	"github.com/treeline-ai/treeline/pkg/metrics"
	"github.com/treeline-ai/treeline/pkg/vector"
)

// Orchestrator drives one document through the eight pipeline stages.
// It is the single writer of the document row and of the document's
// vector records.
type Orchestrator struct {
	blobs      blob.Store
	extractors []DocumentExtractor
	vision     llms.Vision
	chat       llms.Chat
	embedder   embedders.Embedder
	index      vector.Index
	meta       metastore.Store
	tagger     lang.Tagger
	counter    *TokenCounter

	visionEnabled    bool
	extractorTimeout time.Duration
}

// OrchestratorOptions wires the orchestrator's collaborators.
type OrchestratorOptions struct {
	Blobs            blob.Store
	Extractors       []DocumentExtractor
	Vision           llms.Vision
	Chat             llms.Chat
	Embedder         embedders.Embedder
	Index            vector.Index
	Meta             metastore.Store
	Tagger           lang.Tagger
	VisionEnabled    bool
	ExtractorTimeout time.Duration
}

// NewOrchestrator builds the pipeline driver.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.ExtractorTimeout <= 0 {
		opts.ExtractorTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		blobs:            opts.Blobs,
		extractors:       opts.Extractors,
		vision:           opts.Vision,
		chat:             opts.Chat,
		embedder:         opts.Embedder,
		index:            opts.Index,
		meta:             opts.Meta,
		tagger:           opts.Tagger,
		counter:          NewTokenCounter(),
		visionEnabled:    opts.VisionEnabled,
		extractorTimeout: opts.ExtractorTimeout,
	}
}

// Handle processes one ingestion job. On failure the document is
// marked failed and the error is returned so the bus handler can log
// it; the message is acknowledged either way.
func (o *Orchestrator) Handle(ctx context.Context, job jobs.IngestJob) error {
	start := time.Now()
	logger := slog.With("document_id", job.DocumentID, "correlation_id", job.CorrelationID)
	logger.Info("Starting document ingestion", "blob_key", job.BlobKey)

	doc, err := o.meta.GetDocument(ctx, job.DocumentID)
	if err != nil {
		metrics.IngestJobs.WithLabelValues("missing").Inc()
		return fmt.Errorf("cannot load document for job: %w", err)
	}

	if err := o.meta.MarkProcessing(ctx, job.DocumentID); err != nil {
		return fmt.Errorf("cannot mark document processing: %w", err)
	}

	completion, err := o.process(ctx, job, doc, logger)
	if err != nil {
		logger.Error("Ingestion failed", "error", err)
		if markErr := o.meta.MarkFailed(ctx, job.DocumentID, err.Error()); markErr != nil {
			logger.Error("Failed to record failure", "error", markErr)
		}
		metrics.IngestJobs.WithLabelValues("failed").Inc()
		return err
	}

	completion.ProcessingSeconds = time.Since(start).Seconds()
	if err := o.meta.MarkCompleted(ctx, job.DocumentID, *completion); err != nil {
		metrics.IngestJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("cannot mark document completed: %w", err)
	}

	metrics.IngestJobs.WithLabelValues("completed").Inc()
	metrics.IngestDuration.Observe(completion.ProcessingSeconds)
	logger.Info("Document ingestion completed",
		"chunks", completion.ChunkCount,
		"qa_pairs", completion.QAPairsCount,
		"seconds", completion.ProcessingSeconds)
	return nil
}

func (o *Orchestrator) process(ctx context.Context, job jobs.IngestJob, doc *metastore.Document, logger *slog.Logger) (*metastore.Completion, error) {
	settings, err := o.meta.Settings(ctx)
	if err != nil {
		return nil, stageError(StageFetch, "", job.DocumentID, err)
	}

	// Stage 1: fetch.
	data, err := o.blobs.Get(ctx, job.BlobKey)
	if err != nil {
		return nil, stageError(StageFetch, "", job.DocumentID, err)
	}

	// Stage 2: extract.
	extractor := o.extractorFor(doc.MimeType)
	if extractor == nil {
		return nil, stageError(StageExtract, ReasonUnsupportedMime, job.DocumentID,
			fmt.Errorf("no extractor for MIME type %q", doc.MimeType))
	}
	extractCtx, cancel := context.WithTimeout(ctx, o.extractorTimeout)
	result, err := extractor.Extract(extractCtx, data, doc.MimeType)
	cancel()
	if err != nil {
		reason := ""
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonExtractTimeout
		}
		return nil, stageError(StageExtract, reason, job.DocumentID, err)
	}

	// Stage 3: vision. Failures degrade to zero descriptions.
	descriptions := o.describeImages(ctx, result, logger)

	// Stage 4: tree.
	tree := BuildTree(result, descriptions)
	title := tree.Title()
	if title == "" {
		title = doc.Filename
	}

	// Stage 5: summarize.
	summarizer := NewSummarizer(o.chat, settings)
	summaries, err := summarizer.Summarize(ctx, tree, title)
	if err != nil {
		return nil, stageError(StageSummarize, "", job.DocumentID, err)
	}

	// Stage 6: Q&A.
	pairs, err := NewQAGenerator(o.chat, settings).Generate(ctx, tree, title)
	if err != nil {
		return nil, stageError(StageQA, "", job.DocumentID, err)
	}

	// Stage 7: chunk, then materialize summary and qa chunks.
	chunker := NewChunker(ChunkerConfig{
		ChunkSize:    settings.ChunkSize,
		ChunkOverlap: settings.ChunkOverlap,
	}, o.counter, o.tagger, o.chat)
	textChunks, err := chunker.Chunk(ctx, tree, job.DocumentID)
	if err != nil {
		return nil, stageError(StageChunk, "", job.DocumentID, err)
	}
	chunks := append(textChunks, o.summaryChunks(job.DocumentID, summaries)...)
	chunks = append(chunks, o.qaChunks(job.DocumentID, pairs)...)

	// Stage 8: embed and store.
	if err := o.store(ctx, job.DocumentID, chunks); err != nil {
		return nil, err
	}

	primary, detected := languageProfile(chunks)
	return &metastore.Completion{
		ChunkCount:        len(chunks),
		VectorCount:       len(chunks),
		QAPairsCount:      len(pairs),
		DetectedLanguages: detected,
		PrimaryLanguage:   primary,
		Summary:           summaries.DocumentSummary,
	}, nil
}

func (o *Orchestrator) extractorFor(mimeType string) DocumentExtractor {
	for _, e := range o.extractors {
		if e.Supports(mimeType) {
			return e
		}
	}
	return nil
}

func (o *Orchestrator) describeImages(ctx context.Context, result *ExtractResult, logger *slog.Logger) map[int]string {
	if !o.visionEnabled || o.vision == nil || len(result.Images) == 0 {
		return nil
	}
	descriptions := make(map[int]string, len(result.Images))
	for _, img := range result.Images {
		caption, err := o.vision.DescribeImage(ctx, img.Data, img.MimeType)
		if err != nil {
			logger.Warn("Image description failed, skipping image",
				"page", img.Page, "error", err)
			continue
		}
		descriptions[img.Position] = caption
	}
	return descriptions
}

// summaryChunks materializes one chunk for the document summary and
// one per section summary.
func (o *Orchestrator) summaryChunks(docID string, summaries *DocumentSummaries) []Chunk {
	var chunks []Chunk
	if summaries.DocumentSummary != "" {
		chunks = append(chunks, o.derivedChunk(docID, summaries.DocumentSummary, nil, map[string]interface{}{
			"type":  ChunkTypeSummary,
			"level": "document",
		}))
	}
	for _, s := range summaries.SectionSummaries {
		if s.Summary == "" {
			continue
		}
		chunks = append(chunks, o.derivedChunk(docID, s.Summary, []string{s.Title}, map[string]interface{}{
			"type":  ChunkTypeSummary,
			"level": "section",
			"title": s.Title,
		}))
	}
	return chunks
}

func (o *Orchestrator) qaChunks(docID string, pairs []QAPair) []Chunk {
	chunks := make([]Chunk, 0, len(pairs))
	for _, pair := range pairs {
		content := fmt.Sprintf("Q: %s\nA: %s", pair.Question, pair.Answer)
		chunks = append(chunks, o.derivedChunk(docID, content, nil, map[string]interface{}{
			"type":          ChunkTypeQA,
			"question":      pair.Question,
			"answer":        pair.Answer,
			"question_type": pair.Type,
		}))
	}
	return chunks
}

func (o *Orchestrator) derivedChunk(docID, content string, path []string, metadata map[string]interface{}) Chunk {
	chunk := Chunk{
		ChunkID:          uuid.NewString(),
		DocID:            docID,
		Content:          content,
		HierarchyPath:    path,
		TokenCount:       o.counter.Count(content),
		TokenCountMethod: o.counter.Method(),
		Metadata:         metadata,
	}
	if o.tagger != nil {
		analysis := o.tagger.Analyze(content)
		chunk.Language = analysis.PrimaryLanguage
		chunk.IsMultilingual = analysis.IsMultilingual
		chunk.Languages = analysis.Languages
		chunk.LanguageDistribution = analysis.Distribution
	}
	return chunk
}

// store embeds every chunk and replaces the document's vector records.
// Prior records are deleted before the first insert so readers observe
// either the old set, a transient empty set, or the new set, never a
// mix.
func (o *Orchestrator) store(ctx context.Context, docID string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		reason := ""
		if httpclient.IsRateLimited(err) {
			reason = ReasonEmbedRateLimited
		}
		return stageError(StageStore, reason, docID, err)
	}
	if len(vectors) != len(chunks) {
		return stageError(StageStore, ReasonStorageError, docID,
			fmt.Errorf("embedded %d of %d chunks", len(vectors), len(chunks)))
	}

	grouped := make(map[string][]vector.Point)
	for i, c := range chunks {
		grouped[collectionFor(&c)] = append(grouped[collectionFor(&c)], vector.Point{
			ID:      c.ChunkID,
			Vector:  vectors[i],
			Payload: c.Payload(),
		})
	}

	for _, collection := range vector.Collections {
		if err := o.index.DeleteByDoc(ctx, collection, docID); err != nil {
			return stageError(StageStore, ReasonStorageError, docID, err)
		}
	}
	for _, collection := range vector.Collections {
		if err := o.index.Upsert(ctx, collection, grouped[collection]); err != nil {
			return stageError(StageStore, ReasonStorageError, docID, err)
		}
	}
	return nil
}

func collectionFor(c *Chunk) string {
	switch c.Metadata["type"] {
	case ChunkTypeSummary:
		return vector.CollectionSummaries
	case ChunkTypeQA:
		return vector.CollectionQA
	}
	return vector.CollectionChunks
}

// languageProfile derives the document's primary language and the set
// of detected languages from its chunks.
func languageProfile(chunks []Chunk) (string, []string) {
	counts := make(map[string]int)
	seen := make(map[string]bool)
	var detected []string
	for _, c := range chunks {
		if c.Language != "" {
			counts[c.Language]++
		}
		for _, l := range c.Languages {
			if !seen[l] {
				seen[l] = true
				detected = append(detected, l)
			}
		}
	}
	primary := ""
	best := 0
	for language, count := range counts {
		if count > best || (count == best && language < primary) {
			primary = language
			best = count
		}
	}
	return primary, detected
}
