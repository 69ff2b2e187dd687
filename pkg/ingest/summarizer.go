package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/treeline-ai/treeline/pkg/llms"
	"github.com/treeline-ai/treeline/pkg/metastore"
)

const (
	sectionSummaryMaxTokens = 400
	reduceSummaryMaxTokens  = 1000
	summaryTemperature      = 0.3
)

// Summarizer produces document and section summaries. Short documents
// get one completion; longer ones run hierarchical map-reduce with
// bounded concurrency.
type Summarizer struct {
	chat llms.Chat

	shortDocThreshold int
	minSectionSize    int
	maxSectionSize    int
	maxConcurrent     int
	promptOverride    string
}

// NewSummarizer builds a summarizer from runtime settings.
func NewSummarizer(chat llms.Chat, settings *metastore.Settings) *Summarizer {
	return &Summarizer{
		chat:              chat,
		shortDocThreshold: settings.SummarizerShortDocThreshold,
		minSectionSize:    settings.SummarizerMinSectionSize,
		maxSectionSize:    settings.SummarizerMaxSectionSize,
		maxConcurrent:     settings.SummarizerMaxConcurrent,
		promptOverride:    settings.PromptSummary,
	}
}

// summarySection is one MAP-phase work item.
type summarySection struct {
	title   string
	content string
}

// Summarize drives method selection and returns the combined result.
// Section summaries come back in input order regardless of which
// completion finishes first.
func (s *Summarizer) Summarize(ctx context.Context, tree *Tree, docTitle string) (*DocumentSummaries, error) {
	text := tree.FullText()
	if len(text) <= s.shortDocThreshold {
		summary, err := s.summarizeSingle(ctx, docTitle, text)
		if err != nil {
			return nil, err
		}
		return &DocumentSummaries{
			DocumentSummary:  summary,
			SectionSummaries: []SectionSummary{},
			Method:           MethodSingle,
		}, nil
	}

	sections := s.splitSections(tree, text)
	slog.Debug("Map-reduce summarization", "title", docTitle, "sections", len(sections))

	summaries := make([]SectionSummary, len(sections))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxConcurrent)
	for i, section := range sections {
		group.Go(func() error {
			summary, err := s.summarizeSection(groupCtx, section)
			if err != nil {
				return fmt.Errorf("section %q: %w", section.title, err)
			}
			summaries[i] = SectionSummary{
				Title:          section.title,
				Summary:        summary,
				OriginalLength: len(section.content),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("map phase failed: %w", err)
	}

	documentSummary, err := s.reduce(ctx, docTitle, summaries)
	if err != nil {
		return nil, fmt.Errorf("reduce phase failed: %w", err)
	}

	return &DocumentSummaries{
		DocumentSummary:  documentSummary,
		SectionSummaries: summaries,
		Method:           MethodMapReduce,
		SectionsCount:    len(summaries),
	}, nil
}

func (s *Summarizer) summarizeSingle(ctx context.Context, title, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	template := s.promptOverride
	if template == "" {
		template = defaultSummaryPrompt
	}
	user := RenderPrompt(template, map[string]string{
		"document_title":   title,
		"document_type":    "document",
		"document_content": text,
	})
	return s.chat.Complete(ctx, llms.CompletionRequest{
		System:      defaultSummarySystem,
		User:        user,
		MaxTokens:   reduceSummaryMaxTokens,
		Temperature: summaryTemperature,
	})
}

func (s *Summarizer) summarizeSection(ctx context.Context, section summarySection) (string, error) {
	user := RenderPrompt(sectionSummaryPrompt, map[string]string{
		"document_title":   section.title,
		"document_content": section.content,
	})
	return s.chat.Complete(ctx, llms.CompletionRequest{
		System:      defaultSummarySystem,
		User:        user,
		MaxTokens:   sectionSummaryMaxTokens,
		Temperature: summaryTemperature,
	})
}

func (s *Summarizer) reduce(ctx context.Context, title string, summaries []SectionSummary) (string, error) {
	user := RenderPrompt(reduceSummaryPrompt, map[string]string{
		"document_title":   title,
		"document_content": sectionList(summaries),
	})
	return s.chat.Complete(ctx, llms.CompletionRequest{
		System:      defaultSummarySystem,
		User:        user,
		MaxTokens:   reduceSummaryMaxTokens,
		Temperature: summaryTemperature,
	})
}

// splitSections produces the MAP work list. Structured documents split
// on their top-level sections; oversized sections split further on
// paragraph boundaries; unstructured ones fall back to size-based
// accumulation.
func (s *Summarizer) splitSections(tree *Tree, fullText string) []summarySection {
	var out []summarySection

	for _, idx := range tree.Sections() {
		title := tree.Nodes[idx].Title
		content := tree.SectionText(idx)
		if len(content) < s.minSectionSize {
			continue
		}
		if len(content) <= s.maxSectionSize {
			out = append(out, summarySection{title: title, content: content})
			continue
		}
		for part, piece := range splitOnParagraphs(content, s.maxSectionSize) {
			out = append(out, summarySection{
				title:   fmt.Sprintf("%s (Part %d)", title, part+1),
				content: piece,
			})
		}
	}

	if len(out) > 0 {
		return out
	}

	// No usable structure: accumulate paragraphs into fixed-size
	// pseudo-sections.
	for i, piece := range splitOnParagraphs(fullText, s.maxSectionSize) {
		out = append(out, summarySection{
			title:   fmt.Sprintf("Section %d", i+1),
			content: piece,
		})
	}
	return out
}

// splitOnParagraphs packs blank-line separated paragraphs into pieces
// of at most maxSize characters. A single paragraph larger than
// maxSize becomes its own piece.
func splitOnParagraphs(text string, maxSize int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var pieces []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > maxSize {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
