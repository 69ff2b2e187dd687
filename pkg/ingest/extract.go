package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MIME types on the plain-text extraction path.
const (
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeJSON     = "application/json"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// TextProcessor extracts structure from plain text, markdown, and JSON
// documents without any external parser.
type TextProcessor struct{}

// NewTextProcessor returns the text-path extractor.
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

func (p *TextProcessor) Supports(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimeText, MimeMarkdown, MimeJSON:
		return true
	}
	return false
}

func (p *TextProcessor) Extract(_ context.Context, data []byte, mimeType string) (*ExtractResult, error) {
	text := decodeText(data)
	switch normalizeMime(mimeType) {
	case MimeMarkdown:
		return extractMarkdown(text), nil
	case MimeJSON:
		pretty, err := prettyJSON(data)
		if err != nil {
			// Invalid JSON is still ingestable as plain text.
			return extractPlain(text), nil
		}
		return extractPlain(pretty), nil
	default:
		return extractPlain(text), nil
	}
}

// normalizeMime strips parameters like "; charset=utf-8".
func normalizeMime(mimeType string) string {
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// decodeText interprets bytes as UTF-8, replacing invalid sequences.
func decodeText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

func prettyJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return buf.String(), nil
}

// extractPlain splits text into paragraph blocks on blank lines.
func extractPlain(text string) *ExtractResult {
	result := &ExtractResult{}
	position := 0
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		result.Blocks = append(result.Blocks, Block{
			Role:     RoleParagraph,
			Text:     paragraph,
			Position: position,
		})
		position++
	}
	return result
}

// extractMarkdown turns ATX headings into heading blocks with depth,
// everything else into paragraphs.
func extractMarkdown(text string) *ExtractResult {
	result := &ExtractResult{}
	position := 0

	flushParagraph := func(lines []string) {
		paragraph := strings.TrimSpace(strings.Join(lines, "\n"))
		if paragraph == "" {
			return
		}
		result.Blocks = append(result.Blocks, Block{
			Role:     RoleParagraph,
			Text:     paragraph,
			Position: position,
		})
		position++
	}

	var pending []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if depth, title, ok := markdownHeading(trimmed); ok {
			flushParagraph(pending)
			pending = nil
			result.Blocks = append(result.Blocks, Block{
				Role:     RoleHeading,
				Depth:    depth,
				Text:     title,
				Position: position,
			})
			position++
			continue
		}
		if trimmed == "" {
			flushParagraph(pending)
			pending = nil
			continue
		}
		pending = append(pending, trimmed)
	}
	flushParagraph(pending)
	return result
}

func markdownHeading(line string) (depth int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	for depth < len(line) && line[depth] == '#' {
		depth++
	}
	if depth > 6 {
		return 0, "", false
	}
	rest := strings.TrimSpace(line[depth:])
	if rest == "" {
		return 0, "", false
	}
	return depth, rest, true
}
