package ingest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// NativeExtractor parses PDF and DOCX documents in-process, without an
// external document intelligence service. Page numbers are preserved
// for PDFs; DOCX content collapses to a single page.
type NativeExtractor struct{}

// NewNativeExtractor returns the PDF/DOCX extractor.
func NewNativeExtractor() *NativeExtractor {
	return &NativeExtractor{}
}

func (e *NativeExtractor) Supports(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimePDF, MimeDOCX:
		return true
	}
	return false
}

func (e *NativeExtractor) Extract(_ context.Context, data []byte, mimeType string) (*ExtractResult, error) {
	switch normalizeMime(mimeType) {
	case MimePDF:
		return e.extractPDF(data)
	case MimeDOCX:
		return e.extractDOCX(data)
	}
	return nil, fmt.Errorf("native extractor does not support %s", mimeType)
}

func (e *NativeExtractor) extractPDF(data []byte) (*ExtractResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	result := &ExtractResult{}
	position := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, paragraph := range strings.Split(text, "\n\n") {
			paragraph = strings.TrimSpace(paragraph)
			if paragraph == "" {
				continue
			}
			block := Block{Role: RoleParagraph, Page: pageNum, Text: paragraph, Position: position}
			if depth, ok := looksLikeHeading(paragraph); ok {
				block.Role = RoleHeading
				block.Depth = depth
			}
			result.Blocks = append(result.Blocks, block)
			position++
		}
	}
	return result, nil
}

func (e *NativeExtractor) extractDOCX(data []byte) (*ExtractResult, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOCX: %w", err)
	}
	defer doc.Close()

	content := stripXMLTags(doc.Editable().GetContent())
	result := &ExtractResult{}
	position := 0
	for _, paragraph := range strings.Split(content, "\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		block := Block{Role: RoleParagraph, Text: paragraph, Position: position}
		if depth, ok := looksLikeHeading(paragraph); ok {
			block.Role = RoleHeading
			block.Depth = depth
		}
		result.Blocks = append(result.Blocks, block)
		position++
	}
	return result, nil
}

var xmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripXMLTags(content string) string {
	// Paragraph closings become line breaks so structure survives tag
	// removal.
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	return xmlTagPattern.ReplaceAllString(content, "")
}

// looksLikeHeading applies a cheap heuristic for extractors that do not
// report styles: a short single line without terminal punctuation.
func looksLikeHeading(text string) (int, bool) {
	if strings.ContainsRune(text, '\n') || len(text) > 80 {
		return 0, false
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, ":") ||
		strings.HasSuffix(text, ",") || strings.HasSuffix(text, ";") {
		return 0, false
	}
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 10 {
		return 0, false
	}
	return 1, true
}
