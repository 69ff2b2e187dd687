// Package ingest implements the document ingestion pipeline: structure
// extraction, tree building, hierarchical summarization, Q&A
// generation, semantic chunking, embedding, and multi-representation
// storage.
package ingest

import "context"

// Block roles produced by extractors.
const (
	RoleTitle     = "title"
	RoleHeading   = "heading"
	RoleParagraph = "paragraph"
)

// Block is one ordered unit of extracted text.
type Block struct {
	Role     string
	Depth    int // heading level, 0 for paragraphs
	Page     int // 1-based, 0 when unknown
	Text     string
	Position int // reading-order index across blocks, tables, images
}

// Table is an extracted table serialized as positional rows.
type Table struct {
	Page     int
	Rows     [][]string
	Position int
}

// ImageRegion is an image found in the document, described later by the
// vision stage.
type ImageRegion struct {
	Page     int
	Data     []byte
	MimeType string
	Position int
}

// ExtractResult is the full output of structure extraction.
type ExtractResult struct {
	Blocks []Block
	Tables []Table
	Images []ImageRegion
}

// DocumentExtractor converts raw document bytes into ordered structure.
type DocumentExtractor interface {
	// Extract parses data of the given MIME type.
	Extract(ctx context.Context, data []byte, mimeType string) (*ExtractResult, error)
	// Supports reports whether the extractor handles mimeType.
	Supports(mimeType string) bool
}

// SectionSummary is one MAP-phase result.
type SectionSummary struct {
	Title          string
	Summary        string
	OriginalLength int
}

// Summarization methods.
const (
	MethodSingle    = "single"
	MethodMapReduce = "map_reduce"
)

// DocumentSummaries is the full summarizer output.
type DocumentSummaries struct {
	DocumentSummary  string
	SectionSummaries []SectionSummary
	Method           string
	SectionsCount    int
}

// Q&A pair types.
var qaPairTypes = map[string]bool{
	"factual":    true,
	"overview":   true,
	"procedural": true,
	"comparison": true,
	"reasoning":  true,
}

// QAPair is one generated question/answer pair.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Type     string `json:"type"`
}

// Chunk variants, stored in Metadata["type"].
const (
	ChunkTypeText    = "text_chunk"
	ChunkTypeSummary = "summary"
	ChunkTypeQA      = "qa"
)

// Chunk is one retrievable unit: a body-text slice, a summary, or a
// Q&A pair. The variant lives in Metadata["type"] and decides which
// vector collection the chunk lands in.
type Chunk struct {
	ChunkID              string
	DocID                string
	Content              string
	HierarchyPath        []string
	PageNumber           int // 0 = not applicable
	Language             string
	IsMultilingual       bool
	Languages            []string
	LanguageDistribution map[string]float64
	TokenCount           int
	TokenCountMethod     string // exact or estimated
	Metadata             map[string]interface{}
}

// Payload converts the chunk into the vector record payload schema.
func (c *Chunk) Payload() map[string]interface{} {
	path := make([]interface{}, len(c.HierarchyPath))
	for i, p := range c.HierarchyPath {
		path[i] = p
	}
	languages := make([]interface{}, len(c.Languages))
	for i, l := range c.Languages {
		languages[i] = l
	}
	distribution := make(map[string]interface{}, len(c.LanguageDistribution))
	for lang, ratio := range c.LanguageDistribution {
		distribution[lang] = ratio
	}

	payload := map[string]interface{}{
		"doc_id":                c.DocID,
		"chunk_id":              c.ChunkID,
		"content":               c.Content,
		"hierarchy_path":        path,
		"language":              c.Language,
		"is_multilingual":       c.IsMultilingual,
		"languages":             languages,
		"language_distribution": distribution,
		"metadata":              c.Metadata,
	}
	if c.PageNumber > 0 {
		payload["page_number"] = c.PageNumber
	}
	return payload
}
