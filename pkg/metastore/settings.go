package metastore

import (
	"encoding/json"
	"log/slog"
)

// Settings are the runtime-tunable knobs stored in the settings table.
// Missing keys fall back to defaults; malformed values are logged and
// ignored.
type Settings struct {
	ChunkSize          int `json:"chunk_size"`
	ChunkOverlap       int `json:"chunk_overlap"`
	DefaultTopK        int `json:"default_top_k"`
	DefaultRerankTop   int `json:"default_rerank_top"`
	MaxAgentIterations int `json:"max_agent_iterations"`
	RRFK               int `json:"rrf_k"`

	SummarizerShortDocThreshold int `json:"summarizer_short_doc_threshold"`
	SummarizerMaxSectionSize    int `json:"summarizer_max_section_size"`
	SummarizerMinSectionSize    int `json:"summarizer_min_section_size"`
	SummarizerMaxConcurrent     int `json:"summarizer_max_concurrent"`

	QANumPairs    int    `json:"qa_num_pairs"`
	PromptSummary string `json:"prompt_summary"`
	PromptQA      string `json:"prompt_qa"`
}

// DefaultSettings returns the builtin defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ChunkSize:                   512,
		ChunkOverlap:                50,
		DefaultTopK:                 10,
		DefaultRerankTop:            5,
		MaxAgentIterations:          3,
		RRFK:                        60,
		SummarizerShortDocThreshold: 12000,
		SummarizerMaxSectionSize:    15000,
		SummarizerMinSectionSize:    500,
		SummarizerMaxConcurrent:     5,
		QANumPairs:                  5,
	}
}

// mergeSettings overlays stored key/value rows onto the defaults. Each
// value is a JSON document; unknown keys and undecodable values are
// skipped.
func mergeSettings(rows map[string]json.RawMessage) *Settings {
	s := DefaultSettings()
	if len(rows) == 0 {
		return s
	}

	// Round-trip through a map so individual bad values cannot poison
	// the whole settings load.
	merged := make(map[string]json.RawMessage)
	base, _ := json.Marshal(s)
	_ = json.Unmarshal(base, &merged)
	for key, value := range rows {
		if !json.Valid(value) {
			slog.Warn("Ignoring invalid settings value", "key", key)
			continue
		}
		merged[key] = value
	}

	out := DefaultSettings()
	combined, _ := json.Marshal(merged)
	if err := json.Unmarshal(combined, out); err != nil {
		slog.Warn("Failed to merge settings, using defaults", "error", err)
		return DefaultSettings()
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = 512
	}
	if out.ChunkOverlap < 0 || out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = 50
	}
	if out.MaxAgentIterations <= 0 {
		out.MaxAgentIterations = 3
	}
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	return out
}
