// Package lang tags text with its language mix using unicode script
// ranges (Hebrew, Arabic, Cyrillic, CJK, Latin). It is intentionally
// lightweight: per-word script counting is accurate enough for
// retrieval filtering without an external detection model.
package lang

import (
	"sort"
	"strings"
)

// Analysis describes the language makeup of a piece of text.
type Analysis struct {
	PrimaryLanguage string
	IsMultilingual  bool
	Languages       []string
	Distribution    map[string]float64
}

// Tagger analyzes text language.
type Tagger interface {
	Analyze(text string) Analysis
}

// secondaryThreshold is the minimum share of words a language needs to
// be reported alongside the primary one.
const secondaryThreshold = 0.1

type scriptTagger struct{}

// NewScriptTagger returns the script-range based Tagger.
func NewScriptTagger() Tagger {
	return scriptTagger{}
}

func (scriptTagger) Analyze(text string) Analysis {
	words := strings.Fields(text)
	counts := make(map[string]int)
	total := 0
	for _, word := range words {
		lang := wordLanguage(word)
		if lang == "" {
			continue
		}
		counts[lang]++
		total++
	}

	if total == 0 {
		return Analysis{
			PrimaryLanguage: "en",
			Languages:       []string{"en"},
			Distribution:    map[string]float64{"en": 1.0},
		}
	}

	distribution := make(map[string]float64, len(counts))
	primary := ""
	best := 0
	for lang, count := range counts {
		distribution[lang] = float64(count) / float64(total)
		if count > best || (count == best && lang < primary) {
			primary = lang
			best = count
		}
	}

	languages := make([]string, 0, len(counts))
	for lang, ratio := range distribution {
		if lang == primary || ratio >= secondaryThreshold {
			languages = append(languages, lang)
		}
	}
	sort.Strings(languages)

	return Analysis{
		PrimaryLanguage: primary,
		IsMultilingual:  len(languages) > 1,
		Languages:       languages,
		Distribution:    distribution,
	}
}

// wordLanguage classifies a word by its dominant script. Digits and
// punctuation-only words return "".
func wordLanguage(word string) string {
	counts := make(map[string]int, 2)
	for _, r := range word {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			counts["he"]++
		case (r >= 0x0600 && r <= 0x06FF) || (r >= 0x0750 && r <= 0x077F) || (r >= 0xFB50 && r <= 0xFDFF):
			counts["ar"]++
		case r >= 0x0400 && r <= 0x04FF:
			counts["ru"]++
		case (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF):
			counts["zh"]++
		case (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF):
			counts["ja"]++
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= 0x00C0 && r <= 0x024F):
			counts["en"]++
		}
	}
	best := ""
	for lang, count := range counts {
		if best == "" || count > counts[best] || (count == counts[best] && lang < best) {
			best = lang
		}
	}
	return best
}
