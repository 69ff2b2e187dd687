package ingest

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Token counting methods.
const (
	TokenMethodExact     = "exact"
	TokenMethodEstimated = "estimated"
)

// TokenCounter tokenizes chunk text. When the cl100k_base encoding can
// be constructed it counts exactly; otherwise it falls back to a
// whitespace approximation (roughly 4 chars per token on English
// prose).
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	method   string
}

var estimatedTokenPattern = regexp.MustCompile(`\S+\s*`)

// NewTokenCounter builds a counter, preferring the exact encoding.
func NewTokenCounter() *TokenCounter {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{method: TokenMethodEstimated}
	}
	return &TokenCounter{encoding: encoding, method: TokenMethodExact}
}

// Method reports "exact" or "estimated".
func (c *TokenCounter) Method() string {
	return c.method
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return len(estimatedTokenPattern.FindAllString(text, -1))
}

// Tokenize splits text into token strings whose concatenation
// reconstructs text byte-for-byte, so chunk overlap can be taken as a
// token-slice suffix/prefix.
func (c *TokenCounter) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	if c.encoding != nil {
		ids := c.encoding.Encode(text, nil, nil)
		tokens := make([]string, len(ids))
		for i, id := range ids {
			tokens[i] = c.encoding.Decode([]int{id})
		}
		return tokens
	}
	return estimatedTokenPattern.FindAllString(text, -1)
}

// endsSentence reports whether a token closes a sentence.
func endsSentence(token string) bool {
	trimmed := strings.TrimRight(token, " \t")
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?") ||
		strings.HasSuffix(trimmed, "\n")
}
