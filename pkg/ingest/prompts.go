package ingest

import (
	"fmt"
	"strings"
)

// Builtin prompt templates. Operators can override the document-level
// summary and Q&A templates through the prompt_summary / prompt_qa
// settings keys; the rest are fixed.
const (
	defaultSummarySystem = "You are a document analyst. Write faithful, information-dense summaries. " +
		"Do not invent facts that are not present in the document."

	defaultSummaryPrompt = `Summarize the following document titled "{document_title}" ({document_type}).
Cover the main topics, key facts, and conclusions in a few paragraphs.

Document content:
{document_content}`

	sectionSummaryPrompt = `Summarize the following section titled "{document_title}" from a larger document.
Keep every concrete fact, number, and name. Write 2-4 sentences.

Section content:
{document_content}`

	reduceSummaryPrompt = `You are given summaries of the sections of a document titled "{document_title}", in order.
Combine them into one coherent summary of the whole document. Preserve the document's structure and all key facts.

Section summaries:
{document_content}`

	defaultQASystem = "You generate question-answer pairs for a retrieval corpus. " +
		"Answer only from the provided document. Respond with JSON only."

	defaultQAPrompt = `Generate {num_questions} diverse question-answer pairs about the document titled "{document_title}".
Mix question types: factual, overview, procedural, comparison, reasoning.
Respond with a JSON object of the form:
{"qa_pairs": [{"question": "...", "answer": "...", "type": "factual"}]}

Document content:
{document_content}`

	parentSummaryPrompt = `Write a one or two sentence overview of the following section titled "{document_title}".

Section content:
{document_content}`
)

// RenderPrompt substitutes {placeholder} references from values.
// Unknown placeholders stay literal so operator-supplied templates
// cannot break rendering.
func RenderPrompt(template string, values map[string]string) string {
	out := template
	for key, value := range values {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// sectionList renders ordered (title, summary) tuples for the REDUCE
// prompt.
func sectionList(summaries []SectionSummary) string {
	var b strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, s.Title, s.Summary)
	}
	return strings.TrimSpace(b.String())
}
