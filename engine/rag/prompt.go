package rag

import (
	"strings"

	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
)

const basePrompt = `You are PartsIQ, an assistant for equipment parts, models, and service manuals.
Answer the user's question using ONLY the facts in the provided context.

## Rules:
1. The context is your only factual source. You MUST NOT introduce any fact, step, value, or identifier that is not literally present in it.
2. You MAY reorganize the material: add headings, bullet or numbered lists, and group related facts for readability.
3. If information the user asks for is missing from the context, state that it is unavailable. Never guess or infer.
4. Only mention a PDF URL if you reference content from that manual.
5. Be concise but thorough. Use markdown formatting.`

var pdfDetailMarkers = []string{
	"specification", "specifications", "spec",
	"install", "installation", "installing",
	"troubleshoot", "troubleshooting",
	"maintenance", "repair",
}

// isPDFDetailQuery reports whether the query uses specification,
// installation, or troubleshooting phrasing that should be answered from
// manual excerpts organized by page.
func isPDFDetailQuery(query string) bool {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		for _, m := range pdfDetailMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}

// SystemPrompt returns the grounding contract with intent-gated scope rules
// appended for this query.
func SystemPrompt(query string, intent partnlp.Intent) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Scope for this question:\n")

	switch intent {
	case partnlp.IntentPart:
		b.WriteString("- Present only part information and manual excerpts. Do not present model information.\n")
	case partnlp.IntentModel:
		b.WriteString("- Present only model information. Do not present part details or manual excerpts.\n")
	default:
		b.WriteString("- Present whatever sections of the context best answer the question.\n")
	}

	if isPDFDetailQuery(query) {
		b.WriteString("- Organize the relevant manual excerpt content under page-numbered headings " +
			"(for example \"Page 12\"), rather than a generic numbered-excerpt list. " +
			"Include only excerpts that address the question.\n")
	}

	return b.String()
}
