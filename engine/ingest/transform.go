package ingest

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target number of tokens per chunk.
	DefaultChunkSize = 800
	// DefaultOverlap is the number of overlapping tokens between chunks.
	DefaultOverlap = 100
)

// cleanText collapses whitespace runs and strips control characters from
// extracted page text.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// estimateTokens approximates token count as word count times 1.3.
func estimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// splitSentences splits cleaned text at sentence-ending punctuation
// followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// chunkPage splits one page's cleaned text into chunks of about chunkSize
// tokens. Consecutive chunks share up to overlap tokens of trailing
// sentences. Chunk indexes are monotonic within the page.
func chunkPage(text string, pageNumber, chunkSize, overlap int) []PageChunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []PageChunk
	var current []string
	currentTokens := 0

	flush := func() {
		chunks = append(chunks, PageChunk{
			Text:       strings.Join(current, " "),
			PageNumber: pageNumber,
			ChunkIndex: len(chunks),
		})
	}

	for _, sentence := range sentences {
		tokens := estimateTokens(sentence)
		if currentTokens+tokens > chunkSize && len(current) > 0 {
			flush()

			// Carry trailing sentences forward as overlap.
			var carry []string
			carryTokens := 0
			for i := len(current) - 1; i >= 0; i-- {
				t := estimateTokens(current[i])
				if carryTokens+t > overlap {
					break
				}
				carry = append([]string{current[i]}, carry...)
				carryTokens += t
			}
			current = carry
			currentTokens = carryTokens
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if len(current) > 0 {
		flush()
	}
	return chunks
}
