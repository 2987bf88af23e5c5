// Package partnlp extracts part numbers, manufacturer codes, model names,
// and a query intent from free text. Parsing never fails: worst case the
// result has empty identifier sets and the general intent.
package partnlp

import (
	"regexp"
	"sort"
	"strings"
)

// Intent classifies what a query is asking about.
type Intent string

const (
	IntentPart       Intent = "part"
	IntentModel      Intent = "model"
	IntentComparison Intent = "comparison"
	IntentGeneral    Intent = "general"
)

// ParsedQuery is the structured form of a user query. Identifier slices are
// uppercase, de-duplicated, and sorted.
type ParsedQuery struct {
	Intent              Intent   `json:"intent"`
	PartNumbers         []string `json:"parts_town_numbers"`
	ManufacturerNumbers []string `json:"manufacturer_numbers"`
	ModelNames          []string `json:"model_names"`
	RawText             string   `json:"query_text"`
	Keywords            []string `json:"keywords"`
}

var partPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z]{2,}\d{3,}\b`),
	regexp.MustCompile(`\b\d{4,}[A-Za-z]+\b`),
	regexp.MustCompile(`#([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)\bparts?\s+town\s*#?\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)\bpart\s+#?\s*([A-Za-z0-9]+)`),
}

var manufacturerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmanufacturer\s*#\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)\bmfr\s*#?\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)\bmanufacturer\s+number\s+([A-Za-z0-9]+)`),
}

var modelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9]+[-_][A-Za-z0-9]+\b`),
	regexp.MustCompile(`(?i)\bmodel\s+([A-Za-z0-9][A-Za-z0-9-_]*)`),
}

var wordRe = regexp.MustCompile(`\b[a-z0-9]+\b`)

var comparisonKeywords = []string{"compare", "difference", "vs", "versus", "between"}
var partKeywords = []string{"part", "parts", "component", "bearing", "valve", "sensor"}
var modelKeywords = []string{"model", "unit", "system", "equipment"}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "should": {}, "could": {}, "may": {},
	"might": {}, "can": {}, "what": {}, "which": {}, "who": {}, "where": {},
	"when": {}, "why": {}, "how": {}, "this": {}, "that": {}, "these": {},
	"those": {},
}

// Parse extracts identifiers and classifies intent.
func Parse(text string) ParsedQuery {
	parts := extract(text, partPatterns)
	mfrs := extract(text, manufacturerPatterns)
	models := extract(text, modelPatterns)

	return ParsedQuery{
		Intent:              classify(strings.ToLower(text), parts, mfrs, models),
		PartNumbers:         parts,
		ManufacturerNumbers: mfrs,
		ModelNames:          models,
		RawText:             text,
		Keywords:            extractKeywords(text),
	}
}

// extract unions all pattern matches, preferring the capture group when a
// pattern has one. Matches are uppercased, de-duplicated, and sorted.
func extract(text string, patterns []*regexp.Regexp) []string {
	seen := make(map[string]struct{})
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			token := m[0]
			if len(m) > 1 && m[1] != "" {
				token = m[1]
			}
			token = strings.TrimPrefix(token, "#")
			if token == "" {
				continue
			}
			seen[strings.ToUpper(token)] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// classify applies the intent precedence: explicit identifiers dominate
// keyword heuristics.
func classify(lower string, parts, mfrs, models []string) Intent {
	if len(parts) > 0 || len(mfrs) > 0 {
		return IntentPart
	}
	if len(models) > 0 {
		return IntentModel
	}
	for _, kw := range comparisonKeywords {
		if strings.Contains(lower, kw) {
			return IntentComparison
		}
	}
	for _, kw := range partKeywords {
		if containsWord(lower, kw) {
			return IntentPart
		}
	}
	for _, kw := range modelKeywords {
		if containsWord(lower, kw) {
			return IntentModel
		}
	}
	return IntentGeneral
}

// extractKeywords returns lowercase alphanumeric words minus stopwords and
// tokens of length <= 2, keeping first-occurrence order.
func extractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// containsWord reports whether lower contains kw bounded by non-alphanumeric
// characters, so "part" does not match inside "department".
func containsWord(lower, kw string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		leftOK := start == 0 || !isAlnum(lower[start-1])
		rightOK := end == len(lower) || !isAlnum(lower[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
		if idx >= len(lower) {
			return false
		}
	}
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
