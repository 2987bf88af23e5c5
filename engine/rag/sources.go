package rag

import (
	"context"
	"fmt"

	"github.com/PartsIQ/partsiq-mvp/engine/retrieve"
	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
)

// SourceLinker resolves manual URLs and model membership from the graph
// store for source attribution.
type SourceLinker interface {
	PartManualURLs(ctx context.Context, numbers []string) ([]string, error)
	ModelPartNumbers(ctx context.Context, modelNames []string) ([]string, error)
}

// SourceURLs derives the minimal set of manual URLs relevant to the answer.
// The scope is intent-conditioned so displayed sources are never broader
// than the retrieval scope:
//
//   - part intent: manuals linked to the queried parts, plus excerpt URLs
//     whose part is among the queried parts.
//   - model intent: only excerpt URLs whose part belongs to the queried
//     models. Graph-linked manuals need excerpt corroboration.
//   - otherwise: all excerpt URLs plus all part-linked manual URLs from the
//     structured results.
func (b *Builder) SourceURLs(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result) ([]string, error) {
	switch pq.Intent {
	case partnlp.IntentPart:
		return b.partSourceURLs(ctx, pq, res)
	case partnlp.IntentModel:
		return b.modelSourceURLs(ctx, pq, res)
	default:
		return generalSourceURLs(res), nil
	}
}

func (b *Builder) partSourceURLs(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result) ([]string, error) {
	queried := toSet(pq.PartNumbers)

	var urls []string
	if len(pq.PartNumbers) > 0 {
		linked, err := b.links.PartManualURLs(ctx, pq.PartNumbers)
		if err != nil {
			return nil, fmt.Errorf("rag: part manual urls: %w", err)
		}
		urls = append(urls, linked...)
	}
	for _, c := range res.Chunks {
		if _, ok := queried[c.PartsTownNumber]; ok && c.PDFURL != "" {
			urls = append(urls, c.PDFURL)
		}
	}
	return dedup(urls), nil
}

func (b *Builder) modelSourceURLs(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result) ([]string, error) {
	if len(pq.ModelNames) == 0 {
		return nil, nil
	}
	partNumbers, err := b.links.ModelPartNumbers(ctx, pq.ModelNames)
	if err != nil {
		return nil, fmt.Errorf("rag: model part numbers: %w", err)
	}
	members := toSet(partNumbers)

	var urls []string
	for _, c := range res.Chunks {
		if _, ok := members[c.PartsTownNumber]; ok && c.PDFURL != "" {
			urls = append(urls, c.PDFURL)
		}
	}
	return dedup(urls), nil
}

func generalSourceURLs(res retrieve.Result) []string {
	var urls []string
	for _, c := range res.Chunks {
		if c.PDFURL != "" {
			urls = append(urls, c.PDFURL)
		}
	}
	for _, p := range res.Graph.Parts {
		urls = append(urls, p.PDFURLs...)
	}
	return dedup(urls)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// dedup removes duplicates preserving first-occurrence order.
func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
