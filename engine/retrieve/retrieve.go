// Package retrieve orchestrates structured graph lookups and semantic
// search over manual chunks for one parsed query. Retrieval is read-only:
// it never mutates the stores.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/fn"
	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
)

// GraphReader abstracts the structured-lookup surface of the graph store.
type GraphReader interface {
	PartByNumber(ctx context.Context, number string) (graph.PartView, bool, error)
	PartByManufacturerNumber(ctx context.Context, number string) (graph.PartView, bool, error)
	ModelByName(ctx context.Context, name string) (graph.ModelView, bool, error)
	SearchPartsByKeywords(ctx context.Context, keywords []string) ([]graph.PartView, error)
	SearchModelsByKeywords(ctx context.Context, keywords []string) ([]graph.ModelView, error)
	ModelPartRelationships(ctx context.Context, modelName string) ([]graph.Relationship, error)
	PartsWithManuals(ctx context.Context, numbers []string) ([]string, error)
}

// VectorSearcher abstracts semantic search over chunk embeddings.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, partNumbers []string) ([]semantic.ChunkHit, error)
}

// Embedder maps query text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GraphResult holds the structured leg of a retrieval.
type GraphResult struct {
	Parts         []graph.PartView     `json:"parts"`
	Models        []graph.ModelView    `json:"models"`
	Relationships []graph.Relationship `json:"relationships"`
}

// Result is the transient per-query retrieval outcome.
type Result struct {
	Graph  GraphResult         `json:"graph"`
	Chunks []semantic.ChunkHit `json:"chunks"`
	Intent partnlp.Intent      `json:"intent"`
}

// Options tunes retrieval behaviour.
type Options struct {
	TopK        int
	MaxDistance float32
	Timeout     time.Duration
}

// DefaultOptions returns sensible defaults. MaxDistance bounds Euclidean
// distance for retained chunks; 1.5 corresponds to similarity 0.4 under
// the 1/(1+d) normalization.
func DefaultOptions() Options {
	return Options{
		TopK:        5,
		MaxDistance: 1.5,
		Timeout:     10 * time.Second,
	}
}

// Retriever runs structured and semantic retrieval. A nil vector searcher
// or embedder degrades retrieval to structured-only.
type Retriever struct {
	graph   GraphReader
	vectors VectorSearcher
	embed   Embedder
	opts    Options
	logger  *slog.Logger
}

// New creates a Retriever.
func New(g GraphReader, vectors VectorSearcher, embed Embedder, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = DefaultOptions().MaxDistance
	}
	return &Retriever{graph: g, vectors: vectors, embed: embed, opts: opts, logger: logger}
}

// Retrieve runs both legs concurrently and merges their results. Store
// connectivity errors propagate; lookup misses do not. topK <= 0 falls
// back to the configured default. similarityThreshold is a hint only: the
// retained set is bounded by MaxDistance, since the distance-to-similarity
// conversion is approximate.
func (r *Retriever) Retrieve(ctx context.Context, pq partnlp.ParsedQuery, topK int, similarityThreshold float64) (Result, error) {
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if similarityThreshold > 0 {
		r.logger.Debug("similarity threshold treated as hint",
			"threshold", similarityThreshold, "max_distance", r.opts.MaxDistance)
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	var graphRes GraphResult
	var chunks []semantic.ChunkHit

	out := fn.FanOutResult(
		func() fn.Result[struct{}] {
			gr, err := r.retrieveGraph(ctx, pq)
			if err != nil {
				return fn.Err[struct{}](err)
			}
			graphRes = gr
			return fn.Ok(struct{}{})
		},
		func() fn.Result[struct{}] {
			hits, err := r.retrieveChunks(ctx, pq, topK)
			if err != nil {
				return fn.Err[struct{}](err)
			}
			chunks = hits
			return fn.Ok(struct{}{})
		},
	)
	if _, err := out.Unwrap(); err != nil {
		return Result{}, err
	}

	return Result{Graph: graphRes, Chunks: chunks, Intent: pq.Intent}, nil
}

// retrieveGraph runs identifier lookups, then keyword fallback, then
// relationship collection.
func (r *Retriever) retrieveGraph(ctx context.Context, pq partnlp.ParsedQuery) (GraphResult, error) {
	var res GraphResult

	for _, number := range pq.PartNumbers {
		view, ok, err := r.graph.PartByNumber(ctx, number)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: part %s: %w", number, err)
		}
		if ok {
			res.Parts = append(res.Parts, view)
		}
	}

	for _, number := range pq.ManufacturerNumbers {
		view, ok, err := r.graph.PartByManufacturerNumber(ctx, number)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: manufacturer %s: %w", number, err)
		}
		if ok {
			res.Parts = append(res.Parts, view)
		}
	}

	for _, name := range pq.ModelNames {
		view, ok, err := r.graph.ModelByName(ctx, name)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: model %s: %w", name, err)
		}
		if ok {
			res.Models = append(res.Models, view)
		}
	}

	if len(res.Parts) == 0 && len(res.Models) == 0 && len(pq.Keywords) > 0 {
		parts, err := r.graph.SearchPartsByKeywords(ctx, pq.Keywords)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: keyword parts: %w", err)
		}
		res.Parts = append(res.Parts, parts...)

		models, err := r.graph.SearchModelsByKeywords(ctx, pq.Keywords)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: keyword models: %w", err)
		}
		res.Models = append(res.Models, models...)
	}

	for _, m := range res.Models {
		rels, err := r.graph.ModelPartRelationships(ctx, m.Name)
		if err != nil {
			return GraphResult{}, fmt.Errorf("retrieve: relationships %s: %w", m.Name, err)
		}
		res.Relationships = append(res.Relationships, rels...)
	}

	return res, nil
}

// retrieveChunks runs the semantic leg. When the query names parts, search
// is scoped to those that actually have manuals; if none do, the leg is
// skipped entirely. A scoped search retained to zero hits is retried once
// without the scope.
func (r *Retriever) retrieveChunks(ctx context.Context, pq partnlp.ParsedQuery, topK int) ([]semantic.ChunkHit, error) {
	if r.vectors == nil || r.embed == nil {
		return nil, nil
	}

	scope := pq.PartNumbers
	if len(scope) > 0 {
		withManuals, err := r.graph.PartsWithManuals(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("retrieve: manuals probe: %w", err)
		}
		if len(withManuals) == 0 {
			r.logger.Debug("no manuals for queried parts, skipping semantic search",
				"parts", scope)
			return nil, nil
		}
		scope = withManuals
	}

	vector, err := r.embed.Embed(ctx, pq.RawText)
	if err != nil {
		r.logger.Warn("query embedding failed, structured results only", "error", err)
		return nil, nil
	}

	hits, err := r.searchBounded(ctx, vector, scope, topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && len(scope) > 0 {
		hits, err = r.searchBounded(ctx, vector, nil, topK)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// searchBounded over-fetches 2x, then keeps hits within MaxDistance.
func (r *Retriever) searchBounded(ctx context.Context, vector []float32, scope []string, topK int) ([]semantic.ChunkHit, error) {
	raw, err := r.vectors.Search(ctx, vector, 2*topK, scope)
	if err != nil {
		return nil, fmt.Errorf("retrieve: semantic search: %w", err)
	}
	return fn.Filter(raw, func(h semantic.ChunkHit) bool {
		return h.Distance <= r.opts.MaxDistance
	}), nil
}
