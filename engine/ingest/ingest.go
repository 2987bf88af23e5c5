// Package ingest loads parts catalogs into the graph store and their
// manuals into the vector store. Manual processing (fetch, chunk, embed,
// store) runs concurrently with the row loop as one background unit whose
// completion Ingest awaits before reporting stats.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/fn"
	"github.com/PartsIQ/partsiq-mvp/pkg/resilience"
)

// EmbedBatchSize is the max chunks per embedding request.
const EmbedBatchSize = 100

// GraphWriter is the write surface of the graph store.
type GraphWriter interface {
	SavePart(ctx context.Context, p graph.Part) error
	SaveModel(ctx context.Context, m graph.Model) error
	SaveManual(ctx context.Context, m graph.Manual) error
	LinkModelPart(ctx context.Context, modelName, partName string) error
	LinkPartManual(ctx context.Context, partName, url string) error
	Stats(ctx context.Context) (graph.Stats, error)
	ClearAll(ctx context.Context) error
}

// ChunkWriter is the write surface of the vector store.
type ChunkWriter interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.ChunkRecord) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// Embedder produces embedding vectors for chunk batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Deps holds the external dependencies of the ingestion pipeline. Vectors,
// Embedder, and Fetcher may all be nil together, which disables manual
// processing.
type Deps struct {
	Graph    GraphWriter
	Vectors  ChunkWriter
	Embedder Embedder
	Fetcher  TextFetcher
	// FetchLimit paces manual fetches. Nil means unlimited.
	FetchLimit *rate.Limiter
	// EmbedLimit paces embedding calls. Nil means unlimited.
	EmbedLimit *resilience.Limiter
	// FetchRetry overrides the manual fetch retry policy.
	FetchRetry *fn.RetryOpts
	Logger     *slog.Logger
}

// Options configures one ingestion run.
type Options struct {
	Clear     bool
	Dims      int
	ChunkSize int
	Overlap   int
	// Progress is invoked after each processed row.
	Progress func(done, total int)
}

// Ingester runs catalog ingestion.
type Ingester struct {
	deps Deps
	log  *slog.Logger
}

// New creates an Ingester.
func New(deps Deps) *Ingester {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{deps: deps, log: log}
}

func (ing *Ingester) manualsEnabled() bool {
	return ing.deps.Vectors != nil && ing.deps.Embedder != nil && ing.deps.Fetcher != nil
}

// Ingest loads the rows into the graph store while the manuals unit runs in
// the background, then joins it and reports combined stats.
func (ing *Ingester) Ingest(ctx context.Context, rows []domain.CatalogRow, opts Options) (Stats, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}

	if opts.Clear {
		if err := ing.deps.Graph.ClearAll(ctx); err != nil {
			return Stats{}, fmt.Errorf("ingest: clear graph: %w", err)
		}
		if ing.manualsEnabled() {
			if err := ing.deps.Vectors.Clear(ctx); err != nil {
				ing.log.Warn("clear vector collection", "error", err)
			}
			if err := ing.deps.Vectors.EnsureCollection(ctx, opts.Dims); err != nil {
				return Stats{}, fmt.Errorf("ingest: ensure collection: %w", err)
			}
		}
	}

	// Spawn the manuals unit before the row loop so both run concurrently.
	type manualOutcome struct {
		manuals int
		chunks  int
	}
	manualsDone := make(chan manualOutcome, 1)
	if ing.manualsEnabled() {
		tasks := manualTasks(rows)
		go func() {
			manuals, chunks := ing.runManuals(ctx, tasks, opts)
			manualsDone <- manualOutcome{manuals: manuals, chunks: chunks}
		}()
	} else {
		manualsDone <- manualOutcome{}
	}

	stats, err := ing.ingestRows(ctx, rows, opts)
	if err != nil {
		// Drain the manuals unit even on row-loop failure so work is not
		// abandoned mid-write.
		<-manualsDone
		return Stats{}, err
	}

	outcome := <-manualsDone
	stats.Manuals = outcome.manuals
	stats.Chunks = outcome.chunks
	if ing.manualsEnabled() {
		stored, err := ing.deps.Vectors.Count(ctx)
		if err != nil {
			ing.log.Warn("vector count", "error", err)
		} else {
			stats.Stored = stored
		}
	}
	return stats, nil
}

// ingestRows runs the graph-side loop with per-entity dedup.
func (ing *Ingester) ingestRows(ctx context.Context, rows []domain.CatalogRow, opts Options) (Stats, error) {
	var stats Stats
	seenModels := make(map[string]struct{})
	seenParts := make(map[string]struct{})
	seenManuals := make(map[string]struct{})

	for i, row := range rows {
		if opts.Progress != nil {
			opts.Progress(i+1, len(rows))
		}
		if err := domain.ValidateCatalogRow(row); err != nil {
			ing.log.Debug("skipping row", "row", i+2, "reason", err)
			continue
		}
		key := domain.PartKey(row)

		if _, ok := seenModels[row.Model]; !ok {
			if err := ing.deps.Graph.SaveModel(ctx, graph.Model{Name: row.Model}); err != nil {
				return Stats{}, fmt.Errorf("ingest: save model %s: %w", row.Model, err)
			}
			seenModels[row.Model] = struct{}{}
		}

		if _, ok := seenParts[key]; !ok {
			part := graph.Part{
				Name:               key,
				PartsTownNumber:    key,
				ManufacturerNumber: row.ManufacturerNumber,
				Description:        row.Description,
				Extra:              row.Extra,
			}
			if err := ing.deps.Graph.SavePart(ctx, part); err != nil {
				return Stats{}, fmt.Errorf("ingest: save part %s: %w", key, err)
			}
			seenParts[key] = struct{}{}
		}

		if err := ing.deps.Graph.LinkModelPart(ctx, row.Model, key); err != nil {
			return Stats{}, fmt.Errorf("ingest: link %s -> %s: %w", row.Model, key, err)
		}

		for _, url := range row.PDFURLs {
			if _, ok := seenManuals[url]; !ok {
				if err := ing.deps.Graph.SaveManual(ctx, graph.Manual{URL: url}); err != nil {
					return Stats{}, fmt.Errorf("ingest: save manual %s: %w", url, err)
				}
				seenManuals[url] = struct{}{}
			}
			if err := ing.deps.Graph.LinkPartManual(ctx, key, url); err != nil {
				return Stats{}, fmt.Errorf("ingest: link %s -> %s: %w", key, url, err)
			}
		}

		stats.Rows++
	}

	stats.Models = len(seenModels)
	stats.Parts = len(seenParts)
	return stats, nil
}

// manualTasks extracts the unique manuals to process. The first row that
// references a URL supplies the part metadata its chunks carry.
func manualTasks(rows []domain.CatalogRow) []ManualTask {
	seen := make(map[string]struct{})
	var tasks []ManualTask
	for _, row := range rows {
		if domain.ValidateCatalogRow(row) != nil {
			continue
		}
		key := domain.PartKey(row)
		for _, url := range row.PDFURLs {
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			tasks = append(tasks, ManualTask{
				URL:                url,
				PartsTownNumber:    key,
				ManufacturerNumber: row.ManufacturerNumber,
			})
		}
	}
	return tasks
}

// runManuals drives each task through the fetch, chunk, embed, store
// pipeline. Per-manual failures are logged and skipped, never fatal.
func (ing *Ingester) runManuals(ctx context.Context, tasks []ManualTask, opts Options) (manuals, chunks int) {
	retryOpts := fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		MaxWait:     15 * time.Second,
		Jitter:      true,
	}
	if ing.deps.FetchRetry != nil {
		retryOpts = *ing.deps.FetchRetry
	}
	fetch := fn.RetryStage(retryOpts, ing.fetchStage())

	pipeline := fn.Then(
		fn.Then(
			fn.Then(fetch, chunkStage(opts.ChunkSize, opts.Overlap)),
			ing.embedStage(),
		),
		ing.storeStage(),
	)

	for _, task := range tasks {
		stored, err := pipeline(ctx, task).Unwrap()
		if err != nil {
			ing.log.Warn("manual processing failed", "url", task.URL, "error", err)
			continue
		}
		manuals++
		chunks += stored
		ing.log.Info("manual processed", "url", task.URL, "chunks", stored)
	}
	return manuals, chunks
}

// fetchStage downloads and extracts one manual, paced by the rate limit.
func (ing *Ingester) fetchStage() fn.Stage[ManualTask, FetchedManual] {
	return func(ctx context.Context, task ManualTask) fn.Result[FetchedManual] {
		if ing.deps.FetchLimit != nil {
			if err := ing.deps.FetchLimit.Wait(ctx); err != nil {
				return fn.Err[FetchedManual](err)
			}
		}
		pages, err := ing.deps.Fetcher.FetchPages(ctx, task.URL)
		if err != nil {
			return fn.Err[FetchedManual](fmt.Errorf("fetch %s: %w", task.URL, err))
		}
		return fn.Ok(FetchedManual{ManualTask: task, Pages: pages})
	}
}

// chunkStage cleans and chunks every page. Chunk indexes restart per page.
func chunkStage(chunkSize, overlap int) fn.Stage[FetchedManual, ChunkedManual] {
	return func(_ context.Context, m FetchedManual) fn.Result[ChunkedManual] {
		var all []PageChunk
		for _, page := range m.Pages {
			cleaned := cleanText(page.Text)
			if cleaned == "" {
				continue
			}
			all = append(all, chunkPage(cleaned, page.Number, chunkSize, overlap)...)
		}
		return fn.Ok(ChunkedManual{ManualTask: m.ManualTask, Chunks: all})
	}
}

// embedStage embeds chunk texts in batches.
func (ing *Ingester) embedStage() fn.Stage[ChunkedManual, EmbeddedManual] {
	return func(ctx context.Context, m ChunkedManual) fn.Result[EmbeddedManual] {
		texts := fn.Map(m.Chunks, func(c PageChunk) string { return c.Text })
		embeddings := make([][]float32, 0, len(texts))
		for _, batch := range fn.Chunk(texts, EmbedBatchSize) {
			var vecs [][]float32
			call := func(ctx context.Context) error {
				var err error
				vecs, err = ing.deps.Embedder.EmbedBatch(ctx, batch)
				return err
			}
			var err error
			if ing.deps.EmbedLimit != nil {
				err = ing.deps.EmbedLimit.CallWait(ctx, call)
			} else {
				err = call(ctx)
			}
			if err != nil {
				return fn.Err[EmbeddedManual](fmt.Errorf("embed: %w", err))
			}
			embeddings = append(embeddings, vecs...)
		}
		return fn.Ok(EmbeddedManual{ChunkedManual: m, Embeddings: embeddings})
	}
}

// storeStage upserts chunk records with deterministic point IDs so
// re-ingesting a manual overwrites rather than duplicates.
func (ing *Ingester) storeStage() fn.Stage[EmbeddedManual, int] {
	return func(ctx context.Context, m EmbeddedManual) fn.Result[int] {
		records := make([]semantic.ChunkRecord, len(m.Chunks))
		for i, c := range m.Chunks {
			id := uuid.NewSHA1(uuid.NameSpaceURL,
				[]byte(fmt.Sprintf("%s-%d-%d", m.URL, c.PageNumber, c.ChunkIndex))).String()
			records[i] = semantic.ChunkRecord{
				ID:                 id,
				Text:               c.Text,
				PartsTownNumber:    m.PartsTownNumber,
				ManufacturerNumber: m.ManufacturerNumber,
				PDFURL:             m.URL,
				PageNumber:         c.PageNumber,
				ChunkIndex:         c.ChunkIndex,
				Vector:             m.Embeddings[i],
			}
		}
		if err := ing.deps.Vectors.Upsert(ctx, records); err != nil {
			return fn.Err[int](fmt.Errorf("vector upsert: %w", err))
		}
		return fn.Ok(len(records))
	}
}
