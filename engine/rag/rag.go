// Package rag turns retrieval results into grounded answers. It assembles
// a bounded textual context, drives the generation backend under a strict
// grounding contract in full or streaming mode, and derives the source
// manual URLs relevant to the answer.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/retrieve"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
	"github.com/PartsIQ/partsiq-mvp/pkg/resilience"
)

// Generator abstracts the generation backend. GenerateStream must deliver
// fragments in generation order; their concatenation equals the full text
// it returns. An error from emit means the consumer stopped: the generator
// stops delivering and returns the text accumulated so far with a nil
// error.
type Generator interface {
	Generate(ctx context.Context, system string, history []domain.Turn, user string) (string, error)
	GenerateStream(ctx context.Context, system string, history []domain.Turn, user string, emit func(string) error) (string, error)
}

// Options configures response building.
type Options struct {
	HistoryWindow int
	MaxExcerpts   int
	GenTimeout    time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		HistoryWindow: HistoryWindow,
		MaxExcerpts:   5,
		GenTimeout:    60 * time.Second,
	}
}

// Builder drives grounded response generation.
type Builder struct {
	gen     Generator
	links   SourceLinker
	opts    Options
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New creates a Builder.
func New(gen Generator, links SourceLinker, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultOptions().HistoryWindow
	}
	if opts.MaxExcerpts <= 0 {
		opts.MaxExcerpts = DefaultOptions().MaxExcerpts
	}
	if opts.GenTimeout <= 0 {
		opts.GenTimeout = DefaultOptions().GenTimeout
	}
	return &Builder{
		gen:     gen,
		links:   links,
		opts:    opts,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// Sections exposes the structured data behind the answer for display.
type Sections struct {
	Parts    []graph.PartView    `json:"part_info"`
	Models   []graph.ModelView   `json:"model_info"`
	Excerpts []semantic.ChunkHit `json:"pdf_excerpts"`
}

// Source is one attribution entry backing the answer.
type Source struct {
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description"`
}

// Response is the full outcome of one answer turn.
type Response struct {
	Text     string   `json:"response"`
	PDFURLs  []string `json:"pdf_urls"`
	Sections Sections `json:"sections"`
	Sources  []Source `json:"sources"`
}

// Respond generates a complete answer. Generation backend failures do not
// surface as errors: the apology text becomes the answer and the
// conversation continues.
func (b *Builder) Respond(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result, history []domain.Turn) Response {
	system, user := b.prompts(pq, res)
	window := b.window(history)

	var text string
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		genCtx, cancel := context.WithTimeout(ctx, b.opts.GenTimeout)
		defer cancel()
		out, err := b.gen.Generate(genCtx, system, window, user)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		b.logger.Warn("generation failed", "error", err)
		text = apology(err)
	}

	return b.finish(res, text, b.sourceURLs(ctx, pq, res))
}

// RespondStream generates an answer in streaming mode, invoking emit for
// each fragment in order. Cancellation is caller-driven: an error from emit
// stops consumption without failing the turn.
func (b *Builder) RespondStream(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result, history []domain.Turn, emit func(string) error) Response {
	return b.RespondStreamWith(ctx, pq, res, history, b.sourceURLs(ctx, pq, res), emit)
}

// RespondStreamWith is RespondStream for callers that already derived the
// source URLs, typically to announce them ahead of the token stream. The
// graph is not consulted a second time.
func (b *Builder) RespondStreamWith(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result, history []domain.Turn, urls []string, emit func(string) error) Response {
	system, user := b.prompts(pq, res)
	window := b.window(history)

	var text string
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		genCtx, cancel := context.WithTimeout(ctx, b.opts.GenTimeout)
		defer cancel()
		out, err := b.gen.GenerateStream(genCtx, system, window, user, emit)
		text = out
		return err
	})
	if err != nil {
		b.logger.Warn("streaming generation failed", "error", err)
		text = apology(err)
		if emitErr := emit(text); emitErr != nil {
			b.logger.Debug("client stopped consuming stream", "error", emitErr)
		}
	}

	return b.finish(res, text, urls)
}

func (b *Builder) prompts(pq partnlp.ParsedQuery, res retrieve.Result) (system, user string) {
	contextText := BuildContext(res, b.opts.MaxExcerpts)
	system = SystemPrompt(pq.RawText, res.Intent)
	user = fmt.Sprintf("## Available Information:\n%s\n\n## User Question:\n%s\n\nAnswer using only the information above.",
		contextText, pq.RawText)
	return system, user
}

func (b *Builder) window(history []domain.Turn) []domain.Turn {
	if len(history) > b.opts.HistoryWindow {
		history = history[len(history)-b.opts.HistoryWindow:]
	}
	return history
}

// sourceURLs wraps SourceURLs, degrading to no attribution on failure.
func (b *Builder) sourceURLs(ctx context.Context, pq partnlp.ParsedQuery, res retrieve.Result) []string {
	urls, err := b.SourceURLs(ctx, pq, res)
	if err != nil {
		b.logger.Warn("source url extraction failed", "error", err)
		return nil
	}
	return urls
}

func (b *Builder) finish(res retrieve.Result, text string, urls []string) Response {
	return Response{
		Text:     text,
		PDFURLs:  urls,
		Sections: BuildSections(res, b.opts.MaxExcerpts),
		Sources:  buildSources(res, urls),
	}
}

// BuildSections groups retrieval output into the structured context blocks
// exposed alongside a response.
func BuildSections(res retrieve.Result, maxExcerpts int) Sections {
	excerpts := res.Chunks
	if len(excerpts) > maxExcerpts {
		excerpts = excerpts[:maxExcerpts]
	}
	return Sections{
		Parts:    res.Graph.Parts,
		Models:   res.Graph.Models,
		Excerpts: excerpts,
	}
}

func buildSources(res retrieve.Result, urls []string) []Source {
	var sources []Source
	if len(res.Graph.Parts) > 0 || len(res.Graph.Models) > 0 {
		sources = append(sources, Source{
			Type:        "Graph Database",
			Description: "Structured parts and models data",
		})
	}
	for _, u := range urls {
		sources = append(sources, Source{
			Type:        "PDF Manual",
			URL:         u,
			Description: "PDF manual excerpt",
		})
	}
	return sources
}

func apology(err error) string {
	return fmt.Sprintf("I apologize, but I encountered an error generating the response: %v", err)
}
