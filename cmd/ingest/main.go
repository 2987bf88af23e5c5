// Command ingest loads a parts catalog CSV into Neo4j and its PDF manuals
// into Qdrant. It runs either one-shot against a CSV file or as a NATS
// consumer processing queued ingestion jobs.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/ingest"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/metrics"
	"github.com/PartsIQ/partsiq-mvp/pkg/ollama"
	"github.com/PartsIQ/partsiq-mvp/pkg/resilience"
)

var met = metrics.New()

var (
	mRowsTotal    = met.Counter("partsiq_ingest_rows_total", "Catalog rows processed")
	mManualsTotal = met.Counter("partsiq_ingest_manuals_total", "Manuals processed")
	mChunksTotal  = met.Counter("partsiq_ingest_chunks_total", "Manual chunks stored")
	mJobsTotal    = met.Counter("partsiq_ingest_jobs_total", "Ingestion jobs run")
	mJobDuration  = met.Histogram("partsiq_ingest_job_duration_seconds", "Per-job ingestion time", nil)
)

func main() {
	var (
		csvPath     = flag.String("csv", "", "catalog CSV to ingest (one-shot mode)")
		neo4jURL    = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "partsiq_manuals", "Qdrant collection name")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel  = flag.String("model", "mxbai-embed-large", "Ollama embedding model")
		extractor   = flag.String("extractor", "http://localhost:8091", "PDF text extractor base URL")
		dims        = flag.Int("dims", semantic.DefaultDims, "embedding dimensions")
		clear       = flag.Bool("clear", false, "clear both stores before ingesting")
		natsURL     = flag.String("nats", "", "NATS URL; when set, consume ingestion jobs instead of one-shot")
		fetchRate   = flag.Float64("fetch-rate", 2, "max manual fetches per second")
		embedRate   = flag.Float64("embed-rate", 5, "max embedding calls per second")
		metricsPort = flag.Int("metrics-port", 9092, "metrics server port")
	)
	flag.Parse()

	met.ServeAsync(*metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Connect Neo4j
	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Neo4j")

	// Connect Qdrant
	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, *dims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", *dims)

	ing := ingest.New(ingest.Deps{
		Graph:      graph.New(driver),
		Vectors:    vs,
		Embedder:   ollama.NewEmbedClient(*ollamaURL, *embedModel),
		Fetcher:    &extractorFetcher{base: *extractor, client: &http.Client{Timeout: 2 * time.Minute}},
		FetchLimit: rate.NewLimiter(rate.Limit(*fetchRate), 1),
		EmbedLimit: resilience.NewLimiter(resilience.LimiterOpts{Rate: *embedRate, Burst: 2}),
		Logger:     log,
	})

	opts := ingest.Options{Clear: *clear, Dims: *dims}

	if *natsURL != "" {
		runConsumer(ctx, *natsURL, ing, opts, log)
		return
	}

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "either -csv or -nats is required")
		flag.Usage()
		os.Exit(2)
	}

	stats, err := runOnce(ctx, ing, *csvPath, opts)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
	log.Info("ingestion complete",
		"rows", stats.Rows,
		"models", stats.Models,
		"parts", stats.Parts,
		"manuals", stats.Manuals,
		"chunks", stats.Chunks,
		"stored", stats.Stored,
	)
}

func runOnce(ctx context.Context, ing *ingest.Ingester, csvPath string, opts ingest.Options) (ingest.Stats, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, err := ingest.ReadCatalog(f)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("read csv: %w", err)
	}

	bar := progressbar.Default(int64(len(rows)), "ingesting rows")
	opts.Progress = func(done, total int) {
		_ = bar.Set(done)
	}

	start := time.Now()
	stats, err := ing.Ingest(ctx, rows, opts)
	mJobDuration.Since(start)
	if err != nil {
		return ingest.Stats{}, err
	}
	_ = bar.Finish()

	mJobsTotal.Inc()
	mRowsTotal.Add(int64(stats.Rows))
	mManualsTotal.Add(int64(stats.Manuals))
	mChunksTotal.Add(int64(stats.Chunks))
	return stats, nil
}

func runConsumer(ctx context.Context, natsURL string, ing *ingest.Ingester, opts ingest.Options, log *slog.Logger) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, ing, opts)
	if err != nil {
		log.Error("consumer start failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	log.Info("consuming ingestion jobs", "subject", ingest.IngestSubject)
	<-ctx.Done()
	log.Info("shutting down")
}

// extractorFetcher asks the text-extraction service to download a manual
// and return its pages as plain text.
type extractorFetcher struct {
	base   string
	client *http.Client
}

type extractReq struct {
	URL string `json:"url"`
}

type extractResp struct {
	Pages []struct {
		Page int    `json:"page"`
		Text string `json:"text"`
	} `json:"pages"`
}

func (f *extractorFetcher) FetchPages(ctx context.Context, url string) ([]ingest.Page, error) {
	body, err := json.Marshal(extractReq{URL: url})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned %d for %s", resp.StatusCode, url)
	}

	var out extractResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("extractor decode: %w", err)
	}

	pages := make([]ingest.Page, len(out.Pages))
	for i, p := range out.Pages {
		pages[i] = ingest.Page{Number: p.Page, Text: p.Text}
	}
	return pages, nil
}
