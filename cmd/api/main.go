// Package main implements the PartsIQ API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/ingest"
	"github.com/PartsIQ/partsiq-mvp/engine/rag"
	"github.com/PartsIQ/partsiq-mvp/engine/retrieve"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/metrics"
	"github.com/PartsIQ/partsiq-mvp/pkg/mid"
	"github.com/PartsIQ/partsiq-mvp/pkg/natsutil"
	"github.com/PartsIQ/partsiq-mvp/pkg/ollama"
	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
	"github.com/PartsIQ/partsiq-mvp/pkg/repo"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	QdrantURL   string
	Collection  string
	OllamaURL   string
	ChatModel   string
	EmbedModel  string
	NATSUrl     string
	CORSOrigin  string
	TopK        int
	Threshold   float64
	MetricsPort int
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		Neo4jURL:    envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:   envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASS", "password"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "partsiq_manuals"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		ChatModel:   envOr("CHAT_MODEL", "llama3.1"),
		EmbedModel:  envOr("EMBED_MODEL", "mxbai-embed-large"),
		NATSUrl:     os.Getenv("NATS_URL"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		TopK:        envIntOr("RETRIEVE_TOP_K", 5),
		Threshold:   envFloatOr("SIMILARITY_THRESHOLD", 0.3),
		MetricsPort: envIntOr("METRICS_PORT", 9091),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app bundles the request-serving dependencies.
type app struct {
	graph     *graph.GraphStore
	vectors   *semantic.VectorStore
	retriever *retrieve.Retriever
	builder   *rag.Builder
	session   *rag.Session
	parts     repo.Repository[graph.Part, string]
	nats      *nats.Conn
	logger    *slog.Logger
	topK      int
	threshold float64

	chatRequests *metrics.Counter
	chatErrors   *metrics.Counter
	chatDuration *metrics.Histogram
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	graphStore := graph.New(neo4jDriver)

	// --- Connect to Qdrant (optional: structured-only mode without it) ---
	var searcher retrieve.VectorSearcher
	var embedder retrieve.Embedder
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		logger.Warn("qdrant unavailable, running structured-only", "err", err)
		vectorStore = nil
	} else {
		defer vectorStore.Close()
		searcher = vectorStore
		embedder = ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	}

	// --- Build retrieval and response services ---
	retriever := retrieve.New(graphStore, searcher, embedder, retrieve.DefaultOptions(), logger)

	gen := rag.NewOllamaGenerator(ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel))
	builder := rag.New(gen, graphStore, rag.DefaultOptions(), logger)

	partRepo := repo.NewNeo4jRepo[graph.Part, string](
		neo4jDriver, "Part", graph.PartProps, graph.PartFromRecord,
		repo.WithIDKey[graph.Part, string]("name"),
	)

	// --- Optional NATS for queued ingestion jobs ---
	var nc *nats.Conn
	if cfg.NATSUrl != "" {
		nc, err = nats.Connect(cfg.NATSUrl)
		if err != nil {
			logger.Warn("nats unavailable, ingest queue disabled", "err", err)
			nc = nil
		} else {
			defer nc.Drain()
		}
	}

	// --- Metrics ---
	reg := metrics.New()
	a := &app{
		graph:     graphStore,
		vectors:   vectorStore,
		retriever: retriever,
		builder:   builder,
		session:   rag.NewSession(),
		parts:     partRepo,
		nats:      nc,
		logger:    logger,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,

		chatRequests: reg.Counter("chat_requests_total", "Chat requests received."),
		chatErrors:   reg.Counter("chat_errors_total", "Chat requests that failed."),
		chatDuration: reg.Histogram("chat_duration_seconds", "End-to-end chat latency.", nil),
	}
	reg.ServeAsync(cfg.MetricsPort)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("POST /api/session/clear", a.handleSessionClear)
	mux.HandleFunc("POST /api/ingest", a.handleIngest)
	mux.HandleFunc("GET /api/parts/{number}", a.handlePartGet)
	mux.HandleFunc("DELETE /api/parts/{number}", a.handlePartDelete)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("partsiq-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.graph.Stats(r.Context())
	if err != nil {
		a.logger.Error("graph stats failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	var chunks int64
	if a.vectors != nil {
		if n, err := a.vectors.Count(r.Context()); err == nil {
			chunks = n
		} else {
			a.logger.Warn("vector count failed", "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"graph":         stats,
		"manual_chunks": chunks,
	})
}

func (a *app) handleSessionClear(w http.ResponseWriter, _ *http.Request) {
	a.session.Clear()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	TopK    int    `json:"top_k,omitempty"`
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	a.chatRequests.Inc()
	defer a.chatDuration.Since(time.Now())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = a.topK
	}

	pq := partnlp.Parse(req.Message)
	res, err := a.retriever.Retrieve(r.Context(), pq, topK, a.threshold)
	if err != nil {
		a.chatErrors.Inc()
		a.logger.Error("retrieval failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	history := a.session.Window(rag.HistoryWindow)

	if r.URL.Query().Get("stream") == "false" {
		resp := a.builder.Respond(r.Context(), pq, res, history)
		a.remember(req.Message, resp)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}

	a.streamChat(w, r, req.Message, pq, res, history)
}

// streamChat writes the response as server-sent events: one sources event
// with the retrieval context, token events as the model produces text, and
// a final done event with the complete response.
func (a *app) streamChat(w http.ResponseWriter, r *http.Request, message string, pq partnlp.ParsedQuery, res retrieve.Result, history []domain.Turn) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	urls, err := a.builder.SourceURLs(r.Context(), pq, res)
	if err != nil {
		a.logger.Warn("source urls failed", "err", err)
	}
	writeEvent(w, "sources", map[string]any{
		"pdf_urls": urls,
		"sections": rag.BuildSections(res, rag.DefaultOptions().MaxExcerpts),
	})
	flusher.Flush()

	resp := a.builder.RespondStreamWith(r.Context(), pq, res, history, urls, func(token string) error {
		writeEvent(w, "token", map[string]string{"token": token})
		flusher.Flush()
		if r.Context().Err() != nil {
			return r.Context().Err()
		}
		return nil
	})
	a.remember(message, resp)

	writeEvent(w, "done", resp)
	flusher.Flush()
}

// remember records the exchange, keeping the manual URLs that backed the
// answer on the assistant turn.
func (a *app) remember(question string, resp rag.Response) {
	a.session.Append(domain.Turn{Role: domain.RoleUser, Content: question})
	a.session.Append(domain.Turn{Role: domain.RoleAssistant, Content: resp.Text, PDFURLs: resp.PDFURLs})
}

// handleIngest queues an ingestion job. The ingest worker picks it up from
// NATS with retry and DLQ handling.
func (a *app) handleIngest(w http.ResponseWriter, r *http.Request) {
	if a.nats == nil {
		http.Error(w, `{"error":"ingest queue not configured"}`, http.StatusServiceUnavailable)
		return
	}
	var job ingest.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil || job.CSVPath == "" {
		http.Error(w, `{"error":"csv_path is required"}`, http.StatusBadRequest)
		return
	}
	if err := natsutil.Publish(r.Context(), a.nats, ingest.IngestSubject, job); err != nil {
		a.logger.Error("ingest publish failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (a *app) handlePartGet(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	part, found, err := a.parts.Get(r.Context(), number)
	if err != nil {
		a.logger.Error("part lookup failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, `{"error":"part not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(part)
}

func (a *app) handlePartDelete(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if err := a.parts.Delete(r.Context(), number); err != nil {
		a.logger.Error("part delete failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
