// Command chat is an interactive terminal chat over the parts knowledge
// base. It wires the stores directly, without the API server, and streams
// answers to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/rag"
	"github.com/PartsIQ/partsiq-mvp/engine/retrieve"
	"github.com/PartsIQ/partsiq-mvp/engine/semantic"
	"github.com/PartsIQ/partsiq-mvp/pkg/ollama"
	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	neo4jUser := envOr("NEO4J_USER", "neo4j")
	neo4jPass := envOr("NEO4J_PASS", "password")
	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "partsiq_manuals")
	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedModel := envOr("EMBED_MODEL", "mxbai-embed-large")
	chatModel := envOr("CHAT_MODEL", "llama3.1")

	ctx := context.Background()

	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.BasicAuth(neo4jUser, neo4jPass, ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, "neo4j connect failed:", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	graphStore := graph.New(driver)

	var searcher retrieve.VectorSearcher
	var embedder retrieve.Embedder
	if store, err := semantic.New(qdrantAddr, collection); err != nil {
		fmt.Fprintln(os.Stderr, "qdrant unavailable, structured answers only:", err)
	} else {
		defer store.Close()
		searcher = store
		embedder = ollama.NewEmbedClient(ollamaURL, embedModel)
	}

	retriever := retrieve.New(graphStore, searcher, embedder, retrieve.DefaultOptions(), logger)
	builder := rag.New(rag.NewOllamaGenerator(ollama.NewChatClient(ollamaURL, chatModel)), graphStore, rag.DefaultOptions(), logger)
	session := rag.NewSession()

	fmt.Println("PartsIQ chat. Ask about parts, models, or manuals. Type /clear to reset, /quit to exit.")

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return
		case line == "/clear":
			session.Clear()
			fmt.Println("history cleared")
			continue
		}

		pq := partnlp.Parse(line)
		res, err := retriever.Retrieve(ctx, pq, 0, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, "retrieval failed:", err)
			continue
		}

		history := session.Window(rag.HistoryWindow)
		resp := builder.RespondStream(ctx, pq, res, history, func(token string) error {
			fmt.Print(token)
			return nil
		})
		fmt.Println()

		if len(resp.PDFURLs) > 0 {
			fmt.Println("\nManuals:")
			for _, u := range resp.PDFURLs {
				fmt.Println("  -", u)
			}
		}
		fmt.Println()

		session.Append(domain.Turn{Role: domain.RoleUser, Content: line})
		session.Append(domain.Turn{Role: domain.RoleAssistant, Content: resp.Text, PDFURLs: resp.PDFURLs})
	}
}
