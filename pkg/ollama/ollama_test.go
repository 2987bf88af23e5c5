package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	var gotPath string
	var gotReq ollamaEmbedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "mxbai-embed-large")
	vec, err := c.Embed(context.Background(), "door gasket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/embeddings" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	if gotReq.Model != "mxbai-embed-large" || gotReq.Prompt != "door gasket" {
		t.Fatalf("wrong request: %+v", gotReq)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Fatalf("wrong vector: %v", vec)
	}
}

func TestEmbedNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "m")
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestEmbedBatchOrderAndFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req ollamaEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{float64(len(req.Prompt))}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "m")

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 3 {
		t.Fatalf("wrong vectors: %v", vecs)
	}

	calls = 0
	if _, err := c.EmbedBatch(context.Background(), []string{"ok", "bad", "never"}); err == nil {
		t.Fatal("expected batch to fail on bad text")
	}
	if calls != 2 {
		t.Fatalf("batch should stop at first failure, got %d calls", calls)
	}
}

func TestChat(t *testing.T) {
	var gotReq ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"message":{"content":"The part number is PT100."},"done":true}`)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1")
	out, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "which part?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "The part number is PT100." {
		t.Fatalf("wrong text: %q", out)
	}
	if gotReq.Stream {
		t.Fatal("Chat should request stream=false")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Role != "user" {
		t.Fatalf("messages not passed: %+v", gotReq.Messages)
	}
	if temp, ok := gotReq.Options["temperature"].(float64); !ok || temp != 0 {
		t.Fatalf("temperature should be pinned to 0: %+v", gotReq.Options)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatReq
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("ChatStream should request stream=true")
		}
		fmt.Fprintln(w, `{"message":{"content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1")
	var tokens []string
	full, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "Hello world" {
		t.Fatalf("wrong full text: %q", full)
	}
	if len(tokens) != 2 || tokens[0] != "Hello" || tokens[1] != " world" {
		t.Fatalf("wrong tokens: %v", tokens)
	}
}

func TestChatStreamSkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1")
	full, err := c.ChatStream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "ok" {
		t.Fatalf("wrong full text: %q", full)
	}
}

func TestChatNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "llama3.1")
	if _, err := c.Chat(context.Background(), nil); err == nil {
		t.Fatal("expected error on 502")
	}
	if _, err := c.ChatStream(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error on 502")
	}
}
