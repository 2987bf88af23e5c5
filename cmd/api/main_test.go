package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
	"github.com/PartsIQ/partsiq-mvp/engine/graph"
	"github.com/PartsIQ/partsiq-mvp/engine/rag"
	"github.com/PartsIQ/partsiq-mvp/pkg/metrics"
	"github.com/PartsIQ/partsiq-mvp/pkg/repo"
)

type fakePartRepo struct {
	parts   map[string]graph.Part
	deleted []string
	err     error
}

func (f *fakePartRepo) Get(_ context.Context, id string) (graph.Part, bool, error) {
	if f.err != nil {
		return graph.Part{}, false, f.err
	}
	p, ok := f.parts[id]
	return p, ok, nil
}

func (f *fakePartRepo) List(_ context.Context, _ repo.ListOpts) ([]graph.Part, error) {
	return nil, f.err
}

func (f *fakePartRepo) Create(_ context.Context, p graph.Part) (graph.Part, error) {
	return p, f.err
}

func (f *fakePartRepo) Update(_ context.Context, p graph.Part) (graph.Part, error) {
	return p, f.err
}

func (f *fakePartRepo) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestApp(parts *fakePartRepo) *app {
	reg := metrics.New()
	return &app{
		session:      rag.NewSession(),
		parts:        parts,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		topK:         5,
		threshold:    0.3,
		chatRequests: reg.Counter("chat_requests_total", ""),
		chatErrors:   reg.Counter("chat_errors_total", ""),
		chatDuration: reg.Histogram("chat_duration_seconds", "", nil),
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	rec := httptest.NewRecorder()
	a.handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestChatEndpoint_InvalidJSON(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewBufferString("not json"))
	a.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatEndpoint_EmptyMessage(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewBufferString(`{"message":""}`))
	a.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionClear(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	a.remember("what is PT100?", rag.Response{Text: "A door gasket."})

	rec := httptest.NewRecorder()
	a.handleSessionClear(rec, httptest.NewRequest("POST", "/api/session/clear", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := a.session.Window(10); len(got) != 0 {
		t.Fatalf("session should be empty, got %d turns", len(got))
	}
}

func TestRememberKeepsManualURLs(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	a.remember("where is the gasket", rag.Response{
		Text:    "It is on page 4.",
		PDFURLs: []string{"https://x/a.pdf"},
	})

	turns := a.session.Window(10)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	last := turns[1]
	if last.Role != domain.RoleAssistant || last.Content != "It is on page 4." {
		t.Fatalf("unexpected assistant turn: %+v", last)
	}
	if len(last.PDFURLs) != 1 || last.PDFURLs[0] != "https://x/a.pdf" {
		t.Fatalf("manual urls not kept on the turn: %v", last.PDFURLs)
	}
}

func TestIngestWithoutQueue(t *testing.T) {
	a := newTestApp(&fakePartRepo{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/ingest", bytes.NewBufferString(`{"csv_path":"/data/catalog.csv"}`))
	a.handleIngest(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without NATS, got %d", rec.Code)
	}
}

func TestPartGet(t *testing.T) {
	parts := &fakePartRepo{parts: map[string]graph.Part{
		"PT100": {Name: "PT100", PartsTownNumber: "PT100", Description: "Door gasket"},
	}}
	a := newTestApp(parts)

	req := httptest.NewRequest("GET", "/api/parts/PT100", nil)
	req.SetPathValue("number", "PT100")
	rec := httptest.NewRecorder()
	a.handlePartGet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p graph.Part
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Description != "Door gasket" {
		t.Fatalf("wrong part: %+v", p)
	}
}

func TestPartGet_NotFound(t *testing.T) {
	a := newTestApp(&fakePartRepo{})

	req := httptest.NewRequest("GET", "/api/parts/GHOST", nil)
	req.SetPathValue("number", "GHOST")
	rec := httptest.NewRecorder()
	a.handlePartGet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPartGet_StoreError(t *testing.T) {
	a := newTestApp(&fakePartRepo{err: errors.New("neo4j down")})

	req := httptest.NewRequest("GET", "/api/parts/PT100", nil)
	req.SetPathValue("number", "PT100")
	rec := httptest.NewRecorder()
	a.handlePartGet(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPartDelete(t *testing.T) {
	parts := &fakePartRepo{}
	a := newTestApp(parts)

	req := httptest.NewRequest("DELETE", "/api/parts/PT100", nil)
	req.SetPathValue("number", "PT100")
	rec := httptest.NewRecorder()
	a.handlePartDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(parts.deleted) != 1 || parts.deleted[0] != "PT100" {
		t.Fatalf("wrong delete calls: %v", parts.deleted)
	}
}

func TestWriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	writeEvent(rec, "token", map[string]string{"token": "Hello"})

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: token\ndata: ") {
		t.Fatalf("wrong event framing: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("event must end with a blank line: %q", body)
	}
	if !strings.Contains(body, `{"token":"Hello"}`) {
		t.Fatalf("wrong payload: %q", body)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", cfg.CORSOrigin)
	}
	if cfg.Collection != "partsiq_manuals" {
		t.Fatalf("expected default collection partsiq_manuals, got %s", cfg.Collection)
	}
	if cfg.TopK != 5 {
		t.Fatalf("expected default top_k 5, got %d", cfg.TopK)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}

	t.Setenv("TEST_INT_VAR", "12")
	if v := envIntOr("TEST_INT_VAR", 5); v != 12 {
		t.Fatalf("expected 12, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "nope")
	if v := envIntOr("TEST_INT_BAD", 5); v != 5 {
		t.Fatalf("expected fallback 5, got %d", v)
	}

	t.Setenv("TEST_FLOAT_VAR", "0.7")
	if v := envFloatOr("TEST_FLOAT_VAR", 0.3); v != 0.7 {
		t.Fatalf("expected 0.7, got %f", v)
	}
}
