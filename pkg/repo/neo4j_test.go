package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type fakeResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *fakeResult) Next(_ context.Context) bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.idx-1] }

type runCall struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	calls   []runCall
	records []*neo4j.Record
	err     error
	closed  bool
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	f.calls = append(f.calls, runCall{cypher: cypher, params: params})
	if f.err != nil {
		return nil, f.err
	}
	return &fakeResult{records: f.records}, nil
}

func (f *fakeRunner) Close(_ context.Context) error {
	f.closed = true
	return nil
}

type widget struct {
	Name  string
	Price float64
}

func widgetProps(w widget) map[string]any {
	return map[string]any{"name": w.Name, "price": w.Price}
}

func widgetFromRecord(rec *neo4j.Record) (widget, error) {
	node, ok := rec.Values[0].(dbtype.Node)
	if !ok {
		return widget{}, fmt.Errorf("unexpected record shape")
	}
	w := widget{}
	if v, ok := node.Props["name"].(string); ok {
		w.Name = v
	}
	if v, ok := node.Props["price"].(float64); ok {
		w.Price = v
	}
	return w, nil
}

func widgetRecord(name string, price float64) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{dbtype.Node{Props: map[string]any{"name": name, "price": price}}},
	}
}

func repoWith(f *fakeRunner) *Neo4jRepo[widget, string] {
	r := NewNeo4jRepo[widget, string](
		nil,
		"Widget",
		widgetProps,
		widgetFromRecord,
		WithIDKey[widget, string]("name"),
	)
	r.newSession = func(_ context.Context) runner { return f }
	return r
}

func TestNewNeo4jRepoDefaults(t *testing.T) {
	r := NewNeo4jRepo[widget, string](nil, "Widget", widgetProps, widgetFromRecord)
	if r.idKey != "id" {
		t.Fatalf("expected default idKey=id, got %s", r.idKey)
	}
	r2 := NewNeo4jRepo[widget, string](nil, "Widget", widgetProps, widgetFromRecord,
		WithIDKey[widget, string]("name"))
	if r2.idKey != "name" {
		t.Fatalf("expected idKey=name, got %s", r2.idKey)
	}
}

func TestGetHit(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{widgetRecord("bolt", 2.5)}}
	r := repoWith(f)

	w, found, err := r.Get(context.Background(), "bolt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a hit")
	}
	if w.Name != "bolt" || w.Price != 2.5 {
		t.Fatalf("wrong entity: %+v", w)
	}
	if len(f.calls) != 1 || f.calls[0].params["id"] != "bolt" {
		t.Fatalf("wrong query call: %+v", f.calls)
	}
	if !strings.Contains(f.calls[0].cypher, "Widget {name: $id}") {
		t.Fatalf("cypher should match on the configured id key: %s", f.calls[0].cypher)
	}
	if !f.closed {
		t.Fatal("session should be closed")
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	f := &fakeRunner{}
	r := repoWith(f)

	_, found, err := r.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("miss should not be an error: %v", err)
	}
	if found {
		t.Fatal("expected a miss")
	}
}

func TestGetQueryError(t *testing.T) {
	f := &fakeRunner{err: errors.New("connection refused")}
	r := repoWith(f)

	_, _, err := r.Get(context.Background(), "bolt")
	if err == nil {
		t.Fatal("expected query error to propagate")
	}
}

func TestList(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{
		widgetRecord("bolt", 2.5),
		widgetRecord("nut", 1.0),
	}}
	r := repoWith(f)

	items, err := r.List(context.Background(), ListOpts{Offset: 10, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[1].Name != "nut" {
		t.Fatalf("wrong items: %+v", items)
	}
	params := f.calls[0].params
	if params["offset"] != 10 || params["limit"] != 2 {
		t.Fatalf("pagination params not passed: %+v", params)
	}
}

func TestListDefaultLimit(t *testing.T) {
	f := &fakeRunner{}
	r := repoWith(f)

	if _, err := r.List(context.Background(), ListOpts{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.calls[0].params["limit"] != 100 {
		t.Fatalf("expected default limit 100, got %v", f.calls[0].params["limit"])
	}
}

func TestCreate(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{widgetRecord("bolt", 2.5)}}
	r := repoWith(f)

	w, err := r.Create(context.Background(), widget{Name: "bolt", Price: 2.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Name != "bolt" {
		t.Fatalf("wrong entity returned: %+v", w)
	}
	props, ok := f.calls[0].params["props"].(map[string]any)
	if !ok || props["name"] != "bolt" {
		t.Fatalf("props not passed: %+v", f.calls[0].params)
	}
}

func TestCreateNoRowIsError(t *testing.T) {
	f := &fakeRunner{}
	r := repoWith(f)

	if _, err := r.Create(context.Background(), widget{Name: "bolt"}); err == nil {
		t.Fatal("expected error when create returns no row")
	}
}

func TestUpdate(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{widgetRecord("bolt", 3.0)}}
	r := repoWith(f)

	w, err := r.Update(context.Background(), widget{Name: "bolt", Price: 3.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Price != 3.0 {
		t.Fatalf("wrong entity: %+v", w)
	}
	if f.calls[0].params["id"] != "bolt" {
		t.Fatalf("update should match on id key value: %+v", f.calls[0].params)
	}
}

func TestUpdateNotFound(t *testing.T) {
	f := &fakeRunner{}
	r := repoWith(f)

	if _, err := r.Update(context.Background(), widget{Name: "ghost"}); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDelete(t *testing.T) {
	f := &fakeRunner{}
	r := repoWith(f)

	if err := r.Delete(context.Background(), "bolt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.calls[0].cypher, "DETACH DELETE") {
		t.Fatalf("delete should detach: %s", f.calls[0].cypher)
	}
	if f.calls[0].params["id"] != "bolt" {
		t.Fatalf("wrong delete param: %+v", f.calls[0].params)
	}
}
