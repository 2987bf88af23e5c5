package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Rows is the minimal result surface needed from a cypher query.
type Rows interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherSession runs parameterized cypher and must be closed after use.
type CypherSession interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Rows, error)
	Close(ctx context.Context) error
}

// SessionOpener opens a session per call. Tests substitute their own.
type SessionOpener func(ctx context.Context) CypherSession

// GraphStore provides part/model/manual graph operations.
type GraphStore struct {
	open SessionOpener
}

// New creates a GraphStore backed by a Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return NewWithOpener(func(ctx context.Context) CypherSession {
		return &driverSession{sess: driver.NewSession(ctx, neo4j.SessionConfig{})}
	})
}

// NewWithOpener creates a GraphStore with a custom session opener.
func NewWithOpener(open SessionOpener) *GraphStore {
	return &GraphStore{open: open}
}

// driverSession adapts neo4j.SessionWithContext to CypherSession.
type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (Rows, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

// partToProps flattens a Part into node properties. Extension columns get a
// prop_ prefix so reads can fold them back into Extra.
func partToProps(p Part) map[string]any {
	props := map[string]any{
		"name":                p.Name,
		"parts_town_number":   p.PartsTownNumber,
		"manufacturer_number": p.ManufacturerNumber,
		"description":         p.Description,
	}
	for k, v := range p.Extra {
		props["prop_"+k] = v
	}
	return props
}

// PartProps flattens a Part into node properties. Exported for generic
// repository wiring.
func PartProps(p Part) map[string]any { return partToProps(p) }

// PartFromRecord reads a Part back from a record whose first column is the
// part node.
func PartFromRecord(rec *neo4j.Record) (Part, error) {
	if len(rec.Values) == 0 {
		return Part{}, fmt.Errorf("graph: record has no columns")
	}
	node, ok := rec.Values[0].(dbtype.Node)
	if !ok {
		return Part{}, fmt.Errorf("graph: expected node, got %T", rec.Values[0])
	}
	p := Part{
		Name:               strProp(node.Props, "name"),
		PartsTownNumber:    strProp(node.Props, "parts_town_number"),
		ManufacturerNumber: strProp(node.Props, "manufacturer_number"),
		Description:        strProp(node.Props, "description"),
	}
	for k, v := range node.Props {
		if rest, found := strings.CutPrefix(k, "prop_"); found {
			if s, ok := v.(string); ok {
				if p.Extra == nil {
					p.Extra = make(map[string]string)
				}
				p.Extra[rest] = s
			}
		}
	}
	return p, nil
}

// SavePart creates or updates a part node keyed by name.
func (g *GraphStore) SavePart(ctx context.Context, p Part) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (p:Part {name: $name}) SET p += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"name":  p.Name,
		"props": partToProps(p),
	})
	return err
}

// SaveModel creates or updates a model node keyed by name.
func (g *GraphStore) SaveModel(ctx context.Context, m Model) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MERGE (m:Model {name: $name})`, map[string]any{"name": m.Name})
	return err
}

// SaveManual creates or updates a manual node keyed by URL.
func (g *GraphStore) SaveManual(ctx context.Context, m Manual) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MERGE (d:PDF {url: $url})`, map[string]any{"url": m.URL})
	return err
}

// LinkModelPart merges a HAS_PART edge from model to part.
func (g *GraphStore) LinkModelPart(ctx context.Context, modelName, partName string) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (m:Model {name: $model}), (p:Part {name: $part})
	           MERGE (m)-[:HAS_PART]->(p)`
	_, err := sess.Run(ctx, cypher, map[string]any{"model": modelName, "part": partName})
	return err
}

// LinkPartManual merges a HAS_MANUAL edge from part to manual.
func (g *GraphStore) LinkPartManual(ctx context.Context, partName, url string) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (p:Part {name: $part}), (d:PDF {url: $url})
	           MERGE (p)-[:HAS_MANUAL]->(d)`
	_, err := sess.Run(ctx, cypher, map[string]any{"part": partName, "url": url})
	return err
}

// PartByNumber looks up a part by its canonical number, falling back to the
// node name. A miss returns (zero, false, nil).
func (g *GraphStore) PartByNumber(ctx context.Context, number string) (PartView, bool, error) {
	cypher := `MATCH (p:Part)
	           WHERE p.parts_town_number = $number OR p.name = $number
	           OPTIONAL MATCH (m:Model)-[:HAS_PART]->(p)
	           OPTIONAL MATCH (p)-[:HAS_MANUAL]->(pdf:PDF)
	           RETURN p,
	                  collect(DISTINCT m.name) AS models,
	                  collect(DISTINCT pdf.url) AS pdf_urls
	           LIMIT 1`
	return g.onePart(ctx, cypher, map[string]any{"number": number})
}

// PartByManufacturerNumber looks up a part by manufacturer code. Two
// property spellings are accepted for tolerance of older ingests.
func (g *GraphStore) PartByManufacturerNumber(ctx context.Context, number string) (PartView, bool, error) {
	cypher := `MATCH (p:Part)
	           WHERE p.manufacturer_number = $number OR p.manufacture_number = $number
	           OPTIONAL MATCH (m:Model)-[:HAS_PART]->(p)
	           OPTIONAL MATCH (p)-[:HAS_MANUAL]->(pdf:PDF)
	           RETURN p,
	                  collect(DISTINCT m.name) AS models,
	                  collect(DISTINCT pdf.url) AS pdf_urls
	           LIMIT 1`
	return g.onePart(ctx, cypher, map[string]any{"number": number})
}

func (g *GraphStore) onePart(ctx context.Context, cypher string, params map[string]any) (PartView, bool, error) {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return PartView{}, false, err
	}
	if !result.Next(ctx) {
		return PartView{}, false, nil
	}
	return partViewFromRecord(result.Record()), true, nil
}

// ModelByName looks up a model and its linked part numbers, applying the
// part-list bound. A miss returns (zero, false, nil).
func (g *GraphStore) ModelByName(ctx context.Context, name string) (ModelView, bool, error) {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (m:Model {name: $name})
	           OPTIONAL MATCH (m)-[:HAS_PART]->(p:Part)
	           RETURN m, collect(DISTINCT p.parts_town_number) AS parts_town_numbers
	           LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return ModelView{}, false, err
	}
	if !result.Next(ctx) {
		return ModelView{}, false, nil
	}
	numbers := strsFromRecord(result.Record(), "parts_town_numbers")
	return boundModelParts(name, numbers), true, nil
}

// SearchPartsByKeywords finds parts whose description or name contains any
// keyword, case-insensitive, capped at 10.
func (g *GraphStore) SearchPartsByKeywords(ctx context.Context, keywords []string) ([]PartView, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (p:Part)
	           WHERE ANY(kw IN $keywords WHERE
	               toLower(p.description) CONTAINS toLower(kw) OR
	               toLower(p.name) CONTAINS toLower(kw))
	           OPTIONAL MATCH (m:Model)-[:HAS_PART]->(p)
	           OPTIONAL MATCH (p)-[:HAS_MANUAL]->(pdf:PDF)
	           RETURN p,
	                  collect(DISTINCT m.name) AS models,
	                  collect(DISTINCT pdf.url) AS pdf_urls
	           LIMIT 10`
	result, err := sess.Run(ctx, cypher, map[string]any{"keywords": keywords})
	if err != nil {
		return nil, err
	}
	var parts []PartView
	for result.Next(ctx) {
		parts = append(parts, partViewFromRecord(result.Record()))
	}
	return parts, nil
}

// SearchModelsByKeywords finds models whose name contains any keyword,
// case-insensitive, capped at 10.
func (g *GraphStore) SearchModelsByKeywords(ctx context.Context, keywords []string) ([]ModelView, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (m:Model)
	           WHERE ANY(kw IN $keywords WHERE toLower(m.name) CONTAINS toLower(kw))
	           OPTIONAL MATCH (m)-[:HAS_PART]->(p:Part)
	           RETURN m, collect(DISTINCT p.parts_town_number) AS parts_town_numbers
	           LIMIT 10`
	result, err := sess.Run(ctx, cypher, map[string]any{"keywords": keywords})
	if err != nil {
		return nil, err
	}
	var models []ModelView
	for result.Next(ctx) {
		rec := result.Record()
		name := ""
		if nodeVal, ok := rec.Get("m"); ok {
			if node, ok := nodeVal.(dbtype.Node); ok {
				name = strProp(node.Props, "name")
			}
		}
		numbers := strsFromRecord(rec, "parts_town_numbers")
		models = append(models, boundModelParts(name, numbers))
	}
	return models, nil
}

// ModelPartRelationships returns up to 20 HAS_PART edges for the model.
func (g *GraphStore) ModelPartRelationships(ctx context.Context, modelName string) ([]Relationship, error) {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (m:Model {name: $model})-[:HAS_PART]->(p:Part)
	           RETURN p.name AS part_name, p.parts_town_number AS parts_town_number
	           LIMIT 20`
	result, err := sess.Run(ctx, cypher, map[string]any{"model": modelName})
	if err != nil {
		return nil, err
	}
	var rels []Relationship
	for result.Next(ctx) {
		rec := result.Record()
		rels = append(rels, Relationship{
			Type:            "HAS_PART",
			From:            modelName,
			To:              strFromRecord(rec, "part_name"),
			PartsTownNumber: strFromRecord(rec, "parts_town_number"),
		})
	}
	return rels, nil
}

// PartsWithManuals returns the subset of the given part numbers that have
// at least one linked manual.
func (g *GraphStore) PartsWithManuals(ctx context.Context, numbers []string) ([]string, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (p:Part)-[:HAS_MANUAL]->(:PDF)
	           WHERE p.parts_town_number IN $numbers OR p.name IN $numbers
	           RETURN DISTINCT coalesce(p.parts_town_number, p.name) AS number`
	result, err := sess.Run(ctx, cypher, map[string]any{"numbers": numbers})
	if err != nil {
		return nil, err
	}
	var out []string
	for result.Next(ctx) {
		if n := strFromRecord(result.Record(), "number"); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// PartManualURLs returns the distinct manual URLs linked to any of the
// given part numbers.
func (g *GraphStore) PartManualURLs(ctx context.Context, numbers []string) ([]string, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (p:Part)-[:HAS_MANUAL]->(d:PDF)
	           WHERE p.parts_town_number IN $numbers OR p.name IN $numbers
	           RETURN DISTINCT d.url AS url`
	result, err := sess.Run(ctx, cypher, map[string]any{"numbers": numbers})
	if err != nil {
		return nil, err
	}
	var urls []string
	for result.Next(ctx) {
		if u := strFromRecord(result.Record(), "url"); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// ModelPartNumbers returns the distinct part numbers linked to any of the
// given models.
func (g *GraphStore) ModelPartNumbers(ctx context.Context, modelNames []string) ([]string, error) {
	if len(modelNames) == 0 {
		return nil, nil
	}
	sess := g.open(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (m:Model)-[:HAS_PART]->(p:Part)
	           WHERE m.name IN $models
	           RETURN DISTINCT p.parts_town_number AS number`
	result, err := sess.Run(ctx, cypher, map[string]any{"models": modelNames})
	if err != nil {
		return nil, err
	}
	var out []string
	for result.Next(ctx) {
		if n := strFromRecord(result.Record(), "number"); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// Stats returns total node/relationship counts plus per-label counts.
func (g *GraphStore) Stats(ctx context.Context) (Stats, error) {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	s := Stats{CountsByLabel: make(map[string]int64)}

	nodes, err := countQuery(ctx, sess, `MATCH (n) RETURN count(n) AS c`, nil)
	if err != nil {
		return Stats{}, err
	}
	s.TotalNodes = nodes

	rels, err := countQuery(ctx, sess, `MATCH ()-[r]->() RETURN count(r) AS c`, nil)
	if err != nil {
		return Stats{}, err
	}
	s.TotalRelationships = rels

	for _, label := range []string{"Part", "Model", "PDF"} {
		c, err := countQuery(ctx, sess, fmt.Sprintf(`MATCH (n:%s) RETURN count(n) AS c`, label), nil)
		if err != nil {
			return Stats{}, err
		}
		s.CountsByLabel[label] = c
	}
	return s, nil
}

// ClearAll removes every node and relationship.
func (g *GraphStore) ClearAll(ctx context.Context) error {
	sess := g.open(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
	return err
}

func countQuery(ctx context.Context, sess CypherSession, cypher string, params map[string]any) (int64, error) {
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, fmt.Errorf("count query returned no rows")
	}
	v, ok := result.Record().Get("c")
	if !ok {
		return 0, fmt.Errorf("count query missing column")
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("count query returned %T", v)
	}
	return n, nil
}

// partViewFromRecord builds a PartView from a (p, models, pdf_urls) record.
func partViewFromRecord(rec *neo4j.Record) PartView {
	view := PartView{Extra: make(map[string]string)}
	if nodeVal, ok := rec.Get("p"); ok {
		if node, ok := nodeVal.(dbtype.Node); ok {
			view.PartsTownNumber = strProp(node.Props, "parts_town_number")
			view.ManufacturerNumber = strProp(node.Props, "manufacturer_number")
			view.Description = strProp(node.Props, "description")
			for k, v := range node.Props {
				if strings.HasPrefix(k, "prop_") {
					if s, ok := v.(string); ok {
						view.Extra[k[len("prop_"):]] = s
					}
				}
			}
		}
	}
	view.Models = strsFromRecord(rec, "models")
	view.PDFURLs = strsFromRecord(rec, "pdf_urls")
	return view
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func strFromRecord(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// strsFromRecord reads a collected list column, dropping nulls and empties.
func strsFromRecord(rec *neo4j.Record, key string) []string {
	v, ok := rec.Get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
