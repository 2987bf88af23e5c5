// Package graph provides Neo4j knowledge graph operations for part and
// model catalog data.
package graph

// Part represents a catalog part node. Extension columns from the source
// table live in Extra and are stored as prop_-prefixed node properties.
type Part struct {
	Name               string            `json:"name"`
	PartsTownNumber    string            `json:"parts_town_number"`
	ManufacturerNumber string            `json:"manufacturer_number"`
	Description        string            `json:"description"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Model represents an equipment model node.
type Model struct {
	Name string `json:"name"`
}

// Manual represents a PDF manual node, keyed by source URL.
type Manual struct {
	URL string `json:"url"`
}

// PartView is the result of a part lookup: the node plus its linked model
// names and manual URLs. A part with no links returns empty slices.
type PartView struct {
	PartsTownNumber    string            `json:"parts_town_number"`
	ManufacturerNumber string            `json:"manufacturer_number"`
	Description        string            `json:"description"`
	Extra              map[string]string `json:"extra,omitempty"`
	Models             []string          `json:"models"`
	PDFURLs            []string          `json:"pdf_urls"`
}

// ModelView is the result of a model lookup. When the model links at most
// seven parts all of them are listed and ShowAll is set; otherwise only the
// first five appear and RemainingParts carries the overflow count.
type ModelView struct {
	Name             string   `json:"name"`
	PartsTownNumbers []string `json:"parts_town_numbers"`
	ShowAll          bool     `json:"show_all"`
	RemainingParts   int      `json:"remaining_parts"`
}

// Relationship is one model-to-part edge surfaced for display.
type Relationship struct {
	Type            string `json:"type"`
	From            string `json:"from"`
	To              string `json:"to"`
	PartsTownNumber string `json:"parts_town_number"`
}

// Stats summarizes graph contents.
type Stats struct {
	TotalNodes         int64            `json:"total_nodes"`
	TotalRelationships int64            `json:"total_relationships"`
	CountsByLabel      map[string]int64 `json:"counts_by_label"`
}

const (
	maxInlineParts  = 7
	boundedPartsLen = 5
)

// boundModelParts applies the part-list bound: at most seven parts are
// shown in full, larger models show five plus a remainder count.
func boundModelParts(name string, numbers []string) ModelView {
	if len(numbers) <= maxInlineParts {
		return ModelView{Name: name, PartsTownNumbers: numbers, ShowAll: true}
	}
	return ModelView{
		Name:             name,
		PartsTownNumbers: numbers[:boundedPartsLen],
		RemainingParts:   len(numbers) - boundedPartsLen,
	}
}
