// Package domain defines core domain types, constants, and validation for
// the PartsIQ engine. It acts as the validation gate at pipeline entry
// points.
package domain

// CatalogRow is one row of an ingested parts catalog: the data contract
// between the CSV collaborator and the engine.
type CatalogRow struct {
	Model              string            `json:"model"`
	PartsTownNumber    string            `json:"parts_town_number"`
	Description        string            `json:"description"`
	ManufacturerNumber string            `json:"manufacturer_number,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
	PDFURLs            []string          `json:"pdf_urls,omitempty"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation turn: what was said and which manuals backed it.
type Turn struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	PDFURLs []string `json:"pdf_urls,omitempty"`
}
