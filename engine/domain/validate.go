package domain

import (
	"net/url"
	"strings"
)

// ValidateCatalogRow checks a catalog row before graph ingestion. Rows
// without a model are skipped upstream; rows without any part key cannot
// be ingested at all.
func ValidateCatalogRow(row CatalogRow) error {
	if strings.TrimSpace(row.Model) == "" {
		return NewValidationError("model", row.Model, ErrMissingModel)
	}
	if strings.TrimSpace(row.PartsTownNumber) == "" && strings.TrimSpace(row.Description) == "" {
		return NewValidationError("parts_town_number", "", ErrMissingPartKey)
	}
	for _, u := range row.PDFURLs {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() {
			return NewValidationError("pdf_url", u, ErrBadManualURL)
		}
	}
	return nil
}

// PartKey returns the unique part identifier for a row: the Parts Town
// number, or the description as fallback when it is absent.
func PartKey(row CatalogRow) string {
	if key := strings.TrimSpace(row.PartsTownNumber); key != "" {
		return key
	}
	return strings.TrimSpace(row.Description)
}
