package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/PartsIQ/partsiq-mvp/engine/domain"
)

// sanitizeColumn converts a source column name to a property-safe name.
func sanitizeColumn(col string) string {
	r := strings.NewReplacer(" ", "_", "#", "number", "/", "_", "&", "and")
	return r.Replace(strings.TrimSpace(col))
}

// isPDFColumn reports whether a column carries manual links.
func isPDFColumn(col string) bool {
	return strings.HasPrefix(col, "PDF Link") || strings.Contains(col, "PDF")
}

// cleanValue trims a cell and treats placeholder blanks as empty.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "nan") || strings.EqualFold(v, "n/a") {
		return ""
	}
	return v
}

// ReadCatalog parses a parts catalog CSV into typed rows. The Model,
// "Parts Town #", Part (description), and manufacturer columns map to core
// fields; PDF columns collect into PDFURLs; everything else lands in Extra
// under sanitized names.
func ReadCatalog(r io.Reader) ([]domain.CatalogRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []domain.CatalogRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv row %d: %w", len(rows)+2, err)
		}

		row := domain.CatalogRow{Extra: make(map[string]string)}
		for i, col := range header {
			if i >= len(record) {
				break
			}
			val := cleanValue(record[i])
			switch {
			case col == "Model":
				row.Model = val
			case col == "Parts Town #":
				row.PartsTownNumber = val
			case col == "Part" || col == "Description":
				row.Description = val
			case col == "Manufacture #" || col == "Manufacturer #":
				row.ManufacturerNumber = val
			case isPDFColumn(col):
				if val != "" {
					row.PDFURLs = append(row.PDFURLs, val)
				}
			default:
				if val != "" {
					row.Extra[sanitizeColumn(col)] = val
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
