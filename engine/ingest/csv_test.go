package ingest

import (
	"strings"
	"testing"
)

const sampleCSV = `Model,Parts Town #,Part,Manufacture #,PDF Link 1,PDF Link 2,Voltage & Phase
TR-150,PT100,Blower motor,MFR100,https://example.com/a.pdf,,208/230V
TR-150,PT200,Fan blade,nan,https://example.com/a.pdf,https://example.com/b.pdf,
TR-200,,Door gasket,MFR300,,,
`

func TestReadCatalog(t *testing.T) {
	rows, err := ReadCatalog(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Model != "TR-150" || first.PartsTownNumber != "PT100" {
		t.Fatalf("unexpected core fields: %+v", first)
	}
	if first.Description != "Blower motor" {
		t.Errorf("expected description, got %q", first.Description)
	}
	if first.ManufacturerNumber != "MFR100" {
		t.Errorf("expected manufacturer number, got %q", first.ManufacturerNumber)
	}
	if len(first.PDFURLs) != 1 || first.PDFURLs[0] != "https://example.com/a.pdf" {
		t.Errorf("unexpected pdf urls: %v", first.PDFURLs)
	}
	if first.Extra["Voltage_and_Phase"] != "208/230V" {
		t.Errorf("extension column not captured: %v", first.Extra)
	}
}

func TestReadCatalog_NanBecomesEmpty(t *testing.T) {
	rows, err := ReadCatalog(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if rows[1].ManufacturerNumber != "" {
		t.Fatalf("nan should clean to empty, got %q", rows[1].ManufacturerNumber)
	}
	if len(rows[1].PDFURLs) != 2 {
		t.Fatalf("expected both pdf columns, got %v", rows[1].PDFURLs)
	}
}

func TestReadCatalog_MissingPartsTownNumber(t *testing.T) {
	rows, err := ReadCatalog(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if rows[2].PartsTownNumber != "" || rows[2].Description != "Door gasket" {
		t.Fatalf("unexpected fallback row: %+v", rows[2])
	}
}

func TestSanitizeColumn(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Parts Town #", "Parts_Town_number"},
		{"Voltage & Phase", "Voltage_and_Phase"},
		{"In/Out", "In_Out"},
		{" Trimmed ", "Trimmed"},
	}
	for _, tt := range tests {
		if got := sanitizeColumn(tt.input); got != tt.want {
			t.Errorf("sanitizeColumn(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIsPDFColumn(t *testing.T) {
	tests := []struct {
		col  string
		want bool
	}{
		{"PDF Link 1", true},
		{"Manual PDF", true},
		{"Model", false},
		{"pdf link", false},
	}
	for _, tt := range tests {
		if got := isPDFColumn(tt.col); got != tt.want {
			t.Errorf("isPDFColumn(%q) = %v, want %v", tt.col, got, tt.want)
		}
	}
}
