package rag

import (
	"fmt"
	"strings"

	"github.com/PartsIQ/partsiq-mvp/engine/retrieve"
)

// BuildContext assembles the grounding context block from retrieval
// results. Sections with no data are omitted entirely; the returned text is
// the only factual source generation may draw on.
func BuildContext(res retrieve.Result, maxExcerpts int) string {
	if maxExcerpts <= 0 {
		maxExcerpts = 5
	}
	var b strings.Builder

	if len(res.Graph.Parts) > 0 {
		b.WriteString("## Part Information:\n")
		for _, p := range res.Graph.Parts {
			fmt.Fprintf(&b, "- Parts Town #: %s\n", orNA(p.PartsTownNumber))
			fmt.Fprintf(&b, "  Manufacturer #: %s\n", orNA(p.ManufacturerNumber))
			fmt.Fprintf(&b, "  Part Description: %s\n", orNA(p.Description))
			if len(p.Models) > 0 {
				fmt.Fprintf(&b, "  Used in Models: %s\n", strings.Join(p.Models, ", "))
			}
			if len(p.PDFURLs) > 0 {
				b.WriteString("  Manual Available: Yes\n")
				fmt.Fprintf(&b, "  PDF Manuals: %s\n", strings.Join(p.PDFURLs, ", "))
			} else {
				b.WriteString("  Manual Available: No\n")
			}
			b.WriteString("\n")
		}
	}

	if len(res.Graph.Models) > 0 {
		b.WriteString("## Model Information:\n")
		for _, m := range res.Graph.Models {
			fmt.Fprintf(&b, "- Model Name: %s\n", orNA(m.Name))
			if len(m.PartsTownNumbers) > 0 {
				fmt.Fprintf(&b, "  Parts Town #s: %s\n", strings.Join(m.PartsTownNumbers, ", "))
			}
			if !m.ShowAll && m.RemainingParts > 0 {
				fmt.Fprintf(&b, "  (%d more parts not listed; ask about specific parts)\n", m.RemainingParts)
			}
			b.WriteString("\n")
		}
	}

	if len(res.Chunks) > 0 {
		b.WriteString("## PDF Manual Excerpts:\n")
		excerpts := res.Chunks
		if len(excerpts) > maxExcerpts {
			excerpts = excerpts[:maxExcerpts]
		}
		for i, c := range excerpts {
			fmt.Fprintf(&b, "### Excerpt %d (Page %d):\n", i+1, c.PageNumber)
			b.WriteString(c.Text)
			b.WriteString("\n")
			fmt.Fprintf(&b, "Parts Town #: %s\n", orNA(c.PartsTownNumber))
			fmt.Fprintf(&b, "PDF URL: %s\n", orNA(c.PDFURL))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
