package rag

import (
	"strings"
	"testing"

	"github.com/PartsIQ/partsiq-mvp/pkg/partnlp"
)

func TestIsPDFDetailQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"show me the installation steps", true},
		{"what are the specifications for PT100", true},
		{"troubleshooting guide for the fan", true},
		{"how do I repair this", true},
		{"what models use this part", false},
		{"respect the schedule", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isPDFDetailQuery(tt.query); got != tt.want {
			t.Errorf("isPDFDetailQuery(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestSystemPrompt_IntentScope(t *testing.T) {
	part := SystemPrompt("tell me about PT100", partnlp.IntentPart)
	if !strings.Contains(part, "Do not present model information") {
		t.Fatalf("part scope missing:\n%s", part)
	}

	model := SystemPrompt("tell me about TR-150", partnlp.IntentModel)
	if !strings.Contains(model, "Do not present part details or manual excerpts") {
		t.Fatalf("model scope missing:\n%s", model)
	}

	general := SystemPrompt("hello", partnlp.IntentGeneral)
	if !strings.Contains(general, "whatever sections of the context best answer") {
		t.Fatalf("general scope missing:\n%s", general)
	}
}

func TestSystemPrompt_PDFDetailRule(t *testing.T) {
	withRule := SystemPrompt("installation instructions for PT100", partnlp.IntentPart)
	if !strings.Contains(withRule, "page-numbered headings") {
		t.Fatalf("pdf detail rule missing:\n%s", withRule)
	}

	without := SystemPrompt("what is PT100", partnlp.IntentPart)
	if strings.Contains(without, "page-numbered headings") {
		t.Fatal("pdf detail rule present without detail phrasing")
	}
}

func TestSystemPrompt_GroundingContract(t *testing.T) {
	got := SystemPrompt("anything", partnlp.IntentGeneral)
	if !strings.Contains(got, "MUST NOT introduce any fact") {
		t.Fatalf("grounding rule missing:\n%s", got)
	}
}
