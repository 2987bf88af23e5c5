package ingest

import "context"

// Page is one page of extracted manual text.
type Page struct {
	Number int
	Text   string
}

// TextFetcher retrieves the text pages of a manual. The PDF download and
// extraction mechanics live behind this interface.
type TextFetcher interface {
	FetchPages(ctx context.Context, url string) ([]Page, error)
}

// ManualTask is one unique manual to process, with the part metadata its
// chunks will carry.
type ManualTask struct {
	URL                string
	PartsTownNumber    string
	ManufacturerNumber string
}

// FetchedManual is a manual task with its extracted pages.
type FetchedManual struct {
	ManualTask
	Pages []Page
}

// PageChunk is a text segment of one page, ready for embedding.
type PageChunk struct {
	Text       string
	PageNumber int
	ChunkIndex int
}

// ChunkedManual is a fetched manual split into embeddable chunks.
type ChunkedManual struct {
	ManualTask
	Chunks []PageChunk
}

// EmbeddedManual is a chunked manual with embeddings, index-aligned with
// Chunks.
type EmbeddedManual struct {
	ChunkedManual
	Embeddings [][]float32
}

// Stats summarizes one ingestion run.
type Stats struct {
	Models  int   `json:"models"`
	Parts   int   `json:"parts"`
	Manuals int   `json:"manuals"`
	Rows    int   `json:"rows"`
	Chunks  int   `json:"chunks"`
	Stored  int64 `json:"stored_chunks"`
}
