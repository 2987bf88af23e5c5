package semantic

// ChunkRecord is one embedded span of manual text written at ingestion time.
type ChunkRecord struct {
	ID                 string    `json:"id"`
	Text               string    `json:"text"`
	PartsTownNumber    string    `json:"parts_town_number"`
	ManufacturerNumber string    `json:"manufacturer_number"`
	PDFURL             string    `json:"pdf_url"`
	PageNumber         int       `json:"page_number"`
	ChunkIndex         int       `json:"chunk_index"`
	Vector             []float32 `json:"-"`
}

// ChunkHit is a search result: the stored chunk plus its scores. Distance
// is the raw metric value (lower is closer); Similarity is the normalized
// 1/(1+distance) score.
type ChunkHit struct {
	ChunkRecord
	Distance   float32 `json:"distance"`
	Similarity float64 `json:"similarity"`
}
