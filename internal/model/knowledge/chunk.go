package knowledge

// Chunk is a read-only retrieval hit. It only lives for the duration of
// one prompt build.
type Chunk struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	SourceLabel string  `json:"sourceLabel"`
	SourceURL   string  `json:"sourceUrl"`
	Distance    float64 `json:"distance"`
}

// Document is one ingestion record of the procedures corpus.
type Document struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Hierarchy  string `json:"hierarchy"`
	URL        string `json:"url"`
	SourceFile string `json:"source_file"`
}
