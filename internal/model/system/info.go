package system

// Info describes the running assistant: which index answers questions and
// which models sit behind it.
type Info struct {
	Collection         string `json:"collection"`
	Chunks             int    `json:"chunks"`
	LLMModel           string `json:"llmModel"`
	EmbeddingProvider  string `json:"embeddingProvider"`
	EmbeddingModel     string `json:"embeddingModel"`
	DefaultTopK        int    `json:"defaultTopK"`
	Streaming          bool   `json:"streaming"`
	EmptyContextPolicy string `json:"emptyContextPolicy"`
	ActiveSessions     int    `json:"activeSessions"`
}
