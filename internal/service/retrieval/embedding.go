package retrieval

import (
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
)

// NewEmbeddingFunc picks the embedding backend named in the config. The
// same function must be used for ingestion and querying.
func NewEmbeddingFunc(cfg config.RAGConfig) (chromem.EmbeddingFunc, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		return chromem.NewEmbeddingFuncOllama(cfg.EmbeddingModel, cfg.OllamaBaseURL), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedding provider")
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIAPIKey, chromem.EmbeddingModelOpenAI(cfg.EmbeddingModel)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
