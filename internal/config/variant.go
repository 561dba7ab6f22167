package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// variantFile 描述一个部署变体：不同变体只在集合名、向量模型与存储路径上有所区别。
type variantFile struct {
	Name string    `yaml:"name"`
	RAG  RAGConfig `yaml:"rag"`
}

// ApplyVariantFile 读取 YAML 变体文件，用其中非零字段覆盖 cfg。
func ApplyVariantFile(path string, cfg *RAGConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read variant file %s: %w", path, err)
	}

	var file variantFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse variant file %s: %w", path, err)
	}

	mergeRAG(cfg, file.RAG)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("variant %q: %w", file.Name, err)
	}
	return nil
}

func mergeRAG(dst *RAGConfig, src RAGConfig) {
	if src.Collection != "" {
		dst.Collection = src.Collection
	}
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.Compress {
		dst.Compress = true
	}
	if src.EmbeddingProvider != "" {
		dst.EmbeddingProvider = src.EmbeddingProvider
	}
	if src.EmbeddingModel != "" {
		dst.EmbeddingModel = src.EmbeddingModel
	}
	if src.OllamaBaseURL != "" {
		dst.OllamaBaseURL = src.OllamaBaseURL
	}
	if src.TopK != 0 {
		dst.TopK = src.TopK
	}
	if src.MaxDistance != 0 {
		dst.MaxDistance = src.MaxDistance
	}
	if src.EmptyContextPolicy != "" {
		dst.EmptyContextPolicy = src.EmptyContextPolicy
	}
	if src.DataFile != "" {
		dst.DataFile = src.DataFile
	}
}
