package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/knowledge"
	"github.com/thutuc-assistant/rag-chat/backend/internal/pkg/logger"
)

// ErrUnavailable reports that the index could not answer a query.
var ErrUnavailable = errors.New("retrieval unavailable")

// Metadata keys written at ingestion and read back on every query.
const (
	MetaHierarchy  = "hierarchy"
	MetaURL        = "url"
	MetaSourceFile = "source_file"
)

// Store answers nearest-neighbour queries against one chromem collection.
type Store struct {
	db          *chromem.DB
	collection  *chromem.Collection
	name        string
	maxDistance float64
	logger      *zap.Logger
}

// Open loads (or creates) the configured collection. An empty DBPath keeps
// the index in memory.
func Open(cfg config.RAGConfig, embed chromem.EmbeddingFunc, log *zap.Logger) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("%w: embedding function is required", ErrUnavailable)
	}

	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(cfg.DBPath) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.DBPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open vector db %s: %v", ErrUnavailable, cfg.DBPath, err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection %s: %v", ErrUnavailable, cfg.Collection, err)
	}

	store := &Store{
		db:          db,
		collection:  collection,
		name:        cfg.Collection,
		maxDistance: cfg.MaxDistance,
		logger:      logger.Module(log, "retrieval"),
	}
	store.logger.Info("collection ready",
		zap.String("collection", cfg.Collection),
		zap.String("path", cfg.DBPath),
		zap.Int("chunks", collection.Count()),
	)
	return store, nil
}

// Name returns the collection identifier.
func (s *Store) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Count returns the number of indexed chunks.
func (s *Store) Count() int {
	if s == nil || s.collection == nil {
		return 0
	}
	return s.collection.Count()
}

// Retrieve returns up to topK chunks ordered by rank, most relevant first.
// An empty collection yields an empty result, not an error.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]knowledge.Chunk, error) {
	if s == nil || s.collection == nil {
		return nil, fmt.Errorf("%w: index not initialised", ErrUnavailable)
	}
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}

	// chromem rejects nResults greater than the collection size.
	n := min(topK, s.collection.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrUnavailable, s.name, err)
	}

	chunks := make([]knowledge.Chunk, 0, len(results))
	for _, result := range results {
		distance := 1 - float64(result.Similarity)
		if s.maxDistance > 0 && distance > s.maxDistance {
			continue
		}
		chunks = append(chunks, knowledge.Chunk{
			ID:          result.ID,
			Text:        result.Content,
			SourceLabel: result.Metadata[MetaHierarchy],
			SourceURL:   result.Metadata[MetaURL],
			Distance:    distance,
		})
	}

	s.logger.Debug("query served",
		zap.Int("top_k", topK),
		zap.Int("hits", len(results)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// Index embeds and stores documents. Documents with an ID already present
// are overwritten.
func (s *Store) Index(ctx context.Context, docs []knowledge.Document, concurrency int) error {
	if len(docs) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	batch := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		metadata := map[string]string{}
		if doc.Hierarchy != "" {
			metadata[MetaHierarchy] = doc.Hierarchy
		}
		if doc.URL != "" {
			metadata[MetaURL] = doc.URL
		}
		if doc.SourceFile != "" {
			metadata[MetaSourceFile] = doc.SourceFile
		}
		batch = append(batch, chromem.Document{
			ID:       doc.ID,
			Metadata: metadata,
			Content:  doc.Content,
		})
	}

	if err := s.collection.AddDocuments(ctx, batch, concurrency); err != nil {
		return fmt.Errorf("%w: index %d documents: %v", ErrUnavailable, len(batch), err)
	}

	s.logger.Info("documents indexed", zap.Int("documents", len(batch)), zap.Int("chunks", s.collection.Count()))
	return nil
}
