package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/integrations/paramstore"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/system"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/ai"
	chatService "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/retrieval"
)

// Container holds the services shared by the HTTP server and the terminal
// client. Pipeline is nil when no chat model could be built; Store is nil
// when the index could not be opened, in which case every turn reports the
// retrieval failure inline.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Chat     *chatService.Service
	Store    *retrieval.Store
	AI       *ai.Service
	Pipeline *rag.Pipeline
}

// New wires every service from cfg. Only configuration errors are fatal;
// unavailable backends degrade as documented on Container.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ResolveSecrets(ctx, cfg, secretSource(ctx, cfg, logger)); err != nil {
		return nil, err
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Chat:   chatService.NewService(cfg.Session.TTL, cfg.RAG.TopK),
	}

	store, err := OpenStore(cfg.RAG, logger)
	if err != nil {
		logger.Error("vector index unavailable, answers will report retrieval errors", zap.Error(err))
	} else {
		c.Store = store
	}

	if !cfg.AI.Enabled() {
		logger.Warn("Ark credentials not configured, answering disabled")
		return c, nil
	}

	aiSvc, err := ai.NewService(ctx, cfg.AI, logger)
	if err != nil {
		logger.Warn("failed to initialize AI service, continuing without answering", zap.Error(err))
		return c, nil
	}
	c.AI = aiSvc
	c.Pipeline = rag.New(c.Chat, c.Store, aiSvc,
		rag.WithEmptyContextPolicy(cfg.RAG.EmptyContextPolicy),
		rag.WithLogger(logger),
	)

	logger.Info("pipeline ready",
		zap.String("model", cfg.AI.Model),
		zap.String("collection", cfg.RAG.Collection),
		zap.Bool("streaming", aiSvc.StreamingEnabled()),
		zap.String("empty_context_policy", cfg.RAG.EmptyContextPolicy),
	)
	return c, nil
}

// OpenStore opens the configured collection with its embedding function.
func OpenStore(cfg config.RAGConfig, logger *zap.Logger) (*retrieval.Store, error) {
	embed, err := retrieval.NewEmbeddingFunc(cfg)
	if err != nil {
		return nil, err
	}
	return retrieval.Open(cfg, embed, logger)
}

// ResolveSecrets fills the Ark API key from Parameter Store when only the
// parameter name is configured.
func ResolveSecrets(ctx context.Context, cfg *config.Config, src paramstore.SecretSource) error {
	key, err := paramstore.ResolveSecret(ctx, src, cfg.AI.APIKey, cfg.AI.APIKeyParam)
	if err != nil {
		return fmt.Errorf("resolve ARK_API_KEY_PARAM: %w", err)
	}
	cfg.AI.APIKey = key
	return nil
}

func secretSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) paramstore.SecretSource {
	if cfg.AI.APIKey != "" || cfg.AI.APIKeyParam == "" {
		return nil
	}
	client, err := paramstore.Load(ctx)
	if err != nil {
		logger.Warn("parameter store unavailable", zap.Error(err))
		return nil
	}
	return client
}

// Info reports the state shown by /api/info and the terminal /info command.
func (c *Container) Info() system.Info {
	info := system.Info{
		Collection:         c.Config.RAG.Collection,
		Chunks:             c.Store.Count(),
		LLMModel:           c.Config.AI.Model,
		EmbeddingProvider:  c.Config.RAG.EmbeddingProvider,
		EmbeddingModel:     c.Config.RAG.EmbeddingModel,
		DefaultTopK:        c.Config.RAG.TopK,
		EmptyContextPolicy: c.Config.RAG.EmptyContextPolicy,
		ActiveSessions:     c.Chat.Count(),
	}
	if c.AI != nil {
		info.Streaming = c.AI.StreamingEnabled()
	}
	return info
}
