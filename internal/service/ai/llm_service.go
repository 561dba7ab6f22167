package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/pkg/logger"
)

// ErrGenerationFailed covers every failure of the text-generation call:
// transport, auth, quota and empty or malformed responses.
var ErrGenerationFailed = errors.New("generation failed")

// Service wraps the chat model behind a single-prompt chain. No chat
// history is sent; every call is independent.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService creates the model from configuration and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig, log *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, log)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig, log *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
		logger:    logger.Module(log, "ai"),
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// ModelName returns the configured model identifier.
func (s *Service) ModelName() string {
	return s.cfg.Model
}

// GenerateResponse runs one blocking completion for the prompt.
func (s *Service) GenerateResponse(ctx context.Context, promptText string) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, chainInput(promptText))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	s.logger.Debug("generated response", zap.Int("length", len(response.Content)))
	return response, nil
}

// StreamResponse starts a single-pass fragment stream. Callers must Close
// the reader, including when they stop early.
func (s *Service) StreamResponse(ctx context.Context, promptText string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, chainInput(promptText))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return stream, nil
}

func chainInput(promptText string) map[string]any {
	return map[string]any{"prompt": promptText}
}
