package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
)

type fakeSecrets struct {
	value string
	err   error
}

func (f fakeSecrets) Secret(context.Context, string) (string, error) {
	return f.value, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		RAG: config.RAGConfig{
			Collection:         "dichvucong_rag",
			EmbeddingProvider:  "ollama",
			EmbeddingModel:     "bge-m3",
			TopK:               3,
			EmptyContextPolicy: config.PolicyRefuse,
		},
		Session: config.SessionConfig{TTL: time.Hour},
	}
}

func TestResolveSecretsFromParameterStore(t *testing.T) {
	cfg := testConfig()
	cfg.AI.APIKeyParam = "/thutuc/ark"

	require.NoError(t, ResolveSecrets(context.Background(), cfg, fakeSecrets{value: "secret"}))
	assert.Equal(t, "secret", cfg.AI.APIKey)
}

func TestResolveSecretsKeepsExplicitKey(t *testing.T) {
	cfg := testConfig()
	cfg.AI.APIKey = "explicit"
	cfg.AI.APIKeyParam = "/thutuc/ark"

	require.NoError(t, ResolveSecrets(context.Background(), cfg, fakeSecrets{err: errors.New("must not be called")}))
	assert.Equal(t, "explicit", cfg.AI.APIKey)
}

func TestResolveSecretsPropagatesFailure(t *testing.T) {
	cfg := testConfig()
	cfg.AI.APIKeyParam = "/thutuc/ark"

	err := ResolveSecrets(context.Background(), cfg, fakeSecrets{err: errors.New("AccessDenied")})
	require.ErrorContains(t, err, "AccessDenied")
}

func TestNewWithoutModelLeavesPipelineNil(t *testing.T) {
	c, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, c.Chat)
	assert.NotNil(t, c.Store)
	assert.Nil(t, c.AI)
	assert.Nil(t, c.Pipeline)

	_, err = c.Chat.CreateSession(context.Background(), 0)
	require.NoError(t, err)

	info := c.Info()
	assert.Equal(t, "dichvucong_rag", info.Collection)
	assert.Equal(t, 0, info.Chunks)
	assert.Equal(t, "bge-m3", info.EmbeddingModel)
	assert.Equal(t, 3, info.DefaultTopK)
	assert.Equal(t, 1, info.ActiveSessions)
	assert.False(t, info.Streaming)
}

func TestNewAppliesConfiguredTopKToSessions(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.TopK = 5

	c, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	session, err := c.Chat.CreateSession(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, session.TopK)
	assert.Equal(t, session.TopK, c.Info().DefaultTopK)
}

func TestOpenStoreRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig().RAG
	cfg.EmbeddingProvider = "sentence-transformers"

	_, err := OpenStore(cfg, zap.NewNop())
	assert.Error(t, err)
}
