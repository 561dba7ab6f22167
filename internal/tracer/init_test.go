package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
)

func TestInitDisabledReturnsNoop(t *testing.T) {
	shutdown := Init(context.Background(), config.TraceConfig{Enabled: false}, zap.NewNop())
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}
