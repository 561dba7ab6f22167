package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
)

type fakeChatModel struct {
	reply     string
	fragments []string
	err       error
	inputs    [][]*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*schema.Message, len(m.fragments))
	for i, f := range m.fragments {
		msgs[i] = schema.AssistantMessage(f, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *fakeChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func newTestService(t *testing.T, fake *fakeChatModel, stream bool) *Service {
	t.Helper()
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{Model: "test-model", StreamResponse: stream}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestGenerateResponseSendsSinglePrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "Có, giấy khai sinh điện tử."}
	svc := newTestService(t, fake, false)

	prompt := BuildPrompt(nil, "Giấy khai sinh có cấp bản điện tử không? {x}")
	msg, err := svc.GenerateResponse(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, "Có, giấy khai sinh điện tử.", msg.Content)

	require.Len(t, fake.inputs, 1)
	require.Len(t, fake.inputs[0], 1)
	assert.Equal(t, schema.User, fake.inputs[0][0].Role)
	assert.Equal(t, prompt, fake.inputs[0][0].Content)
}

func TestGenerateResponseWrapsModelError(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{err: errors.New("quota exceeded")}, false)

	_, err := svc.GenerateResponse(context.Background(), "q")
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestGenerateResponseRejectsEmptyReply(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{reply: "   "}, false)

	_, err := svc.GenerateResponse(context.Background(), "q")
	require.ErrorIs(t, err, ErrGenerationFailed)
}

func TestStreamResponseYieldsFragmentsInOrder(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{fragments: []string{"Xin ", "", "chào"}}, true)

	stream, err := svc.StreamResponse(context.Background(), "q")
	require.NoError(t, err)
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b.WriteString(chunk.Content)
	}
	assert.Equal(t, "Xin chào", b.String())
}

func TestStreamResponseDisabled(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{}, false)
	assert.False(t, svc.StreamingEnabled())
	assert.Equal(t, "test-model", svc.ModelName())

	_, err := svc.StreamResponse(context.Background(), "q")
	assert.Error(t, err)
}

func TestNewServiceWithoutCredentials(t *testing.T) {
	_, err := NewService(context.Background(), config.AIConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewServiceWithModelRequiresModel(t *testing.T) {
	_, err := NewServiceWithModel(context.Background(), nil, config.AIConfig{}, zap.NewNop())
	assert.Error(t, err)
}
