package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/system"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
)

type fakeSessions struct {
	created int
	topK    int
}

func (f *fakeSessions) CreateSession(_ context.Context, topK int) (chat.Session, error) {
	f.created++
	return chat.Session{ID: "session-new", TopK: topK}, nil
}

func (f *fakeSessions) UpdateTopK(_ context.Context, sessionID string, topK int) (chat.Session, error) {
	f.topK = topK
	return chat.Session{ID: sessionID, TopK: topK}, nil
}

type scriptedRunner struct {
	fragments []string
	turn      chat.Turn
	err       error
	// block makes HandleTurn wait for cancellation after the fragments.
	block bool
}

func (r *scriptedRunner) HandleTurn(ctx context.Context, sessionID, question string, surface rag.Surface) (chat.Turn, error) {
	if r.err != nil && r.turn.Role == "" {
		return chat.Turn{}, r.err
	}
	var buffer string
	for _, f := range r.fragments {
		buffer += f
		if err := surface.Render(rag.Frame{Fragment: f, Buffer: buffer}); err != nil {
			return chat.Turn{SessionID: sessionID, Role: chat.RoleAssistant, Content: buffer, Status: chat.StatusInterrupted}, nil
		}
	}
	if r.block {
		<-ctx.Done()
		return chat.Turn{SessionID: sessionID, Role: chat.RoleAssistant, Content: buffer, Status: chat.StatusInterrupted}, nil
	}
	turn := r.turn
	turn.SessionID = sessionID
	_ = surface.Render(rag.Frame{Buffer: turn.Content, Final: true, Status: turn.Status, Turn: &turn})
	return turn, r.err
}

func newTestModel(runner TurnRunner) (Model, *fakeSessions) {
	sessions := &fakeSessions{}
	info := func() system.Info {
		return system.Info{Collection: "thutuc", Chunks: 42, LLMModel: "test-model", Streaming: true, EmptyContextPolicy: "refuse"}
	}
	m := New(context.Background(), sessions, runner, info, chat.Session{ID: "session-0123456789", TopK: chat.DefaultTopK})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return updated.(Model), sessions
}

func submit(m Model, line string) (Model, tea.Cmd) {
	m.input.SetValue(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

// drain feeds command results back into the model until the turn settles.
func drain(t *testing.T, m Model, cmd tea.Cmd) (Model, []string) {
	t.Helper()
	var renders []string
	deadline := time.After(2 * time.Second)
	for cmd != nil {
		msgCh := make(chan tea.Msg, 1)
		go func(c tea.Cmd) { msgCh <- c() }(cmd)
		var msg tea.Msg
		select {
		case msg = <-msgCh:
		case <-deadline:
			t.Fatal("turn did not finish")
		}
		if msg == nil {
			break
		}
		updated, next := m.Update(msg)
		m = updated.(Model)
		cmd = next
		if _, ok := msg.(frameMsg); ok {
			renders = append(renders, m.pending)
		}
	}
	return m, renders
}

func TestStreamingTurnShowsCursorUntilFinal(t *testing.T) {
	runner := &scriptedRunner{
		fragments: []string{"Bạn cần ", "nộp tờ khai."},
		turn: chat.Turn{
			Role:    chat.RoleAssistant,
			Content: "Bạn cần nộp tờ khai.",
			Status:  chat.StatusComplete,
			Sources: []chat.Source{{Label: "Hộ tịch > Khai sinh", URL: "https://dichvucong.gov.vn/1", Distance: 0.125}},
		},
	}
	m, _ := newTestModel(runner)

	m, cmd := submit(m, "Đăng ký khai sinh cần gì?")
	require.True(t, m.streaming)
	m, renders := drain(t, m, cmd)

	require.Equal(t, []string{"Bạn cần " + Cursor, "Bạn cần nộp tờ khai." + Cursor, "Bạn cần nộp tờ khai."}, renders)
	assert.False(t, m.streaming)
	assert.Empty(t, m.pending)
	require.Len(t, m.transcript, 2)
	assert.Equal(t, chat.RoleUser, m.transcript[0].Role)
	assert.Equal(t, chat.StatusComplete, m.transcript[1].Status)

	out := m.renderTranscript()
	assert.Contains(t, out, "Đăng ký khai sinh cần gì?")
	assert.Contains(t, out, "Bạn cần nộp tờ khai.")
	assert.Contains(t, out, "Hộ tịch > Khai sinh")
	assert.Contains(t, out, "d=0.125")
	assert.NotContains(t, out, Cursor)
}

func TestCtrlCInterruptsStreamingTurn(t *testing.T) {
	runner := &scriptedRunner{fragments: []string{"Một phần"}, block: true}
	m, _ := newTestModel(runner)

	m, cmd := submit(m, "Hỏi dài")
	msg := cmd()
	updated, cmd := m.Update(msg)
	m = updated.(Model)
	require.Equal(t, "Một phần"+Cursor, m.pending)

	updated, quit := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(Model)
	assert.Nil(t, quit)

	m, _ = drain(t, m, cmd)
	require.Len(t, m.transcript, 2)
	assert.Equal(t, chat.StatusInterrupted, m.transcript[1].Status)
	assert.Equal(t, "Một phần", m.transcript[1].Content)
	assert.Equal(t, "Đã dừng câu trả lời.", m.status)
}

func TestRejectedQuestionIsRemovedFromTranscript(t *testing.T) {
	m, _ := newTestModel(&scriptedRunner{err: errors.New("turn already in progress")})

	m, cmd := submit(m, "Hỏi")
	m, _ = drain(t, m, cmd)

	assert.Empty(t, m.transcript)
	assert.Contains(t, m.status, "turn already in progress")
}

func TestEnterIgnoredWhileStreaming(t *testing.T) {
	m, _ := newTestModel(&scriptedRunner{block: true})

	m, cmd := submit(m, "Câu một")
	m, second := submit(m, "Câu hai")
	assert.Nil(t, second)
	assert.Equal(t, "Câu hai", m.input.Value())
	assert.Len(t, m.transcript, 1)

	m.cancel()
	drain(t, m, cmd)
}

func TestCommands(t *testing.T) {
	m, sessions := newTestModel(&scriptedRunner{})

	m, _ = submit(m, "/topk 7")
	assert.Equal(t, 7, sessions.topK)
	assert.Equal(t, 7, m.session.TopK)

	m, _ = submit(m, "/topk 11")
	assert.Equal(t, 7, m.session.TopK)
	assert.Contains(t, m.status, "1-10")

	m, _ = submit(m, "/topk x")
	assert.Equal(t, 7, m.session.TopK)

	m.transcript = []chat.Turn{{Role: chat.RoleUser, Content: "cũ"}}
	m, _ = submit(m, "/new")
	assert.Equal(t, 1, sessions.created)
	assert.Equal(t, "session-new", m.session.ID)
	assert.Equal(t, 7, m.session.TopK)
	assert.Empty(t, m.transcript)

	m, _ = submit(m, "/info")
	assert.Contains(t, m.status, "collection=thutuc")
	assert.Contains(t, m.status, "chunks=42")

	m, _ = submit(m, "/bogus")
	assert.Contains(t, m.status, "/bogus")
}

func TestAskWithoutRunner(t *testing.T) {
	m, _ := newTestModel(nil)

	m, cmd := submit(m, "Hỏi")
	assert.Nil(t, cmd)
	assert.Empty(t, m.transcript)
	assert.Contains(t, m.status, "Chưa cấu hình")
}

func TestViewBeforeResize(t *testing.T) {
	m := New(context.Background(), &fakeSessions{}, nil, nil, chat.Session{ID: "s"})
	assert.Equal(t, "Loading...", m.View())

	ready, _ := newTestModel(nil)
	assert.Contains(t, ready.View(), "Trợ lý thủ tục hành chính")
	assert.Contains(t, ready.View(), "top-k 3")
}
