package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/system"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
)

// Cursor is appended to the answer while it is still streaming.
const Cursor = "▌"

// SessionPort is the TUI-facing subset of the conversation store.
type SessionPort interface {
	CreateSession(ctx context.Context, topK int) (chat.Session, error)
	UpdateTopK(ctx context.Context, sessionID string, topK int) (chat.Session, error)
}

// TurnRunner answers one question and renders frames while it does.
type TurnRunner interface {
	HandleTurn(ctx context.Context, sessionID, question string, surface rag.Surface) (chat.Turn, error)
}

type frameMsg rag.Frame

type turnDoneMsg struct {
	turn chat.Turn
	err  error
}

// Model is the Bubble Tea model for the terminal chat client.
type Model struct {
	ctx      context.Context
	sessions SessionPort
	runner   TurnRunner
	info     func() system.Info

	session    chat.Session
	transcript []chat.Turn
	pending    string
	streaming  bool
	cancel     context.CancelFunc
	frames     <-chan tea.Msg

	input    textinput.Model
	viewport viewport.Model
	status   string
	ready    bool
}

// New creates a model bound to an existing session. runner may be nil when
// no chat model is configured; questions are then refused locally.
func New(ctx context.Context, sessions SessionPort, runner TurnRunner, info func() system.Info, session chat.Session) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Đặt câu hỏi về thủ tục hành chính, /topk N, /new, /info"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	status := "Sẵn sàng. Enter để gửi, Ctrl+C để dừng."
	if runner == nil {
		status = "Chưa cấu hình mô hình ngôn ngữ, không thể trả lời."
	}
	return Model{
		ctx:      ctx,
		sessions: sessions,
		runner:   runner,
		info:     info,
		session:  session,
		input:    ti,
		viewport: vp,
		status:   status,
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and turn events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + summary, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case frameMsg:
		if msg.Final {
			m.pending = msg.Buffer
		} else {
			m.pending = msg.Buffer + Cursor
		}
		m.refresh()
		return m, m.waitForTurn()

	case turnDoneMsg:
		m.finishTurn(msg)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.streaming {
				m.cancel()
				m.status = "Đang dừng câu trả lời..."
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming {
				m.cancel()
				m.status = "Đang dừng câu trả lời..."
			}
			return m, nil
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if m.streaming {
				m.status = "Vui lòng đợi câu trả lời hiện tại."
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(line, "/") {
				m.command(line)
				m.refresh()
				return m, nil
			}
			cmd := m.ask(line)
			m.refresh()
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the header, the transcript and the input line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Trợ lý thủ tục hành chính")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary())
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) ask(question string) tea.Cmd {
	if m.runner == nil {
		m.status = "Chưa cấu hình mô hình ngôn ngữ, không thể trả lời."
		return nil
	}

	m.transcript = append(m.transcript, chat.Turn{Role: chat.RoleUser, Content: question})
	m.pending = Cursor
	m.streaming = true
	m.status = "Đang tìm kiếm thông tin..."

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel

	frames := make(chan tea.Msg, 16)
	m.frames = frames
	runner, sessionID := m.runner, m.session.ID
	go func() {
		defer close(frames)
		surface := rag.SurfaceFunc(func(frame rag.Frame) error {
			select {
			case frames <- frameMsg(frame):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		turn, err := runner.HandleTurn(ctx, sessionID, question, surface)
		frames <- turnDoneMsg{turn: turn, err: err}
	}()
	return m.waitForTurn()
}

func (m Model) waitForTurn() tea.Cmd {
	frames := m.frames
	if frames == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-frames
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) finishTurn(done turnDoneMsg) {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.frames = nil
	m.streaming = false
	m.pending = ""

	if done.turn.Role == "" {
		// Rejected before the question was recorded.
		if n := len(m.transcript); n > 0 && m.transcript[n-1].Role == chat.RoleUser {
			m.transcript = m.transcript[:n-1]
		}
		m.status = "Lỗi: " + errorText(done.err)
		return
	}

	m.transcript = append(m.transcript, done.turn)
	switch {
	case done.err != nil:
		m.status = "Lỗi: " + done.err.Error()
	case done.turn.Status == chat.StatusInterrupted:
		m.status = "Đã dừng câu trả lời."
	default:
		m.status = fmt.Sprintf("Xong (%s).", done.turn.Status)
	}
}

func (m *Model) command(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/topk":
		if len(fields) != 2 {
			m.status = fmt.Sprintf("Cú pháp: /topk N (%d-%d)", chat.MinTopK, chat.MaxTopK)
			return
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil || k < chat.MinTopK || k > chat.MaxTopK {
			m.status = fmt.Sprintf("top-k phải nằm trong khoảng %d-%d", chat.MinTopK, chat.MaxTopK)
			return
		}
		session, err := m.sessions.UpdateTopK(m.ctx, m.session.ID, k)
		if err != nil {
			m.status = "Lỗi: " + err.Error()
			return
		}
		m.session = session
		m.status = fmt.Sprintf("Đã đặt top-k = %d", session.TopK)
	case "/new":
		session, err := m.sessions.CreateSession(m.ctx, m.session.TopK)
		if err != nil {
			m.status = "Lỗi: " + err.Error()
			return
		}
		m.session = session
		m.transcript = nil
		m.status = "Đã bắt đầu phiên mới."
	case "/info":
		if m.info == nil {
			m.status = "Không có thông tin hệ thống."
			return
		}
		info := m.info()
		m.status = fmt.Sprintf("collection=%s chunks=%d model=%s embedding=%s/%s streaming=%t policy=%s",
			info.Collection, info.Chunks, info.LLMModel, info.EmbeddingProvider, info.EmbeddingModel,
			info.Streaming, info.EmptyContextPolicy)
	default:
		m.status = "Lệnh không hợp lệ: " + fields[0]
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) summary() string {
	return fmt.Sprintf("session %s · top-k %d", shortID(m.session.ID), m.session.TopK)
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 && m.pending == "" {
		return "Chưa có câu hỏi nào."
	}

	var b strings.Builder
	for i, turn := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(renderTurn(turn))
	}
	if m.pending != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(assistantStyle.Render("Trợ lý:") + " " + m.pending)
	}
	return b.String()
}

func renderTurn(turn chat.Turn) string {
	if turn.Role == chat.RoleUser {
		return userStyle.Render("Bạn:") + " " + turn.Content
	}

	label := assistantStyle
	if turn.Status == chat.StatusFailed || turn.Status == chat.StatusInterrupted {
		label = errorStyle
	}
	out := label.Render("Trợ lý:") + " " + turn.Content
	for _, src := range turn.Sources {
		out += "\n" + sourceStyle.Render(fmt.Sprintf("  [%s] %s (d=%.3f)", src.Label, src.URL, src.Distance))
	}
	return out
}

func errorText(err error) string {
	if err == nil {
		return "không xác định"
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
