package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	chatservice "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
)

const (
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	inboundBacklog     = 8
)

// Handler WebSocket问答处理器
type Handler struct {
	pipeline    *rag.Pipeline
	chatSvc     *chatservice.Service
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	readTimeout time.Duration
}

// New 创建WebSocket处理器
func New(pipeline *rag.Pipeline, chatSvc *chatservice.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline:    pipeline,
		chatSvc:     chatSvc,
		logger:      logger,
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 用户提问
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 会话配置
type ConfigMessage struct {
	TopK int `json:"topK"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接。读取在独立 goroutine 中进行，
// 问答进行时 pong 仍能续期读超时；连接断开会取消正在进行的一轮问答。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.pipeline == nil {
		http.Error(w, "answering unavailable", http.StatusServiceUnavailable)
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("session", sessionID))
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go pingLoop(ctx, conn, h.readTimeout*9/10)

	h.send(conn, "connected", sessionID, map[string]any{"topK": session.TopK})

	inbound := h.readLoop(ctx, cancel, conn, log)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if msg.SessionID != "" && msg.SessionID != sessionID {
				h.sendError(conn, "session mismatch")
				continue
			}
			h.handleMessage(ctx, conn, sessionID, &msg)
		}
	}
}

// readLoop 持续读取客户端消息，读失败时取消 ctx。
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *zap.Logger) <-chan inboundMessage {
	inbound := make(chan inboundMessage, inboundBacklog)
	go func() {
		defer close(inbound)
		defer cancel()
		for {
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("websocket read failed", zap.Error(err))
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(h.readTimeout))

			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return inbound
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, conn, sessionID, msg.Data)
	case "config":
		h.handleConfigMessage(ctx, conn, sessionID, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}

	surface := &wsSurface{conn: conn, sessionID: sessionID}
	if _, err := h.pipeline.HandleTurn(ctx, sessionID, text.Text, surface); err != nil {
		h.sendError(conn, err.Error())
	}
}

func (h *Handler) handleConfigMessage(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "invalid config payload")
		return
	}
	if cfg.TopK < chat.MinTopK || cfg.TopK > chat.MaxTopK {
		h.sendError(conn, "topK must be within [1,10]")
		return
	}

	session, err := h.chatSvc.UpdateTopK(ctx, sessionID, cfg.TopK)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	h.logger.Info("config applied", zap.String("session", sessionID), zap.Int("top_k", session.TopK))
	h.send(conn, "config", sessionID, map[string]any{"topK": session.TopK})
}

func (h *Handler) send(conn *websocket.Conn, kind, sessionID string, data any) {
	if err := writeMessage(conn, kind, sessionID, data); err != nil {
		h.logger.Debug("websocket write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *Handler) sendError(conn *websocket.Conn, message string) {
	h.send(conn, "error", "", map[string]string{"message": message})
}

func writeMessage(conn *websocket.Conn, kind, sessionID string, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// wsSurface turns pipeline frames into delta and answer messages.
type wsSurface struct {
	conn      *websocket.Conn
	sessionID string
}

func (s *wsSurface) Render(frame rag.Frame) error {
	if frame.Final {
		return writeMessage(s.conn, "answer", s.sessionID, map[string]any{
			"text":   frame.Buffer,
			"status": frame.Status,
			"turn":   frame.Turn,
		})
	}
	return writeMessage(s.conn, "delta", s.sessionID, map[string]any{
		"text":   frame.Fragment,
		"buffer": frame.Buffer,
	})
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用。
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
