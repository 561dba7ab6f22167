package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/httperr"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	chatService "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/pkg/utils"
)

// Handler manages streaming answers via Server-Sent Events
type Handler struct {
	pipeline *rag.Pipeline
	chatSvc  *chatService.Service
	logger   *zap.Logger
}

// New creates a new stream handler
func New(pipeline *rag.Pipeline, chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline: pipeline,
		chatSvc:  chatSvc,
		logger:   logger,
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	SessionID string          `json:"sessionId,omitempty"`
	Content   string          `json:"content,omitempty"`
	Buffer    string          `json:"buffer,omitempty"`
	Status    chat.TurnStatus `json:"status,omitempty"`
	Turn      *chat.Turn      `json:"turn,omitempty"`
	Finished  bool            `json:"finished,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	if h.pipeline == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "answer streaming unavailable")
		return
	}
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		httperr.Respond(w, err)
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
		h.logger.Warn("stream request failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// HandleStreamRequest runs one turn and relays its frames as SSE events:
// start, delta per fragment, message for the final answer, then end.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	if err := utils.SendSSEEvent(w, flusher, "start", StreamResponse{SessionID: sessionID}); err != nil {
		return err
	}

	surface := &sseSurface{w: w, flusher: flusher, sessionID: sessionID}
	turn, err := h.pipeline.HandleTurn(ctx, sessionID, userMessage, surface)
	if err != nil {
		h.sendSSEError(w, flusher, sessionID, err)
		return err
	}
	if surface.err != nil {
		return fmt.Errorf("client went away: %w", surface.err)
	}

	h.logger.Info("stream completed", zap.String("session", sessionID), zap.String("status", string(turn.Status)))
	return utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		SessionID: sessionID,
		Status:    turn.Status,
		Finished:  true,
	})
}

func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, sessionID string, err error) {
	code := "internal"
	switch {
	case errors.Is(err, chatService.ErrTurnInProgress):
		code = "busy"
	case errors.Is(err, chatService.ErrSessionNotFound):
		code = "not_found"
	case errors.Is(err, rag.ErrEmptyQuestion):
		code = "invalid"
	}
	_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{
		"sessionId": sessionID,
		"code":      code,
		"error":     err.Error(),
	})
}

// sseSurface forwards pipeline frames to the response. The first failed
// write is kept and reported back so the pipeline stops streaming.
type sseSurface struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string
	err       error
}

func (s *sseSurface) Render(frame rag.Frame) error {
	if s.err != nil {
		return s.err
	}

	if frame.Final {
		s.err = utils.SendSSEEvent(s.w, s.flusher, "message", StreamResponse{
			SessionID: s.sessionID,
			Content:   frame.Buffer,
			Status:    frame.Status,
			Turn:      frame.Turn,
		})
		return s.err
	}

	s.err = utils.SendSSEEvent(s.w, s.flusher, "delta", StreamResponse{
		SessionID: s.sessionID,
		Content:   frame.Fragment,
		Buffer:    frame.Buffer,
	})
	return s.err
}
