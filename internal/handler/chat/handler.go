package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/httperr"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	chatService "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/pkg/utils"
)

// Handler 会话与问答的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	pipeline *rag.Pipeline
	logger   *zap.Logger
}

// New 创建聊天处理器。pipeline 为空时 /ask 返回 503。
func New(chatSvc *chatService.Service, pipeline *rag.Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:  chatSvc,
		pipeline: pipeline,
		logger:   logger,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Patch("/session/{sessionID}", h.handleUpdateSession)
	r.Delete("/session/{sessionID}", h.handleEndSession)
	r.Post("/ask", h.handleAsk)
}

type sessionPayload struct {
	TopK int `json:"topK"`
}

type transcriptResponse struct {
	Session chat.Session `json:"session"`
	Turns   []chat.Turn  `json:"turns"`
}

// handleCreateSession 创建会话，请求体可为空
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload sessionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.TopK)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	h.logger.Info("session created", zap.String("session", session.ID), zap.Int("top_k", session.TopK))
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 返回会话及完整对话记录
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	turns, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcriptResponse{Session: session, Turns: turns})
}

// handleUpdateSession 调整检索条数
func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var payload sessionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TopK < chat.MinTopK || payload.TopK > chat.MaxTopK {
		utils.RespondError(w, http.StatusBadRequest, "topK must be within [1,10]")
		return
	}

	session, err := h.chatSvc.UpdateTopK(r.Context(), chi.URLParam(r, "sessionID"), payload.TopK)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

// handleEndSession 结束会话并丢弃记录
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.EndSession(r.Context(), sessionID); err != nil {
		httperr.Respond(w, err)
		return
	}

	h.logger.Info("session ended", zap.String("session", sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// handleAsk 同步问答，返回最终的助手回复
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "answering unavailable")
		return
	}

	var payload struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	turn, err := h.pipeline.HandleTurn(r.Context(), payload.SessionID, payload.Message, rag.Discard)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, turn)
}
