package info

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/system"
	"github.com/thutuc-assistant/rag-chat/backend/pkg/utils"
)

// Handler 系统信息的HTTP处理器
type Handler struct {
	info func() system.Info
}

// New 创建系统信息处理器。info 在每次请求时调用，以反映最新的分块数与会话数。
func New(info func() system.Info) *Handler {
	return &Handler{
		info: info,
	}
}

// RegisterRoutes 注册系统信息相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/info", h.handleInfo)
}

// handleInfo 返回向量库与模型信息
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.info())
}
