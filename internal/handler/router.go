package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/info"
	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/stream"
	"github.com/thutuc-assistant/rag-chat/backend/internal/handler/ws"
	middlewarePkg "github.com/thutuc-assistant/rag-chat/backend/internal/middleware"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/system"
	chatService "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/pkg/utils"
)

// Deps are the services the HTTP surface reads from. Pipeline may be nil
// when no model is configured; answering routes then report 503.
type Deps struct {
	AllowedOrigins []string
	Chat           *chatService.Service
	Pipeline       *rag.Pipeline
	Info           func() system.Info
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.With(zap.String("module", "http"))))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(deps.Chat, deps.Pipeline, logger).RegisterRoutes(api)
		stream.New(deps.Pipeline, deps.Chat, logger.With(zap.String("module", "sse"))).RegisterRoutes(api)
		ws.New(deps.Pipeline, deps.Chat, logger.With(zap.String("module", "websocket"))).RegisterRoutes(api)
		if deps.Info != nil {
			info.New(deps.Info).RegisterRoutes(api)
		}
	})

	return r
}
