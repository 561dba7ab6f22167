// Package httperr maps service errors onto HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	chatService "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/retrieval"
	"github.com/thutuc-assistant/rag-chat/backend/pkg/utils"
)

// Status picks the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, rag.ErrEmptyQuestion), errors.Is(err, chatService.ErrInvalidTurn):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body with the status Status picks.
func Respond(w http.ResponseWriter, err error) {
	utils.RespondError(w, Status(err), err.Error())
}
