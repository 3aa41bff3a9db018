// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// Status returns the response status and user-facing text for err.
func Status(err error) (int, string) {
	var te *ai.TransportError
	var pe *chat.PersistenceError

	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusNoContent, ""
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, character.ErrNameRequired),
		errors.Is(err, chat.ErrCharacterRequired),
		errors.Is(err, chat.ErrMemoryRequired),
		errors.Is(err, ai.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ai.ErrNotConfigured):
		return http.StatusServiceUnavailable, "ai upstream not configured"
	case errors.As(err, &te):
		switch te.Category {
		case ai.CategoryRateLimit:
			return http.StatusTooManyRequests, te.Message()
		case ai.CategoryQuota:
			return http.StatusPaymentRequired, te.Message()
		default:
			return http.StatusInternalServerError, te.Message()
		}
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "Failed to send message"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Respond writes err as a JSON error response. Validation no-ops answer 204
// with no body.
func Respond(w http.ResponseWriter, err error) {
	status, message := Status(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	utils.RespondError(w, status, message)
}
