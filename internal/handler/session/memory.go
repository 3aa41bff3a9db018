package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/httperr"
	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

func (h *Handler) handleListMemories(w http.ResponseWriter, r *http.Request) {
	list, err := h.chatSvc.ListMemories(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := h.chatSvc.AddMemory(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), payload.Content)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteMemory(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
