package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/httperr"
	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

func (h *Handler) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListWorlds(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var world character.World
	if err := utils.DecodeJSON(r, &world); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	world.ID = ""
	world.UserID = middleware.UserID(r.Context())
	if err := world.Validate(); err != nil {
		httperr.Respond(w, err)
		return
	}
	if err := h.store.CreateWorld(r.Context(), &world); err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, world)
}

func (h *Handler) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	world, err := h.store.GetWorld(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, world)
}

func (h *Handler) handleUpdateWorld(w http.ResponseWriter, r *http.Request) {
	var world character.World
	if err := utils.DecodeJSON(r, &world); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	world.ID = chi.URLParam(r, "id")
	world.UserID = middleware.UserID(r.Context())
	if err := world.Validate(); err != nil {
		httperr.Respond(w, err)
		return
	}
	if err := h.store.UpdateWorld(r.Context(), &world); err != nil {
		httperr.Respond(w, err)
		return
	}
	updated, err := h.store.GetWorld(r.Context(), world.UserID, world.ID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

// handleDeleteWorld 删除世界观，引用它的角色会被解绑
func (h *Handler) handleDeleteWorld(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteWorld(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
