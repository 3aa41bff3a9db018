package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/httperr"
	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// Store is the persistence the handler needs.
type Store interface {
	storage.CharacterStore
	storage.WorldStore
}

// Handler 角色与世界观的HTTP处理器
type Handler struct {
	store Store
}

// New 创建角色处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册角色与世界观相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleListCharacters)
	r.Post("/characters", h.handleCreateCharacter)
	r.Get("/characters/{id}", h.handleGetCharacter)
	r.Put("/characters/{id}", h.handleUpdateCharacter)
	r.Delete("/characters/{id}", h.handleDeleteCharacter)

	r.Get("/worlds", h.handleListWorlds)
	r.Post("/worlds", h.handleCreateWorld)
	r.Get("/worlds/{id}", h.handleGetWorld)
	r.Put("/worlds/{id}", h.handleUpdateWorld)
	r.Delete("/worlds/{id}", h.handleDeleteWorld)
}

func (h *Handler) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListCharacters(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var c character.Character
	if err := utils.DecodeJSON(r, &c); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c.ID = ""
	c.UserID = middleware.UserID(r.Context())
	if err := c.Validate(); err != nil {
		httperr.Respond(w, err)
		return
	}
	if c.WorldID != "" && !h.worldExists(r, c.WorldID) {
		utils.RespondError(w, http.StatusBadRequest, "world not found")
		return
	}
	if err := h.store.CreateCharacter(r.Context(), &c); err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCharacter(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleUpdateCharacter(w http.ResponseWriter, r *http.Request) {
	var c character.Character
	if err := utils.DecodeJSON(r, &c); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c.ID = chi.URLParam(r, "id")
	c.UserID = middleware.UserID(r.Context())
	if err := c.Validate(); err != nil {
		httperr.Respond(w, err)
		return
	}
	if c.WorldID != "" && !h.worldExists(r, c.WorldID) {
		utils.RespondError(w, http.StatusBadRequest, "world not found")
		return
	}
	if err := h.store.UpdateCharacter(r.Context(), &c); err != nil {
		httperr.Respond(w, err)
		return
	}
	updated, err := h.store.GetCharacter(r.Context(), c.UserID, c.ID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteCharacter(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) worldExists(r *http.Request, id string) bool {
	_, err := h.store.GetWorld(r.Context(), middleware.UserID(r.Context()), id)
	return err == nil
}
