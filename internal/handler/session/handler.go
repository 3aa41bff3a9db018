package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/httperr"
	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	chatService "github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// Handler 会话、消息、掷骰与记忆的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	log     *zap.Logger
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, log: log.With(zap.String("component", "session"))}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters/{id}/sessions", h.handleListSessions)
	r.Post("/characters/{id}/sessions", h.handleCreateSession)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Delete("/sessions/{id}", h.handleDeleteSession)
	r.Post("/sessions/{id}/messages", h.handleSendMessage)
	r.Post("/sessions/{id}/dice", h.handleRollDice)

	r.Get("/characters/{id}/memories", h.handleListMemories)
	r.Post("/characters/{id}/memories", h.handleAddMemory)
	r.Delete("/memories/{id}", h.handleDeleteMemory)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.chatSvc.ListSessions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := h.chatSvc.GetSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Text     string `json:"text"`
	SafeMode *bool  `json:"safeMode,omitempty"`
}

// handleSendMessage 发送消息并以SSE推送会话更新。
// 被忽略的请求（空消息、会话忙）返回 204。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	started := false
	sink := func(u chatService.Update) {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := utils.SendSSEEvent(w, flusher, string(u.Kind), u); err != nil {
			h.log.Debug("sse write failed", zap.String("session", sessionID), zap.Error(err))
		}
	}

	err := h.chatSvc.SendMessage(r.Context(), middleware.UserID(r.Context()), sessionID,
		payload.Text, chatService.SendOptions{SafeMode: payload.SafeMode}, sink)
	if err == nil || started {
		// Failures after the stream opened were already sent as an error event.
		return
	}
	if !errors.Is(err, chatService.ErrValidation) {
		h.log.Warn("send message failed", zap.String("session", sessionID), zap.Error(err))
	}
	httperr.Respond(w, err)
}

type diceRequest struct {
	Notation string `json:"notation"`
}

func (h *Handler) handleRollDice(w http.ResponseWriter, r *http.Request) {
	var payload diceRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.chatSvc.RollDice(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), payload.Notation, nil)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}
