package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/handler/session"
	"github.com/zhouzirui/z-tavern/rpg/internal/handler/stream"
	"github.com/zhouzirui/z-tavern/rpg/internal/handler/ws"
	"github.com/zhouzirui/z-tavern/rpg/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	aiService "github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	chatService "github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Store   storage.Store
	Chat    *chatService.Service
	AI      *aiService.Service
	Logger  *zap.Logger
	Metrics bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.ZapLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		// Browsers cannot set headers on websocket upgrades; the handler
		// resolves the user itself.
		ws.NewWebSocketHandler(deps.Chat, log).RegisterWebSocketRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireUser)

			character.New(deps.Store).RegisterRoutes(authed)
			session.New(deps.Chat, log).RegisterRoutes(authed)
			stream.New(deps.AI, log).RegisterRoutes(authed)
		})
	})

	return r
}
