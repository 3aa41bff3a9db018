package stream

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/handler/httperr"
	aiService "github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// Completer opens a raw completion event stream.
type Completer interface {
	Complete(ctx context.Context, req aiService.CompletionRequest) (io.ReadCloser, error)
}

// Handler proxies completion requests and relays the upstream event stream
// unmodified.
type Handler struct {
	aiService Completer
	log       *zap.Logger
}

// New creates a new stream handler
func New(aiSvc Completer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{aiService: aiSvc, log: log.With(zap.String("component", "proxy"))}
}

// RegisterRoutes registers the proxy endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/completions", h.handleCompletion)
}

func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req aiService.CompletionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	body, err := h.aiService.Complete(r.Context(), req)
	if err != nil {
		h.log.Warn("completion failed", zap.Error(err))
		httperr.Respond(w, err)
		return
	}
	defer body.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n, err := io.Copy(flushWriter{w: w, f: flusher}, body)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("relay interrupted", zap.Int64("bytes", n), zap.Error(err))
	}
}

// flushWriter flushes after every write so chunks reach the client as they
// arrive.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
