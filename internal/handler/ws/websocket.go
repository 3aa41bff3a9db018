package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	chatservice "github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler WebSocket会话处理器，推送与SSE相同的会话更新
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		log:     log.With(zap.String("component", "websocket")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由。浏览器无法设置请求头，
// 因此用户id也可以通过 userId 查询参数传递。
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Notation string `json:"notation,omitempty"`
	SafeMode *bool  `json:"safeMode,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connWriter serializes writes; gorilla connections allow one writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connWriter) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *connWriter) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func userFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(middleware.UserHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := userFrom(r)
	if userID == "" {
		http.Error(w, "missing user id", http.StatusUnauthorized)
		return
	}

	ctrl, release, err := h.chatSvc.Controller(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	// The lease is held until every in-flight send has finished.
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.log.Info("connection opened", zap.String("session", sessionID))

	var inflight sync.WaitGroup
	defer inflight.Wait()

	// Hijacked connections outlive the request context; sends in flight are
	// canceled when the read loop ends.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	out := &connWriter{conn: conn}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, out)

	snap := ctrl.Snapshot()
	h.send(out, sessionID, "snapshot", snap)

	sink := func(u chatservice.Update) {
		h.send(out, sessionID, string(u.Kind), u)
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "send":
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				err := ctrl.SendMessage(ctx, msg.Text, chatservice.SendOptions{SafeMode: msg.SafeMode}, sink)
				if errors.Is(err, chatservice.ErrValidation) {
					h.send(out, sessionID, "ignored", map[string]string{"reason": err.Error()})
				}
			}()
		case "roll":
			if _, err := ctrl.RollDice(ctx, msg.Notation, sink); errors.Is(err, chatservice.ErrValidation) {
				h.send(out, sessionID, "ignored", map[string]string{"reason": err.Error()})
			}
		default:
			h.sendError(out, "unsupported message type: "+msg.Type)
		}
	}
}

func (h *WebSocketHandler) send(out *connWriter, sessionID, kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := out.writeJSON(msg); err != nil {
		h.log.Debug("write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(out *connWriter, message string) {
	h.send(out, "", "error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, out *connWriter) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}
