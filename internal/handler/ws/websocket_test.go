package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	chatservice "github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, ai.CompletionRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"Greetings\"}}]}\n\ndata: [DONE]\n\n")), nil
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	char := &character.Character{UserID: "u1", Name: "Aria"}
	require.NoError(t, store.CreateCharacter(ctx, char))

	svc := chatservice.NewService(chatservice.Config{Store: store, Completer: stubCompleter{}})
	session, err := svc.CreateSession(ctx, "u1", char.ID)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewWebSocketHandler(svc, nil).RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, session.ID
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) []received {
	t.Helper()
	var seen []received
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg)
		if msg.Type == kind {
			return seen
		}
	}
}

func TestWebSocketSendStreamsUpdates(t *testing.T) {
	srv, sessionID := setup(t)
	conn := dial(t, srv, "/ws/"+sessionID+"?userId=u1")

	first := readUntil(t, conn, "snapshot")
	require.Len(t, first, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "text": "Hello"}))
	msgs := readUntil(t, conn, "done")

	var kinds []string
	for _, m := range msgs {
		kinds = append(kinds, m.Type)
	}
	assert.Equal(t, []string{"user_message", "delta", "delta", "assistant_message", "done"}, kinds)

	var final chatservice.Update
	require.NoError(t, json.Unmarshal(msgs[3].Data, &final))
	assert.Equal(t, "Greetings", final.Message.Content)
}

func TestWebSocketRollAndBlank(t *testing.T) {
	srv, sessionID := setup(t)
	conn := dial(t, srv, "/ws/"+sessionID+"?userId=u1")
	readUntil(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "roll", "notation": "2d6"}))
	msgs := readUntil(t, conn, "rpg_event")
	assert.Equal(t, "system_message", msgs[0].Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "text": "  "}))
	readUntil(t, conn, "ignored")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	readUntil(t, conn, "error")
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	srv, _ := setup(t)

	resp, err := http.Get(srv.URL + "/ws/missing?userId=u1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
