package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/rpg/internal/middleware"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	chatmodel "github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	chatService "github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

const user = "u1"

type stubCompleter struct {
	body string
	err  error
}

func (s stubCompleter) Complete(context.Context, ai.CompletionRequest) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type env struct {
	srv   *httptest.Server
	store *storage.MemoryStore
	char  character.Character
}

func newEnv(t *testing.T, completer chatService.Completer) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	char := &character.Character{UserID: user, Name: "Aria", IsRPGEnabled: true}
	require.NoError(t, store.CreateCharacter(context.Background(), char))

	svc := chatService.NewService(chatService.Config{Store: store, Completer: completer})
	r := chi.NewRouter()
	r.Use(middleware.RequireUser)
	New(svc, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: store, char: *char}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set(middleware.UserHeader, user)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *env) createSession(t *testing.T) chatmodel.Session {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/characters/"+e.char.ID+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s chatmodel.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

type sseEvent struct {
	name string
	data chatService.Update
}

func readEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var name string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var u chatService.Update
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u))
			events = append(events, sseEvent{name: name, data: u})
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

const reply = "data: {\"choices\":[{\"delta\":{\"content\":\"You take a hit [STAT_CHANGE:hp:-10]\"}}]}\n\ndata: [DONE]\n\n"

func TestSendMessageStreamsUpdates(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})
	session := e.createSession(t)
	assert.Equal(t, "Chat 1", session.Title)
	assert.Equal(t, 100, session.RPGState.HP)

	resp := e.do(t, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "I charge"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
		assert.Equal(t, ev.name, string(ev.data.Kind))
	}
	assert.Equal(t, []string{"user_message", "delta", "delta", "assistant_message", "rpg_event", "state", "done"}, names)
	assert.Equal(t, chatService.PlaceholderID, events[1].data.Message.ID)
	assert.Equal(t, 90, events[5].data.State.HP)

	resp = e.do(t, http.MethodGet, "/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail chatService.SessionDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Len(t, detail.Messages, 2)
	assert.Equal(t, 90, detail.Session.RPGState.HP)
}

func TestSendBlankMessageIsNoContent(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})
	session := e.createSession(t)

	resp := e.do(t, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "   "})

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	messages, err := e.store.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSendMessageUnknownSession(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})

	resp := e.do(t, http.MethodPost, "/sessions/missing/messages", map[string]string{"text": "hi"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageRateLimitedEmitsErrorEvent(t *testing.T) {
	e := newEnv(t, stubCompleter{err: &ai.TransportError{Category: ai.CategoryRateLimit, Status: 429, Err: ai.ErrRateLimited}})
	session := e.createSession(t)

	resp := e.do(t, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "user_message", events[0].name)
	assert.Equal(t, "error", events[1].name)
	assert.Equal(t, ai.RateLimitedMessage, events[1].data.Error)
}

func TestRollDiceEndpoint(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})
	session := e.createSession(t)

	resp := e.do(t, http.MethodPost, "/sessions/"+session.ID+"/dice", map[string]string{"notation": "1d6"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg chatmodel.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.True(t, msg.IsDiceRoll)
	assert.Equal(t, chatmodel.RoleSystem, msg.Role)
	assert.True(t, strings.HasPrefix(msg.Content, "*rolls 1d6* 🎲 ["))

	resp = e.do(t, http.MethodPost, "/sessions/"+session.ID+"/dice", map[string]string{"notation": ""})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMemoryEndpoints(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})

	resp := e.do(t, http.MethodPost, "/characters/"+e.char.ID+"/memories", map[string]string{"content": "Fears the dark"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var entry chatmodel.MemoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
	assert.True(t, entry.IsPinned)

	resp = e.do(t, http.MethodGet, "/characters/"+e.char.ID+"/memories", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []chatmodel.MemoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	resp = e.do(t, http.MethodDelete, "/memories/"+entry.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/characters/"+e.char.ID+"/memories", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionListAndDelete(t *testing.T) {
	e := newEnv(t, stubCompleter{body: reply})
	first := e.createSession(t)
	second := e.createSession(t)
	assert.Equal(t, "Chat 2", second.Title)

	resp := e.do(t, http.MethodGet, "/characters/"+e.char.ID+"/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []chatmodel.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	resp = e.do(t, http.MethodDelete, "/sessions/"+first.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/sessions/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
