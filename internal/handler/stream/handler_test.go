package stream

import (
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

	aiService "github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
)

type fakeCompleter struct {
	body string
	err  error
	got  aiService.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req aiService.CompletionRequest) (io.ReadCloser, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func serve(t *testing.T, c Completer, payload string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(c, nil).RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewBufferString(payload)))
	return rec
}

func TestProxyRelaysStream(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
	c := &fakeCompleter{body: upstream}

	rec := serve(t, c, `{"messages":[{"role":"user","content":"hello"}],"character":{"name":"Aria"},"isRpgMode":true,"rpgState":{"hp":5,"max_hp":10},"safeMode":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, upstream, rec.Body.String())
	assert.Equal(t, "Aria", c.got.Character.Name)
	require.NotNil(t, c.got.RPGState)
	assert.Equal(t, 5, c.got.RPGState.HP)
	assert.True(t, c.got.SafeMode)
}

func TestProxyMapsUpstreamStatus(t *testing.T) {
	cases := map[int]*aiService.TransportError{
		http.StatusTooManyRequests:     {Category: aiService.CategoryRateLimit, Status: 429, Err: aiService.ErrRateLimited},
		http.StatusPaymentRequired:     {Category: aiService.CategoryQuota, Status: 402, Err: aiService.ErrQuotaExhausted},
		http.StatusInternalServerError: {Category: aiService.CategoryUpstream, Status: 503, Err: aiService.ErrUpstream},
	}
	for status, te := range cases {
		rec := serve(t, &fakeCompleter{err: te}, `{"character":{"name":"Aria"}}`)

		assert.Equal(t, status, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, te.Message(), body["error"])
	}
}

func TestProxyRejectsBadBody(t *testing.T) {
	rec := serve(t, &fakeCompleter{}, `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyInvalidRequest(t *testing.T) {
	rec := serve(t, &fakeCompleter{err: aiService.ErrInvalidRequest}, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
