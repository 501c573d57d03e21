package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cygnos/internal/models"
	"cygnos/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamCapture struct {
	auth string
	path string
	body map[string]any
}

func newUpstream(t *testing.T, got *upstreamCapture, handler func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.auth = r.Header.Get("Authorization")
			got.path = r.URL.Path
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, &got.body))
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, upstream string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(":0", upstream+"/v1").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestModels(t *testing.T) {
	p := newProxy(t, "http://unused")
	resp, err := http.Get(p.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var out struct {
		Models []string `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, models.ProxyModels, out.Models)
	assert.Contains(t, out.Models, "deepseek/deepseek-chat-v3-0324")
}

func TestChatRequiresFields(t *testing.T) {
	p := newProxy(t, "http://unused")
	for _, body := range []string{
		`{"prompt":"hi","apiKey":"k"}`,
		`{"model":"openai/gpt-4.1","apiKey":"k"}`,
		`{"model":"openai/gpt-4.1","prompt":"hi"}`,
	} {
		resp := post(t, p.URL+"/api/chat", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		raw, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(raw), "required")
	}
}

func TestChatNonStream(t *testing.T) {
	var got upstreamCapture
	up := newUpstream(t, &got, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	})
	p := newProxy(t, up.URL)

	resp := post(t, p.URL+"/api/chat", `{"model":"openai/gpt-4.1","prompt":"hi","apiKey":"rq"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"choices":[{"message":{"content":"hello"}}]}`, string(raw))

	assert.Equal(t, "Bearer rq", got.auth)
	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "openai/gpt-4.1", got.body["model"])
	assert.Equal(t, 0.7, got.body["temperature"])
	assert.Equal(t, float64(800), got.body["max_tokens"])
	_, streamed := got.body["stream"]
	assert.False(t, streamed)
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.DefaultSystemPrompt, msgs[0].(map[string]any)["content"])
	assert.Equal(t, "hi", msgs[1].(map[string]any)["content"])
}

func TestChatNonStreamUpstreamError(t *testing.T) {
	up := newUpstream(t, nil, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})
	p := newProxy(t, up.URL)

	resp := post(t, p.URL+"/api/chat", `{"model":"openai/gpt-4.1","prompt":"hi","apiKey":"rq"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":{"error":{"message":"bad key"}}}`, string(raw))
}

func TestChatStreamRelay(t *testing.T) {
	var got upstreamCapture
	up := newUpstream(t, &got, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frag := range []string{"A", "B"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", frag)
		}
		_, _ = io.WriteString(w, ": keep-alive\n\n")
	})
	p := newProxy(t, up.URL)

	resp := post(t, p.URL+"/api/chat", `{"model":"openai/gpt-4.1","prompt":"hi","apiKey":"rq","stream":true}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n"+
			"data: [DONE]\n\n",
		string(raw))
	assert.Equal(t, true, got.body["stream"])
}

func TestChatStreamUpstreamError(t *testing.T) {
	up := newUpstream(t, nil, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	})
	p := newProxy(t, up.URL)

	resp := post(t, p.URL+"/api/chat", `{"model":"openai/gpt-4.1","prompt":"hi","apiKey":"rq","stream":true}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"slow down"}`, string(raw))
}

func TestChatUpstreamUnreachable(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	url := up.URL
	up.Close()
	p := newProxy(t, url)

	resp := post(t, p.URL+"/api/chat", `{"model":"openai/gpt-4.1","prompt":"hi","apiKey":"rq"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "server error: ")
}

func TestPassthrough(t *testing.T) {
	for _, path := range []string{"/api/requesty", "/api/requesty/chat/completions"} {
		var got upstreamCapture
		up := newUpstream(t, &got, func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
		})
		p := newProxy(t, up.URL)

		resp := post(t, p.URL+path, `{"model":"openai/gpt-4.1","messages":[{"role":"user","content":"x"}]}`,
			map[string]string{"Authorization": "Bearer rq"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"choices":[{"message":{"content":"ok"}}]}`, string(raw))
		assert.Equal(t, "Bearer rq", got.auth)
		assert.Equal(t, "/v1/chat/completions", got.path)
		assert.Equal(t, "openai/gpt-4.1", got.body["model"])
	}
}

func TestPassthroughValidation(t *testing.T) {
	p := newProxy(t, "http://unused")

	resp := post(t, p.URL+"/api/requesty", `{"model":"m"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, p.URL+"/api/requesty", `not json`, map[string]string{"Authorization": "Bearer k"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	p := newProxy(t, "http://unused")
	req, err := http.NewRequest(http.MethodOptions, p.URL+"/api/chat", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRecovery(t *testing.T) {
	h := RecoveryMiddleware(NewServer(":0", "http://unused").log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
