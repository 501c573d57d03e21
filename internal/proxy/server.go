// Package proxy is the local relay between the chat client and the Requesty
// router. It lists the supported models, turns a single prompt into a chat
// completion call, and passes OpenAI-compatible requests through unchanged.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cygnos/internal/models"
	"cygnos/internal/provider"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"
)

const (
	maxRequestBodySize = 1 << 20
	proxyTemperature   = 0.7
	proxyMaxTokens     = 800
)

type Server struct {
	addr     string
	upstream string
	client   *http.Client
	log      *slog.Logger
	router   *mux.Router
	server   *http.Server
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

func WithHTTPClient(c *http.Client) Option { return func(s *Server) { s.client = c } }

// NewServer builds a proxy listening on addr that forwards to upstream, the
// router base URL ending before /chat/completions.
func NewServer(addr, upstream string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{Timeout: 5 * time.Minute},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/requesty", s.handlePassthrough).Methods(http.MethodPost)
	api.HandleFunc("/requesty/chat/completions", s.handlePassthrough).Methods(http.MethodPost)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		CORSMiddleware(DefaultCORSConfig()),
	)(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("proxy listening", "addr", s.addr, "upstream", s.upstream)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("proxy shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": models.ProxyModels})
}

type chatRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	APIKey string `json:"apiKey"`
	Stream bool   `json:"stream"`
}

type upstreamRequest struct {
	Model       string          `json:"model"`
	Messages    []provider.Turn `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" || req.Prompt == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "model, prompt and apiKey are required")
		return
	}

	payload, err := json.Marshal(upstreamRequest{
		Model: req.Model,
		Messages: []provider.Turn{
			{Role: "system", Content: provider.DefaultSystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Stream:      req.Stream,
		Temperature: proxyTemperature,
		MaxTokens:   proxyMaxTokens,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error: "+err.Error())
		return
	}

	resp, err := s.forward(r.Context(), payload, "Bearer "+req.APIKey)
	if err != nil {
		s.log.Error("upstream request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if req.Stream {
		s.relayStream(w, resp)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error: "+err.Error())
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		writeJSON(w, resp.StatusCode, map[string]any{"error": rawOrText(body)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// relayStream forwards every upstream line carrying an SSE data field and
// terminates the stream with a [DONE] sentinel.
func (s *Server) relayStream(w http.ResponseWriter, resp *http.Response) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		writeJSON(w, resp.StatusCode, map[string]string{"error": string(text)})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBodySize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || !strings.Contains(line, "data:") {
			continue
		}
		_, _ = io.WriteString(w, line+"\n\n")
		flush()
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("stream relay interrupted", "error", err)
		frame, _ := json.Marshal(map[string]string{"error": err.Error()})
		_, _ = io.WriteString(w, "data: "+string(frame)+"\n\n")
		flush()
		return
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flush()
}

// handlePassthrough relays an OpenAI-compatible chat completion request,
// including its Authorization header, and copies the upstream answer back.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "model").Exists() {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object with a model")
		return
	}

	resp, err := s.forward(r.Context(), body, r.Header.Get("Authorization"))
	if err != nil {
		s.log.Error("upstream request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				s.log.Warn("passthrough relay interrupted", "error", rerr)
			}
			return
		}
	}
}

func (s *Server) forward(ctx context.Context, payload []byte, auth string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.upstream+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)
	return s.client.Do(req)
}

// rawOrText embeds a JSON body as-is and anything else as a string.
func rawOrText(body []byte) any {
	if gjson.ValidBytes(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
