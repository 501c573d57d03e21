package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cygnos/internal/models"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 8 << 20

// Gemini talks to the generateContent endpoint directly.
type Gemini struct {
	baseURL string
	client  *http.Client
}

func NewGemini(baseURL string, client *http.Client) *Gemini {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gemini{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (g *Gemini) ID() models.ProviderID { return models.ProviderGemini }

func geminiRole(r models.Role) string {
	switch r {
	case models.RoleAssistant:
		return "model"
	case models.RoleUser:
		return "user"
	default:
		return "system"
	}
}

func (g *Gemini) FormatHistory(msgs []models.Message) History {
	h := make(History, 0, len(msgs))
	for _, m := range msgs {
		h = append(h, Turn{Role: geminiRole(m.Role), Parts: []Part{{Text: m.Content}}})
	}
	return h
}

type geminiRequest struct {
	Contents         []Turn                  `json:"contents"`
	GenerationConfig models.GenerationConfig `json:"generationConfig"`
}

func (g *Gemini) endpoint(model, key string) string {
	return fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, url.PathEscape(model), url.QueryEscape(key))
}

func (g *Gemini) Send(ctx context.Context, req Request) (string, error) {
	contents := make([]Turn, 0, len(req.History)+1)
	contents = append(contents, req.History...)
	contents = append(contents, Turn{Role: "user", Parts: []Part{{Text: req.UserText}}})

	payload, err := json.Marshal(geminiRequest{Contents: contents, GenerationConfig: req.Generation})
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(req.Model, req.APIKey), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", providerError(models.ProviderGemini, 0, "request to Gemini failed: "+redactKey(err.Error(), req.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", providerError(models.ProviderGemini, resp.StatusCode, "reading Gemini response: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", providerError(models.ProviderGemini, resp.StatusCode, errorMessage(resp.StatusCode, body))
	}

	parts := gjson.GetBytes(body, "candidates.0.content.parts")
	if !gjson.ValidBytes(body) || !parts.IsArray() {
		return "", providerError(models.ProviderGemini, resp.StatusCode, "invalid response format from Gemini API")
	}

	var sb strings.Builder
	for _, p := range parts.Array() {
		sb.WriteString(p.Get("text").String())
	}
	text := sb.String()
	if req.OnDelta != nil && text != "" {
		req.OnDelta(text)
	}
	return text, nil
}

// redactKey keeps the API key, which travels in the query string, out of
// transport error messages.
func redactKey(msg, key string) string {
	if key == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(msg, key, "REDACTED")
}
