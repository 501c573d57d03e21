package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"cygnos/internal/models"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

const DefaultSystemPrompt = "You are a helpful assistant."

// Requesty speaks the OpenAI-compatible chat completions API, either to the
// router directly or through the local proxy.
type Requesty struct {
	baseURL string
	client  *http.Client
}

func NewRequesty(baseURL string, client *http.Client) *Requesty {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Requesty{baseURL: baseURL, client: client}
}

func (r *Requesty) ID() models.ProviderID { return models.ProviderRequesty }

func requestyRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return "assistant"
	case models.RoleUser:
		return "user"
	default:
		return "system"
	}
}

func (r *Requesty) FormatHistory(msgs []models.Message) History {
	h := make(History, 0, len(msgs))
	for _, m := range msgs {
		h = append(h, Turn{Role: requestyRole(m.Role), Content: m.Content})
	}
	return h
}

// Messages builds the outgoing message list: history, the new user turn, and
// a default system prompt in front when none is present.
func Messages(history History, userText string) []openai.ChatCompletionMessageParamUnion {
	hasSystem := false
	for _, t := range history {
		if t.Role == "system" {
			hasSystem = true
			break
		}
	}

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if !hasSystem {
		out = append(out, openai.SystemMessage(DefaultSystemPrompt))
	}
	for _, t := range history {
		switch t.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(t.Text()))
		case "user":
			out = append(out, openai.UserMessage(t.Text()))
		default:
			out = append(out, openai.SystemMessage(t.Text()))
		}
	}
	return append(out, openai.UserMessage(userText))
}

func (r *Requesty) newClient(apiKey string) openai.Client {
	return openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(r.baseURL),
		option.WithHTTPClient(r.client),
		option.WithMaxRetries(0),
	)
}

func (r *Requesty) Send(ctx context.Context, req Request) (string, error) {
	client := r.newClient(req.APIKey)
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    Messages(req.History, req.UserText),
		Temperature: openai.Float(req.Generation.Temperature),
	}

	if req.OnDelta != nil {
		return r.stream(ctx, client, params, req.OnDelta)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", r.convertError(err)
	}
	return extractReply(resp.RawJSON())
}

func (r *Requesty) stream(ctx context.Context, client openai.Client, params openai.ChatCompletionNewParams, onDelta func(string)) (string, error) {
	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if d := chunk.Choices[0].Delta.Content; d != "" {
			sb.WriteString(d)
			onDelta(d)
		}
	}
	if err := stream.Err(); err != nil {
		return "", r.convertError(err)
	}
	return sb.String(), nil
}

// extractReply accepts the response shapes seen from the router and the
// models behind it.
func extractReply(raw string) (string, error) {
	if c := gjson.Get(raw, "message.content"); c.String() != "" {
		return c.String(), nil
	}
	if choices := gjson.Get(raw, "choices"); choices.IsArray() && len(choices.Array()) > 0 {
		return gjson.Get(raw, "choices.0.message.content").String(), nil
	}
	if c := gjson.Get(raw, "content"); c.String() != "" {
		return c.String(), nil
	}
	return "", providerError(models.ProviderRequesty, http.StatusOK, "unknown response format from Requesty API")
}

func (r *Requesty) convertError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return providerError(models.ProviderRequesty, 0, "request to Requesty cancelled: "+err.Error())
		}
		return providerError(models.ProviderRequesty, 0, "request to Requesty failed: "+err.Error())
	}

	var body []byte
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(apiErr.Response.Body, maxResponseBytes))
	}
	if len(body) == 0 {
		body = []byte(apiErr.RawJSON())
	}
	msg := errorMessage(apiErr.StatusCode, body)
	if strings.HasPrefix(msg, "API request failed") && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return providerError(models.ProviderRequesty, apiErr.StatusCode, msg)
}
