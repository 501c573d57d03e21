package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UnmarshalJSON accepts "model" as an alias for the assistant role so that
// collections written by older clients load unchanged.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "model":
		*r = RoleAssistant
	default:
		*r = Role(s)
	}
	return nil
}

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUserMessage(content string, now time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: now}
}

func NewAssistantMessage(content string, now time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: now}
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON falls back to the legacy "timestamp" field for CreatedAt.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	type plain Conversation
	aux := struct {
		*plain
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() && aux.Timestamp != nil {
		c.CreatedAt = *aux.Timestamp
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return nil
}

// Clone returns a deep copy safe to hand out across goroutines.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// ProviderID names one of the supported backends
type ProviderID string

const (
	ProviderGemini   ProviderID = "gemini"
	ProviderRequesty ProviderID = "requesty"
)

// Providers lists the backends in inference precedence order.
var Providers = []ProviderID{ProviderGemini, ProviderRequesty}

func (p ProviderID) Valid() bool {
	return p == ProviderGemini || p == ProviderRequesty
}

// Label is the human name used in prompts and group headers.
func (p ProviderID) Label() string {
	switch p {
	case ProviderGemini:
		return "Gemini"
	case ProviderRequesty:
		return "Requesty"
	default:
		return string(p)
	}
}

func ParseProvider(s string) (ProviderID, error) {
	p := ProviderID(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// GenerationConfig carries the sampling parameters sent with every request.
// Field names follow the Gemini wire format.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 4096,
	}
}

type AIModel struct {
	ID       string
	Name     string
	Provider ProviderID
}
