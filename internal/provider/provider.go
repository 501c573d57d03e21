// Package provider normalizes the Gemini and Requesty chat APIs behind one
// interface.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cygnos/internal/models"
)

// Part is one text fragment of a Gemini turn.
type Part struct {
	Text string `json:"text"`
}

// Turn is one history entry in a provider's wire shape. Gemini turns use
// Parts, OpenAI-compatible turns use Content.
type Turn struct {
	Role    string `json:"role"`
	Parts   []Part `json:"parts,omitempty"`
	Content string `json:"content,omitempty"`
}

// Text returns the turn's text regardless of shape.
func (t Turn) Text() string {
	if t.Content != "" || len(t.Parts) == 0 {
		return t.Content
	}
	var s string
	for _, p := range t.Parts {
		s += p.Text
	}
	return s
}

type History []Turn

type Request struct {
	// UserText is the new utterance. It is not part of History.
	UserText   string
	History    History
	APIKey     string
	Model      string
	Generation models.GenerationConfig

	// OnDelta, when set, receives reply fragments in order as they arrive.
	// The returned text is always the full reply.
	OnDelta func(string)
}

type Provider interface {
	ID() models.ProviderID
	FormatHistory(msgs []models.Message) History
	Send(ctx context.Context, req Request) (string, error)
}

// Adapter dispatches to the provider selected for a request.
type Adapter struct {
	providers map[models.ProviderID]Provider
	log       *slog.Logger
}

func NewAdapter(logger *slog.Logger, providers ...Provider) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Adapter{providers: map[models.ProviderID]Provider{}, log: logger}
	for _, p := range providers {
		a.Register(p)
	}
	return a
}

func (a *Adapter) Register(p Provider) {
	a.providers[p.ID()] = p
}

func (a *Adapter) Provider(id models.ProviderID) (Provider, error) {
	p, ok := a.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", id)
	}
	return p, nil
}

func (a *Adapter) FormatHistory(msgs []models.Message, id models.ProviderID) (History, error) {
	p, err := a.Provider(id)
	if err != nil {
		return nil, err
	}
	return p.FormatHistory(msgs), nil
}

// SendMessage performs exactly one provider call. Failures are returned as
// *errs.ProviderError and never retried here.
func (a *Adapter) SendMessage(ctx context.Context, id models.ProviderID, req Request) (string, error) {
	p, err := a.Provider(id)
	if err != nil {
		return "", err
	}

	start := time.Now()
	a.log.Info("provider request", "provider", id, "model", req.Model, "history", len(req.History), "stream", req.OnDelta != nil)
	text, err := p.Send(ctx, req)
	if err != nil {
		a.log.Warn("provider request failed", "provider", id, "model", req.Model, "duration", time.Since(start), "error", err)
		return "", err
	}
	a.log.Info("provider response", "provider", id, "model", req.Model, "duration", time.Since(start), "chars", len(text))
	return text, nil
}
