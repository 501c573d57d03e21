// Package chat drives a single send: conversation creation, message append,
// provider dispatch, reply reconciliation and title derivation.
package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cygnos/internal/config"
	"cygnos/internal/errs"
	"cygnos/internal/models"
	"cygnos/internal/provider"
	"cygnos/internal/storage"
)

type Phase int

const (
	Idle Phase = iota
	AwaitingResponse
	Fulfilled
	Failed
)

func (p Phase) String() string {
	switch p {
	case AwaitingResponse:
		return "awaiting"
	case Fulfilled:
		return "fulfilled"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Sender is the part of the provider adapter the orchestrator needs.
type Sender interface {
	FormatHistory(msgs []models.Message, id models.ProviderID) (provider.History, error)
	SendMessage(ctx context.Context, id models.ProviderID, req provider.Request) (string, error)
}

// Result describes a fulfilled send.
type Result struct {
	ConversationID string
	Reply          models.Message
	// Title is set when this exchange derived the conversation title.
	Title string
}

// Orchestrator is not reentrant per conversation: callers must not send
// again on a conversation while a send on it is awaiting a response.
type Orchestrator struct {
	store    *storage.Store
	settings *config.State
	sender   Sender
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	phase    Phase
	observer func(Phase)
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithObserver registers fn to be called on every phase transition.
func WithObserver(fn func(Phase)) Option { return func(o *Orchestrator) { o.observer = fn } }

func New(store *storage.Store, settings *config.State, sender Sender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		settings: settings,
		sender:   sender,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	fn := o.observer
	o.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// SendUserMessage sends utterance on the current conversation, creating one
// bound to the current model when there is none. onDelta may be nil.
//
// On failure the user message stays in the log and no assistant message is
// stored. The provider is called at most once.
func (o *Orchestrator) SendUserMessage(ctx context.Context, utterance string, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, &errs.ValidationError{Err: errs.ErrEmptyInput}
	}

	providerID := o.settings.CurrentProvider()
	apiKey := o.settings.CurrentAPIKey()
	if apiKey == "" {
		return nil, &errs.ValidationError{Err: errs.ErrMissingCredential, Provider: providerID}
	}
	model := o.settings.CurrentModel()

	conv, ok := o.store.Current()
	if !ok {
		var err error
		if conv, err = o.store.CreateConversation(model); err != nil {
			return nil, err
		}
	}

	if _, err := o.store.AppendMessage(conv.ID, models.NewUserMessage(utterance, o.now())); err != nil {
		return nil, err
	}

	// history excludes the message being sent
	conv, ok = o.store.Get(conv.ID)
	if !ok {
		return nil, errs.ErrNotFound
	}
	history, err := o.sender.FormatHistory(conv.Messages[:len(conv.Messages)-1], providerID)
	if err != nil {
		return nil, err
	}

	o.setPhase(AwaitingResponse)
	defer o.setPhase(Idle)

	text, err := o.sender.SendMessage(ctx, providerID, provider.Request{
		UserText:   utterance,
		History:    history,
		APIKey:     apiKey,
		Model:      model,
		Generation: o.settings.Generation(),
		OnDelta:    onDelta,
	})
	if err != nil {
		o.log.Warn("send failed", "conversation", conv.ID, "provider", providerID, "error", err)
		o.setPhase(Failed)
		return nil, err
	}

	reply := models.NewAssistantMessage(text, o.now())
	found, err := o.store.AppendMessage(conv.ID, reply)
	if err != nil {
		o.setPhase(Failed)
		return nil, err
	}
	if !found {
		// deleted while awaiting
		o.setPhase(Failed)
		return nil, errs.ErrNotFound
	}

	res := &Result{ConversationID: conv.ID, Reply: reply}
	if conv, ok = o.store.Get(conv.ID); ok && len(conv.Messages) == 2 {
		res.Title = models.DeriveTitle(utterance)
		if _, err := o.store.UpdateTitle(conv.ID, res.Title); err != nil {
			o.setPhase(Failed)
			return nil, err
		}
	}
	o.setPhase(Fulfilled)
	return res, nil
}

// NewConversation starts an empty conversation on the current model.
func (o *Orchestrator) NewConversation() (models.Conversation, error) {
	return o.store.CreateConversation(o.settings.CurrentModel())
}

// Select makes id current and switches to its model when the catalog knows it.
func (o *Orchestrator) Select(id string) (models.Conversation, error) {
	if !o.store.SetCurrentID(id) {
		return models.Conversation{}, errs.ErrNotFound
	}
	conv, ok := o.store.Get(id)
	if !ok {
		return models.Conversation{}, errs.ErrNotFound
	}
	if conv.Model != "" {
		if _, err := o.settings.SetCurrentModel(conv.Model, ""); err != nil {
			return conv, err
		}
	}
	return conv, nil
}

// ResetConversation clears the current conversation's messages and restores
// the default title.
func (o *Orchestrator) ResetConversation() error {
	id := o.store.CurrentID()
	if id == "" {
		return nil
	}
	if _, err := o.store.ClearMessages(id); err != nil {
		return err
	}
	_, err := o.store.UpdateTitle(id, models.DefaultTitle)
	return err
}

func (o *Orchestrator) DeleteConversation(id string) error {
	ok, err := o.store.DeleteConversation(id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound
	}
	return nil
}

func (o *Orchestrator) DeleteAll() error {
	return o.store.DeleteAll()
}

func (o *Orchestrator) Store() *storage.Store { return o.store }

func (o *Orchestrator) Settings() *config.State { return o.settings }
