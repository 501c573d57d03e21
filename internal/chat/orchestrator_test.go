package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cygnos/internal/config"
	"cygnos/internal/db"
	"cygnos/internal/errs"
	"cygnos/internal/models"
	"cygnos/internal/provider"
	"cygnos/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	reply   string
	err     error
	calls   int
	lastID  models.ProviderID
	lastReq provider.Request
}

func (f *fakeSender) FormatHistory(msgs []models.Message, id models.ProviderID) (provider.History, error) {
	h := make(provider.History, 0, len(msgs))
	for _, m := range msgs {
		h = append(h, provider.Turn{Role: string(m.Role), Content: m.Content})
	}
	return h, nil
}

func (f *fakeSender) SendMessage(_ context.Context, id models.ProviderID, req provider.Request) (string, error) {
	f.calls++
	f.lastID = id
	f.lastReq = req
	if req.OnDelta != nil && f.err == nil {
		req.OnDelta(f.reply)
	}
	return f.reply, f.err
}

type fixture struct {
	kv       *db.MemoryKV
	store    *storage.Store
	settings *config.State
	sender   *fakeSender
	orch     *Orchestrator
	phases   []Phase
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	f := &fixture{kv: db.NewMemoryKV(), sender: &fakeSender{reply: "Hello there"}}
	n := 0
	f.store = storage.New(f.kv, storage.WithIDs(func() string { n++; return fmt.Sprintf("c%d", n) }))
	f.settings = config.NewState(f.kv, nil)
	if key != "" {
		require.NoError(t, f.settings.SetAPIKey(models.ProviderGemini, key))
	}
	f.orch = New(f.store, f.settings, f.sender,
		WithClock(func() time.Time { return time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC) }),
		WithObserver(func(p Phase) { f.phases = append(f.phases, p) }),
	)
	return f
}

func TestSendFirstExchange(t *testing.T) {
	f := newFixture(t, "g-key")

	res, err := f.orch.SendUserMessage(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi", res.Title)

	conv, ok := f.store.Current()
	require.True(t, ok)
	assert.Equal(t, res.ConversationID, conv.ID)
	assert.Equal(t, models.DefaultModel, conv.Model)
	assert.Equal(t, "Hi", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hi", conv.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hello there", conv.Messages[1].Content)

	assert.Equal(t, 1, f.sender.calls)
	assert.Equal(t, models.ProviderGemini, f.sender.lastID)
	assert.Equal(t, "Hi", f.sender.lastReq.UserText)
	assert.Empty(t, f.sender.lastReq.History)
	assert.Equal(t, "g-key", f.sender.lastReq.APIKey)
	assert.Equal(t, []Phase{AwaitingResponse, Fulfilled, Idle}, f.phases)
	assert.Equal(t, Idle, f.orch.Phase())
}

func TestSendAddsTwoMessagesAndExcludesCurrentFromHistory(t *testing.T) {
	f := newFixture(t, "g-key")
	_, err := f.orch.SendUserMessage(context.Background(), "first", nil)
	require.NoError(t, err)

	f.sender.reply = "second reply"
	res, err := f.orch.SendUserMessage(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Title)

	conv, _ := f.store.Current()
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "second", conv.Messages[2].Content)
	assert.Equal(t, "second reply", conv.Messages[3].Content)

	require.Len(t, f.sender.lastReq.History, 2)
	assert.Equal(t, "first", f.sender.lastReq.History[0].Content)
	assert.Equal(t, "Hello there", f.sender.lastReq.History[1].Content)
}

func TestTitleDerivedOnlyOnce(t *testing.T) {
	f := newFixture(t, "g-key")
	_, err := f.orch.SendUserMessage(context.Background(), "This is a longer test message!!!!", nil)
	require.NoError(t, err)
	conv, _ := f.store.Current()
	assert.Equal(t, "This is a longer test message!...", conv.Title)

	for _, msg := range []string{"another", "and another one that is quite long indeed"} {
		_, err := f.orch.SendUserMessage(context.Background(), msg, nil)
		require.NoError(t, err)
	}
	conv, _ = f.store.Current()
	assert.Equal(t, "This is a longer test message!...", conv.Title)
}

func TestSendFailureKeepsUserMessageOnly(t *testing.T) {
	f := newFixture(t, "g-key")
	f.sender.err = &errs.ProviderError{Provider: models.ProviderGemini, Status: 400, Message: "API key not valid"}

	_, err := f.orch.SendUserMessage(context.Background(), "Hi", nil)
	require.Error(t, err)
	assert.Equal(t, "API key not valid", err.Error())
	assert.True(t, errs.IsProvider(err))

	conv, ok := f.store.Current()
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, models.DefaultTitle, conv.Title)
	assert.Equal(t, 1, f.sender.calls)
	assert.Equal(t, []Phase{AwaitingResponse, Failed, Idle}, f.phases)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, "g-key")
	_, err := f.orch.SendUserMessage(context.Background(), "   \n\t", nil)
	require.ErrorIs(t, err, errs.ErrEmptyInput)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, f.store.List())
	assert.Zero(t, f.sender.calls)
	assert.Empty(t, f.phases)
}

func TestSendRejectsMissingCredential(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.orch.SendUserMessage(context.Background(), "Hi", nil)
	require.ErrorIs(t, err, errs.ErrMissingCredential)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.ProviderGemini, verr.Provider)
	assert.Equal(t, "Gemini API key is not set", err.Error())
	assert.Empty(t, f.store.List())
	assert.Zero(t, f.sender.calls)
}

func TestSendUsesRequestyWhenSelected(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.settings.SetAPIKey(models.ProviderRequesty, "rq"))
	ok, err := f.settings.SetCurrentModel("openai/gpt-4.1", models.ProviderRequesty)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orch.SendUserMessage(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderRequesty, f.sender.lastID)
	assert.Equal(t, "openai/gpt-4.1", f.sender.lastReq.Model)
	assert.Equal(t, "rq", f.sender.lastReq.APIKey)

	conv, _ := f.store.Current()
	assert.Equal(t, "openai/gpt-4.1", conv.Model)
}

func TestSendPassesDeltas(t *testing.T) {
	f := newFixture(t, "g-key")
	var got []string
	_, err := f.orch.SendUserMessage(context.Background(), "Hi", func(d string) { got = append(got, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there"}, got)
}

func TestSendPersistenceFailure(t *testing.T) {
	f := newFixture(t, "g-key")
	f.kv.FailSet = errors.New("disk full")

	_, err := f.orch.SendUserMessage(context.Background(), "Hi", nil)
	var perr *errs.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, f.sender.calls)
}

func TestSelectSwitchesModel(t *testing.T) {
	f := newFixture(t, "g-key")
	ok, err := f.settings.SetCurrentModel("openai/gpt-4.1", "")
	require.NoError(t, err)
	require.True(t, ok)
	a, err := f.orch.NewConversation()
	require.NoError(t, err)

	ok, err = f.settings.SetCurrentModel("gemini-1.5-pro", "")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.orch.NewConversation()
	require.NoError(t, err)

	conv, err := f.orch.Select(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, conv.ID)
	assert.Equal(t, a.ID, f.store.CurrentID())
	assert.Equal(t, "openai/gpt-4.1", f.settings.CurrentModel())
	assert.Equal(t, models.ProviderRequesty, f.settings.CurrentProvider())

	_, err = f.orch.Select("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSelectKeepsModelWhenUnknown(t *testing.T) {
	f := newFixture(t, "g-key")
	c, err := f.store.CreateConversation("retired-model")
	require.NoError(t, err)

	_, err = f.orch.Select(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultModel, f.settings.CurrentModel())
}

func TestResetConversation(t *testing.T) {
	f := newFixture(t, "g-key")
	_, err := f.orch.SendUserMessage(context.Background(), "Hi", nil)
	require.NoError(t, err)

	require.NoError(t, f.orch.ResetConversation())
	conv, _ := f.store.Current()
	assert.Empty(t, conv.Messages)
	assert.Equal(t, models.DefaultTitle, conv.Title)

	_, err = f.orch.SendUserMessage(context.Background(), "Again", nil)
	require.NoError(t, err)
	conv, _ = f.store.Current()
	assert.Equal(t, "Again", conv.Title)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t, "g-key")
	c, err := f.orch.NewConversation()
	require.NoError(t, err)

	require.NoError(t, f.orch.DeleteConversation(c.ID))
	_, ok := f.store.Get(c.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, f.orch.DeleteConversation(c.ID), errs.ErrNotFound)

	_, err = f.orch.NewConversation()
	require.NoError(t, err)
	require.NoError(t, f.orch.DeleteAll())
	assert.Empty(t, f.store.List())
	assert.Empty(t, f.store.CurrentID())
}

// deletingSender removes the conversation while its reply is in flight.
type deletingSender struct {
	fakeSender
	store *storage.Store
}

func (d *deletingSender) SendMessage(ctx context.Context, id models.ProviderID, req provider.Request) (string, error) {
	if _, err := d.store.DeleteConversation(d.store.CurrentID()); err != nil {
		return "", err
	}
	return d.fakeSender.SendMessage(ctx, id, req)
}

func TestSendDiscardsReplyWhenConversationDeleted(t *testing.T) {
	f := newFixture(t, "g-key")
	sender := &deletingSender{fakeSender: fakeSender{reply: "too late"}, store: f.store}
	var phases []Phase
	orch := New(f.store, f.settings, sender, WithObserver(func(p Phase) { phases = append(phases, p) }))

	res, err := orch.SendUserMessage(context.Background(), "Hi", nil)
	assert.Nil(t, res)
	require.ErrorIs(t, err, errs.ErrNotFound)

	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, f.store.List())
	assert.Equal(t, "", f.store.CurrentID())
	assert.Equal(t, []Phase{AwaitingResponse, Failed, Idle}, phases)
	assert.Equal(t, Idle, orch.Phase())
}
