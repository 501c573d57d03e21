package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"cygnos/internal/db"
	"cygnos/internal/errs"
	"cygnos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, kv db.KV) *Store {
	t.Helper()
	n := 0
	base := time.Date(2025, 4, 20, 9, 0, 0, 0, time.UTC)
	return New(kv,
		WithIDs(func() string { n++; return fmt.Sprintf("c%d", n) }),
		WithClock(func() time.Time { return base.Add(time.Duration(n) * time.Minute) }),
	)
}

func TestCreateConversationPrependsAndSelects(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())

	a, err := s.CreateConversation("gemini-2.0-flash")
	require.NoError(t, err)
	b, err := s.CreateConversation("openai/gpt-4.1")
	require.NoError(t, err)

	assert.Equal(t, models.DefaultTitle, a.Title)
	assert.Empty(t, a.Messages)
	assert.Equal(t, b.ID, s.CurrentID())

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestDefaultIDsAreUnique(t *testing.T) {
	s := New(db.NewMemoryKV())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := s.CreateConversation("gemini-2.0-flash")
		require.NoError(t, err)
		require.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestAppendMessage(t *testing.T) {
	kv := db.NewMemoryKV()
	s := newTestStore(t, kv)
	c, err := s.CreateConversation("model-x")
	require.NoError(t, err)

	ok, err := s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: "Hi"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AppendMessage("missing", models.Message{Role: models.RoleUser, Content: "Hi"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, found := s.Get(c.ID)
	require.True(t, found)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Hi", got.Messages[0].Content)

	// persisted after the mutation
	raw, ok, err := kv.Get(ConversationsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"content":"Hi"`)
}

func TestGetReturnsCopies(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	c, _ := s.CreateConversation("m")
	_, _ = s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: "a"})

	got, _ := s.Get(c.ID)
	got.Messages[0].Content = "mutated"
	got.Title = "mutated"

	again, _ := s.Get(c.ID)
	assert.Equal(t, "a", again.Messages[0].Content)
	assert.Equal(t, models.DefaultTitle, again.Title)
}

func TestUpdateTitleAndClear(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	c, _ := s.CreateConversation("m")
	_, _ = s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: "a"})

	ok, err := s.UpdateTitle(c.ID, "renamed")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClearMessages(c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Get(c.ID)
	assert.Equal(t, "renamed", got.Title)
	assert.Empty(t, got.Messages)

	ok, _ = s.UpdateTitle("nope", "x")
	assert.False(t, ok)
	ok, _ = s.ClearMessages("nope")
	assert.False(t, ok)
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	c, _ := s.CreateConversation("m")
	for _, txt := range []string{"one", "two", "three"} {
		_, _ = s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: txt})
	}

	ok, err := s.DeleteMessage(c.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.DeleteMessage(c.ID, 5)
	assert.False(t, ok)
	ok, _ = s.DeleteMessage(c.ID, -1)
	assert.False(t, ok)

	got, _ := s.Get(c.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "one", got.Messages[0].Content)
	assert.Equal(t, "three", got.Messages[1].Content)
}

func TestDeleteCurrentMiddleReassignsToHead(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	oldest, _ := s.CreateConversation("m")
	middle, _ := s.CreateConversation("m")
	newest, _ := s.CreateConversation("m")

	require.True(t, s.SetCurrentID(middle.ID))
	ok, err := s.DeleteConversation(middle.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, found := s.Get(middle.ID)
	assert.False(t, found)
	assert.Equal(t, newest.ID, s.CurrentID())

	_, _ = s.DeleteConversation(newest.ID)
	assert.Equal(t, oldest.ID, s.CurrentID())

	_, _ = s.DeleteConversation(oldest.ID)
	assert.Equal(t, "", s.CurrentID())
	_, found = s.Current()
	assert.False(t, found)
}

func TestDeleteNonCurrentKeepsPointer(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	a, _ := s.CreateConversation("m")
	b, _ := s.CreateConversation("m")

	ok, err := s.DeleteConversation(a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, b.ID, s.CurrentID())

	ok, err = s.DeleteConversation(a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAll(t *testing.T) {
	kv := db.NewMemoryKV()
	s := newTestStore(t, kv)
	_, _ = s.CreateConversation("m")
	_, _ = s.CreateConversation("m")

	require.NoError(t, s.DeleteAll())
	assert.Empty(t, s.List())
	assert.Equal(t, "", s.CurrentID())

	raw, ok, err := kv.Get(ConversationsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

func TestSetCurrentIDRejectsUnknown(t *testing.T) {
	s := newTestStore(t, db.NewMemoryKV())
	c, _ := s.CreateConversation("m")
	assert.False(t, s.SetCurrentID("ghost"))
	assert.Equal(t, c.ID, s.CurrentID())
	assert.True(t, s.SetCurrentID(""))
	assert.Equal(t, "", s.CurrentID())
}

func TestRoundTripThroughKV(t *testing.T) {
	kv := db.NewMemoryKV()
	s := newTestStore(t, kv)
	a, _ := s.CreateConversation("gemini-2.0-flash")
	b, _ := s.CreateConversation("openai/gpt-4.1")
	ts := time.Date(2025, 4, 20, 10, 0, 0, 123000000, time.UTC)
	_, _ = s.AppendMessage(a.ID, models.Message{Role: models.RoleUser, Content: "Hi", Timestamp: ts})
	_, _ = s.AppendMessage(a.ID, models.Message{Role: models.RoleAssistant, Content: "Hello there", Timestamp: ts.Add(time.Second)})
	_, _ = s.UpdateTitle(a.ID, "Hi")

	reloaded := New(kv)
	require.NoError(t, reloaded.Load())

	want := s.List()
	got := reloaded.List()
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Title, got[i].Title)
		assert.Equal(t, want[i].Model, got[i].Model)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
		require.Len(t, got[i].Messages, len(want[i].Messages))
		for j := range want[i].Messages {
			assert.Equal(t, want[i].Messages[j].Role, got[i].Messages[j].Role)
			assert.Equal(t, want[i].Messages[j].Content, got[i].Messages[j].Content)
			assert.True(t, want[i].Messages[j].Timestamp.Equal(got[i].Messages[j].Timestamp))
		}
	}
	assert.Equal(t, "", reloaded.CurrentID(), "current pointer is not persisted")
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	s := New(db.NewMemoryKV())
	require.NoError(t, s.Load())
	assert.Empty(t, s.List())
}

func TestLoadCorruptBlob(t *testing.T) {
	kv := db.NewMemoryKV()
	require.NoError(t, kv.Set(ConversationsKey, "{"))
	assert.Error(t, New(kv).Load())
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	kv := db.NewMemoryKV()
	s := newTestStore(t, kv)
	c, err := s.CreateConversation("m")
	require.NoError(t, err)

	kv.FailSet = errors.New("disk full")
	ok, err := s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: "x"})
	assert.True(t, ok)
	var perr *errs.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "conversations", perr.Op)
}

func TestStoredShape(t *testing.T) {
	kv := db.NewMemoryKV()
	s := newTestStore(t, kv)
	c, _ := s.CreateConversation("gemini-2.0-flash")
	_, _ = s.AppendMessage(c.ID, models.Message{Role: models.RoleUser, Content: "Hi"})

	raw, _, _ := kv.Get(ConversationsKey)
	var generic []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &generic))
	require.Len(t, generic, 1)
	for _, k := range []string{"id", "title", "messages", "model", "createdAt"} {
		assert.Contains(t, generic[0], k)
	}
}
