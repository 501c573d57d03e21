// Package storage keeps the ordered conversation collection and persists it
// as a single JSON blob after every mutation.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"cygnos/internal/db"
	"cygnos/internal/errs"
	"cygnos/internal/models"

	"github.com/google/uuid"
)

// ConversationsKey is the KV key holding the serialized collection.
const ConversationsKey = "gemini_conversations"

// Store owns every conversation. Conversations are kept newest first and
// handed out as copies, so callers re-fetch by id after any wait.
//
// Writes from separate processes sharing one KV store are not coordinated:
// the last writer wins.
type Store struct {
	mu  sync.Mutex
	kv  db.KV
	log *slog.Logger
	now func() time.Time
	ids func() string

	conversations []models.Conversation
	currentID     string
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDs overrides the id generator, for tests.
func WithIDs(next func() string) Option { return func(s *Store) { s.ids = next } }

func New(kv db.KV, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now: time.Now,
		ids: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory collection with the persisted one. A missing
// key means an empty collection. The current pointer is reset.
func (s *Store) Load() error {
	raw, ok, err := s.kv.Get(ConversationsKey)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = ""
	if !ok {
		s.conversations = nil
		return nil
	}
	var convs []models.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		return fmt.Errorf("decode conversations: %w", err)
	}
	s.conversations = convs
	return nil
}

// persistLocked writes the whole collection. Caller holds mu.
func (s *Store) persistLocked() error {
	convs := s.conversations
	if convs == nil {
		convs = []models.Conversation{}
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return &errs.PersistenceError{Op: "conversations", Err: err}
	}
	if err := s.kv.Set(ConversationsKey, string(data)); err != nil {
		s.log.Error("persist conversations failed", "error", err, "count", len(convs))
		return &errs.PersistenceError{Op: "conversations", Err: err}
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateConversation prepends a new empty conversation bound to model and
// makes it current.
func (s *Store) CreateConversation(model string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := models.Conversation{
		ID:        s.ids(),
		Title:     models.DefaultTitle,
		Messages:  []models.Message{},
		Model:     model,
		CreatedAt: s.now(),
	}
	s.conversations = append([]models.Conversation{conv}, s.conversations...)
	s.currentID = conv.ID
	s.log.Debug("conversation created", "id", conv.ID, "model", model)
	return conv.Clone(), s.persistLocked()
}

func (s *Store) Get(id string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

func (s *Store) Current() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == "" {
		return models.Conversation{}, false
	}
	i := s.indexLocked(s.currentID)
	if i < 0 {
		return models.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// SetCurrentID points the current selection at id. An empty id clears it.
// Unknown ids are rejected so the pointer never dangles.
func (s *Store) SetCurrentID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.indexLocked(id) < 0 {
		return false
	}
	s.currentID = id
	return true
}

// List returns all conversations, newest first.
func (s *Store) List() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// update runs fn on the conversation with id and persists. It reports false
// when id is unknown.
func (s *Store) update(id string, fn func(c *models.Conversation) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	if !fn(&s.conversations[i]) {
		return false, nil
	}
	return true, s.persistLocked()
}

func (s *Store) AppendMessage(id string, msg models.Message) (bool, error) {
	return s.update(id, func(c *models.Conversation) bool {
		c.Messages = append(c.Messages, msg)
		return true
	})
}

func (s *Store) UpdateTitle(id, title string) (bool, error) {
	return s.update(id, func(c *models.Conversation) bool {
		c.Title = title
		return true
	})
}

func (s *Store) ClearMessages(id string) (bool, error) {
	return s.update(id, func(c *models.Conversation) bool {
		c.Messages = []models.Message{}
		return true
	})
}

// DeleteMessage removes the message at index. Out of range indexes report false.
func (s *Store) DeleteMessage(id string, index int) (bool, error) {
	return s.update(id, func(c *models.Conversation) bool {
		if index < 0 || index >= len(c.Messages) {
			return false
		}
		c.Messages = append(c.Messages[:index:index], c.Messages[index+1:]...)
		return true
	})
}

// DeleteConversation removes id. When it was current, the new head (or
// nothing) becomes current.
func (s *Store) DeleteConversation(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
	if s.currentID == id {
		s.currentID = ""
		if len(s.conversations) > 0 {
			s.currentID = s.conversations[0].ID
		}
	}
	return true, s.persistLocked()
}

func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.currentID = ""
	return s.persistLocked()
}
