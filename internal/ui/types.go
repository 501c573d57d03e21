package ui

import (
	"context"

	"cygnos/internal/chat"
	"cygnos/internal/config"
	"cygnos/internal/models"
	"cygnos/internal/storage"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const (
	MaxModalWidth = 60
	MinModalWidth = 30

	HistoryPageSize = 10

	maxInputHeight = 6
)

type ErrMsg struct{ Err error }

type ResponseMsg struct{ Result *chat.Result }

// StreamDeltaMsg carries one reply fragment while a send is in flight.
type StreamDeltaMsg struct{ Text string }

type Model struct {
	Orch     *chat.Orchestrator
	Store    *storage.Store
	Settings *config.State
	Program  *tea.Program

	Viewport      viewport.Model
	ModelViewport viewport.Model
	TextInput     textarea.Model
	Spinner       spinner.Model
	Renderer      *glamour.TermRenderer

	Messages []string
	Pending  string
	Loading  bool
	Err      error

	WindowWidth  int
	WindowHeight int
	ModalWidth   int

	HistoryOpen        bool
	HistorySelectedIdx int
	HistoryPage        int
	HistoryChats       []models.Conversation
	HistoryChatCount   int
	HistoryErr         error

	ModelSelectorOpen  bool
	SelectedModelIndex int
	ShortcutsOpen      bool

	ctx context.Context
}
