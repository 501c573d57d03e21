package ui

import (
	"context"

	"cygnos/internal/chat"
	"cygnos/internal/models"
	"cygnos/internal/styles"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// NewModel builds the chat screen over orch, showing the current
// conversation when there is one.
func NewModel(ctx context.Context, orch *chat.Orchestrator) Model {
	styles.ApplyTheme(orch.Settings().Theme())

	ti := textarea.New()
	ti.Placeholder = "Type a message... (/ for commands)"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = maxInputHeight
	ti.SetHeight(2)
	ti.SetWidth(80)
	applyInputTheme(&ti)
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.CurrentTheme.Primary)

	m := Model{
		Orch:          orch,
		Store:         orch.Store(),
		Settings:      orch.Settings(),
		TextInput:     ti,
		Spinner:       sp,
		Viewport:      viewport.New(60, 15),
		ModelViewport: viewport.New(MaxModalWidth-4, 15),
		ModalWidth:    MaxModalWidth,
		Messages:      []string{},
		ctx:           ctx,
	}
	m.SelectedModelIndex = modelIndex(m.Settings.CurrentModel())
	if conv, ok := m.Store.Current(); ok {
		m.LoadConversation(conv)
	}
	return m
}

func applyInputTheme(ti *textarea.Model) {
	t := styles.CurrentTheme
	ti.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(t.Primary).Bold(true)
	ti.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(t.Primary).Bold(true)
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(t.TextMuted)
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(t.TextMuted)
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.TextInput.Cursor.BlinkCmd(),
		m.Spinner.Tick,
	)
}

// NewProgram wires the model into an alt-screen program so streamed
// fragments can be delivered while a send is in flight.
func NewProgram(ctx context.Context, orch *chat.Orchestrator) (*tea.Program, *Model) {
	m := NewModel(ctx, orch)
	p := tea.NewProgram(&m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.Program = p
	return p, &m
}

// modelIndex finds id in the flattened catalog, or 0.
func modelIndex(id string) int {
	for i, mdl := range models.AllModels() {
		if mdl.ID == id {
			return i
		}
	}
	return 0
}
