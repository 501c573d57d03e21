package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cygnos/internal/config"
	"cygnos/internal/errs"
	"cygnos/internal/models"
	"cygnos/internal/styles"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.Spinner, spCmd = m.Spinner.Update(msg)
		if m.Loading {
			m.UpdateViewport()
		}
		return m, spCmd

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m, m.updateHistory(msg)
		}
		if m.ModelSelectorOpen {
			return m, m.updateModelSelector(msg)
		}
		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
			}
			return m, nil
		}

		if isNewlineShortcut(msg) {
			m.TextInput.InsertString("\n")
			m.updateInputLayout()
			return m, nil
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlN:
			if m.Loading {
				return m, nil
			}
			m.runAction(func() error {
				_, err := m.Orch.NewConversation()
				return err
			})
			return m, nil

		case tea.KeyCtrlB:
			m.ModelSelectorOpen = true
			m.HistoryOpen = false
			m.ShortcutsOpen = false
			m.SelectedModelIndex = modelIndex(m.Settings.CurrentModel())
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
			return m, nil

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.ModelSelectorOpen = false
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			if m.Loading {
				return m, nil
			}
			m.ModelSelectorOpen = false
			m.ShortcutsOpen = false
			m.HistoryOpen = true
			m.HistoryPage = 0
			m.RefreshHistory()
			return m, nil

		case tea.KeyEnter:
			if m.Loading {
				return m, nil
			}
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				return m, nil
			}
			if cmd, ok := ParseCommand(input); ok {
				m.TextInput.Reset()
				m.updateInputLayout()
				return m, m.runCommand(cmd)
			}
			if !m.Settings.HasCurrentAPIKey() {
				p := m.Settings.CurrentProvider()
				m.Messages = append(m.Messages, FormatError(&errs.ValidationError{Err: errs.ErrMissingCredential, Provider: p}),
					FormatNotice(fmt.Sprintf("Set one with /key %s <key>", p)))
				m.UpdateViewport()
				return m, nil
			}

			m.Messages = append(m.Messages, FormatUserMessage(input, m.Viewport.Width, len(m.Messages) == 0))
			m.TextInput.Reset()
			m.updateInputLayout()
			m.Loading = true
			m.Pending = ""
			m.Err = nil
			m.UpdateViewport()
			return m, tea.Batch(m.SendMessage(input), m.Spinner.Tick)
		}

	case StreamDeltaMsg:
		if m.Loading {
			m.Pending += msg.Text
			m.UpdateViewport()
		}
		return m, nil

	case ResponseMsg:
		m.Loading = false
		m.Pending = ""
		m.Messages = append(m.Messages, FormatAIMessage(m.assistantLabel(), m.renderMarkdown(msg.Result.Reply.Content)))
		m.UpdateViewport()
		return m, nil

	case ErrMsg:
		m.Loading = false
		m.Pending = ""
		m.Err = msg.Err
		m.Messages = append(m.Messages, FormatError(msg.Err))
		m.UpdateViewport()
		return m, nil

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height

		m.ModalWidth = msg.Width - 10
		if m.ModalWidth > MaxModalWidth {
			m.ModalWidth = MaxModalWidth
		}
		if m.ModalWidth < MinModalWidth {
			m.ModalWidth = MinModalWidth
		}
		styles.SetContentWidth(m.ModalWidth - 6)

		m.ModelViewport.Width = styles.ContentWidth
		m.ModelViewport.Height = min(max(msg.Height-15, 5), 20)

		chatWidth := msg.Width - 2
		m.Viewport.Width = chatWidth - 2

		m.updateInputLayout()
		m.rebuildRenderer()
		m.reloadCurrent()
		return m, nil
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.updateInputLayout()

	// terminal background and cursor position replies can leak into the input
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
	}

	m.Viewport, vpCmd = m.Viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) updateHistory(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "up", "k":
		if len(m.HistoryChats) > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx - 1 + len(m.HistoryChats)) % len(m.HistoryChats)
		}
	case "down", "j":
		if len(m.HistoryChats) > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx + 1) % len(m.HistoryChats)
		}
	case "enter":
		if len(m.HistoryChats) == 0 {
			return nil
		}
		conv, err := m.Orch.Select(m.HistoryChats[m.HistorySelectedIdx].ID)
		if err != nil {
			m.HistoryErr = err
			return nil
		}
		m.SelectedModelIndex = modelIndex(m.Settings.CurrentModel())
		m.LoadConversation(conv)
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "d", "delete":
		if len(m.HistoryChats) == 0 {
			return nil
		}
		if err := m.Orch.DeleteConversation(m.HistoryChats[m.HistorySelectedIdx].ID); err != nil {
			m.HistoryErr = err
			return nil
		}
		idx := m.HistorySelectedIdx
		m.RefreshHistory()
		if len(m.HistoryChats) == 0 && m.HistoryPage > 0 {
			m.HistoryPage--
			m.RefreshHistory()
		}
		if idx < len(m.HistoryChats) {
			m.HistorySelectedIdx = idx
		} else if len(m.HistoryChats) > 0 {
			m.HistorySelectedIdx = len(m.HistoryChats) - 1
		}
		m.reloadCurrent()
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.RefreshHistory()
		}
	case "right", "l":
		if m.HistoryPage < totalPages(m.HistoryChatCount)-1 {
			m.HistoryPage++
			m.RefreshHistory()
		}
	}
	return nil
}

func (m *Model) updateModelSelector(msg tea.KeyMsg) tea.Cmd {
	all := models.AllModels()
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
	case "up", "k":
		m.SelectedModelIndex = (m.SelectedModelIndex - 1 + len(all)) % len(all)
		m.UpdateModelSelectorContent()
		m.SyncModelViewportScroll()
	case "down", "j":
		m.SelectedModelIndex = (m.SelectedModelIndex + 1) % len(all)
		m.UpdateModelSelectorContent()
		m.SyncModelViewportScroll()
	case "enter":
		mdl := all[m.SelectedModelIndex]
		m.ModelSelectorOpen = false
		if _, err := m.Settings.SetCurrentModel(mdl.ID, mdl.Provider); err != nil {
			m.Messages = append(m.Messages, FormatError(err))
			m.UpdateViewport()
		}
	}
	return nil
}

// runCommand executes a slash command and reports the outcome inline.
func (m *Model) runCommand(cmd Command) tea.Cmd {
	switch cmd.Name {
	case "key":
		if len(cmd.Args) != 2 {
			return m.notice("usage: /key <gemini|requesty> <api key>")
		}
		p, err := models.ParseProvider(cmd.Args[0])
		if err != nil {
			return m.fail(err)
		}
		if err := m.Settings.SetAPIKey(p, cmd.Args[1]); err != nil {
			return m.fail(err)
		}
		return m.notice(p.Label() + " API key saved")

	case "temp":
		if len(cmd.Args) != 1 {
			return m.notice(fmt.Sprintf("usage: /temp <0-2> (current %.2f)", m.Settings.Generation().Temperature))
		}
		t, err := strconv.ParseFloat(cmd.Args[0], 64)
		if err != nil || t < 0 || t > 2 {
			return m.fail(fmt.Errorf("temperature must be a number between 0 and 2"))
		}
		if err := m.Settings.SaveSettings(config.Patch{Temperature: &t}); err != nil {
			return m.fail(err)
		}
		return m.notice(fmt.Sprintf("Temperature set to %.2f", t))

	case "theme":
		if len(cmd.Args) != 1 {
			return m.notice("usage: /theme light|dark|system")
		}
		theme, err := config.ParseTheme(cmd.Args[0])
		if err != nil {
			return m.fail(err)
		}
		if err := m.Settings.SaveSettings(config.Patch{Theme: &theme}); err != nil {
			return m.fail(err)
		}
		styles.ApplyTheme(theme)
		applyInputTheme(&m.TextInput)
		m.rebuildRenderer()
		m.reloadCurrent()
		return m.notice("Theme set to " + string(theme))

	case "clear":
		m.runAction(m.Orch.ResetConversation)
		return nil

	case "new":
		m.runAction(func() error {
			_, err := m.Orch.NewConversation()
			return err
		})
		return nil

	case "delete":
		id := m.Store.CurrentID()
		if id == "" {
			return m.notice("No conversation selected")
		}
		m.runAction(func() error { return m.Orch.DeleteConversation(id) })
		return nil

	case "deleteall":
		m.runAction(m.Orch.DeleteAll)
		return nil

	case "help":
		m.ShortcutsOpen = true
		return nil
	}
	return m.fail(fmt.Errorf("unknown command /%s", cmd.Name))
}

// runAction performs a store mutation and redraws the current conversation.
func (m *Model) runAction(fn func() error) {
	if err := fn(); err != nil {
		m.reloadCurrent()
		m.Messages = append(m.Messages, FormatError(err))
		m.UpdateViewport()
		return
	}
	m.reloadCurrent()
}

func (m *Model) notice(text string) tea.Cmd {
	m.Messages = append(m.Messages, FormatNotice(text))
	m.UpdateViewport()
	return nil
}

func (m *Model) fail(err error) tea.Cmd {
	m.Messages = append(m.Messages, FormatError(err))
	m.UpdateViewport()
	return nil
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)

	lineCount := min(max(WrappedLineCount(m.TextInput.Value(), contentWidth), 1), maxInputHeight)

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lineCount)

	inputBoxHeight := m.TextInput.Height() + 2
	reserved := inputBoxHeight + 5
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}

func (m *Model) rebuildRenderer() {
	width := m.Viewport.Width - 4
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(styles.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		m.Renderer = r
	}
}

func (m *Model) renderMarkdown(content string) string {
	if m.Renderer == nil {
		return content
	}
	rendered, err := m.Renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

func (m *Model) assistantLabel() string {
	return m.Settings.CurrentProvider().Label()
}

func (m *Model) RefreshHistory() {
	m.HistoryErr = nil
	m.HistorySelectedIdx = 0
	all := m.Store.List()
	m.HistoryChatCount = len(all)
	start, end := pageBounds(m.HistoryPage, len(all))
	m.HistoryChats = all[start:end]
}

// reloadCurrent redraws the transcript from the store's current conversation.
func (m *Model) reloadCurrent() {
	if conv, ok := m.Store.Current(); ok {
		m.LoadConversation(conv)
		return
	}
	m.Messages = []string{}
	m.UpdateViewport()
}

// LoadConversation replaces the transcript with conv's messages.
func (m *Model) LoadConversation(conv models.Conversation) {
	m.Messages = []string{}
	label := models.ProviderGemini.Label()
	if p, ok := models.ProviderOf(conv.Model); ok {
		label = p.Label()
	}
	for _, msg := range conv.Messages {
		switch msg.Role {
		case models.RoleUser:
			m.Messages = append(m.Messages, FormatUserMessage(msg.Content, m.Viewport.Width, len(m.Messages) == 0))
		case models.RoleAssistant:
			m.Messages = append(m.Messages, FormatAIMessage(label, m.renderMarkdown(msg.Content)))
		}
	}
	m.UpdateViewport()
}

// SendMessage runs one orchestrated send off the event loop. Fragments are
// forwarded to the program when one is attached.
func (m *Model) SendMessage(input string) tea.Cmd {
	orch := m.Orch
	program := m.Program
	ctx := m.ctx
	return func() tea.Msg {
		var onDelta func(string)
		if program != nil {
			onDelta = func(d string) { program.Send(StreamDeltaMsg{Text: d}) }
		}
		res, err := orch.SendUserMessage(ctx, input, onDelta)
		if err != nil {
			var verr *errs.ValidationError
			if errors.As(err, &verr) && errors.Is(err, errs.ErrMissingCredential) {
				return ErrMsg{Err: fmt.Errorf("%w, set one with /key %s <key>", err, verr.Provider)}
			}
			return ErrMsg{Err: err}
		}
		return ResponseMsg{Result: res}
	}
}
