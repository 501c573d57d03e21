package ui

import (
	"fmt"
	"strings"
	"time"

	"cygnos/internal/models"
	"cygnos/internal/styles"

	"github.com/charmbracelet/lipgloss"
)

func (m *Model) UpdateModelSelectorContent() {
	var items []string
	var lastProvider models.ProviderID
	current := m.Settings.CurrentModel()
	for i, mdl := range models.AllModels() {
		if mdl.Provider != lastProvider {
			if lastProvider != "" {
				items = append(items, "")
			}
			header := styles.ModalHeaderStyle.
				Foreground(styles.ProviderColor(mdl.Provider)).
				Render(mdl.Provider.Label())
			items = append(items, header)
			lastProvider = mdl.Provider
		}

		isCurrent := current == mdl.ID
		displayName := "  " + mdl.Name
		if isCurrent {
			displayName = "● " + mdl.Name
		}

		var styledItem string
		if i == m.SelectedModelIndex {
			styledItem = styles.ModalSelectedStyle.Render(displayName)
		} else {
			style := styles.ModalItemStyle.Foreground(styles.CurrentTheme.TextPrimary)
			if isCurrent {
				style = style.Foreground(styles.CurrentTheme.Secondary)
			}
			styledItem = style.Render(displayName)
		}
		items = append(items, styledItem)
	}

	m.ModelViewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, items...))
}

// SyncModelViewportScroll keeps the selected row, and its provider header
// when it is the first row of a group, inside the selector viewport.
func (m *Model) SyncModelViewportScroll() {
	var y int
	var lastProvider models.ProviderID
	all := models.AllModels()
	for i, mdl := range all {
		if mdl.Provider != lastProvider {
			if lastProvider != "" {
				y++
			}
			y++
			lastProvider = mdl.Provider
		}
		// the group header sits one row above its first model
		top := y
		if i == 0 || all[i-1].Provider != mdl.Provider {
			top = y - 1
		}

		if i == m.SelectedModelIndex {
			if y+1 > m.ModelViewport.YOffset+m.ModelViewport.Height {
				m.ModelViewport.SetYOffset(y + 1 - m.ModelViewport.Height)
			}
			if top < m.ModelViewport.YOffset {
				m.ModelViewport.SetYOffset(top)
			}
			return
		}
		y++
	}
}

func (m *Model) RenderModelSelector() string {
	title := styles.ModalTitleStyle.Render("Select AI Model")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View())

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • Enter: select • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderHistorySelector() string {
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Conversations (%d) - Page %d/%d",
		m.HistoryChatCount, m.HistoryPage+1, totalPages(m.HistoryChatCount)))

	var body string
	switch {
	case m.HistoryErr != nil:
		body = lipgloss.NewStyle().Width(styles.ContentWidth).Render(FormatError(m.HistoryErr))
	case len(m.HistoryChats) == 0:
		body = styles.ModalItemStyle.Render(lipgloss.NewStyle().Foreground(styles.HintColor).Render("No conversations yet"))
	default:
		now := time.Now()
		currentID := m.Store.CurrentID()
		items := make([]string, 0, len(m.HistoryChats))
		for i, conv := range m.HistoryChats {
			cursor := "  "
			if i == m.HistorySelectedIdx {
				cursor = "> "
			} else if conv.ID == currentID {
				cursor = "● "
			}
			timeStr := RelativeTime(conv.CreatedAt, now)
			name := PromptPreview(conv.Title)
			if name == "" {
				name = models.DefaultTitle
			}
			available := styles.ContentWidth - 2 - len(cursor) - 1 - len(timeStr)
			name = TruncateRunes(name, available)

			line := fmt.Sprintf("%s%s %s", cursor, name, lipgloss.NewStyle().Foreground(styles.HintColor).Render(timeStr))
			if i == m.HistorySelectedIdx {
				items = append(items, styles.ModalSelectedStyle.Render(line))
			} else {
				items = append(items, styles.ModalItemStyle.Render(line))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • ←/→: page • Enter: open • d: delete • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

var shortcuts = []struct {
	key  string
	desc string
}{
	{"Ctrl+C", "Quit"},
	{"Ctrl+N", "New conversation"},
	{"Ctrl+B", "Select AI model"},
	{"Ctrl+H", "Conversation history"},
	{"Ctrl+S", "Shortcuts (this menu)"},
	{"/key", "/key <provider> <api key>"},
	{"/temp", "/temp <0-2>"},
	{"/theme", "/theme light|dark|system"},
	{"/clear", "Clear this conversation"},
	{"/new", "New conversation"},
	{"/delete", "Delete this conversation"},
	{"/deleteall", "Delete every conversation"},
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	var items []string
	desc := lipgloss.NewStyle().Foreground(styles.CurrentTheme.TextPrimary)
	for _, s := range shortcuts {
		items = append(items, styles.ModalItemStyle.Render(styles.KeyStyle.Render(s.key)+" "+desc.Render(s.desc)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...))
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("Esc/Enter: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderBottomBar() string {
	p := m.Settings.CurrentProvider()
	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(styles.ProviderColor(p)).
		Padding(0, 1).
		Render(strings.ToUpper(p.Label()))

	model := lipgloss.NewStyle().
		Foreground(styles.CurrentTheme.Primary).
		Render(TruncateRunes(models.ModelDisplayName(m.Settings.CurrentModel()), 32))

	title := models.DefaultTitle
	count := 0
	if conv, ok := m.Store.Current(); ok {
		title = conv.Title
		count = len(conv.Messages)
	}
	conv := lipgloss.NewStyle().
		Foreground(styles.CurrentTheme.TextSecondary).
		Render(TruncateRunes(title, 28))

	key := "no key"
	if m.Settings.HasCurrentAPIKey() {
		key = "key set"
	}
	info := lipgloss.NewStyle().
		Foreground(styles.CurrentTheme.TextMuted).
		Render(fmt.Sprintf("%d msgs  temp %.1f  %s", count, m.Settings.Generation().Temperature, key))

	help := lipgloss.NewStyle().
		Foreground(styles.CurrentTheme.TextMuted).
		Render("Help: ^S")

	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, badge, "  ", model, "  ", conv)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, info, "  ", help)

	spacer := strings.Repeat(" ", max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0))
	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, spacer, rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.CurrentTheme.Border).
		Padding(0, 1).
		Render(bar)
}

func GetWelcomeScreen(width, height int) string {
	art := `
  ██████ ██    ██  ██████  ███    ██  ██████  ███████
 ██       ██  ██  ██       ████   ██ ██    ██ ██
 ██        ████   ██   ███ ██ ██  ██ ██    ██ ███████
 ██         ██    ██    ██ ██  ██ ██ ██    ██      ██
  ██████    ██     ██████  ██   ████  ██████  ███████
`
	subtitle := "Gemini and Requesty in one terminal. Ctrl+B picks a model, Ctrl+S lists shortcuts."

	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.WelcomeArtStyle.Render(art),
		"",
		styles.WelcomeSubtitleStyle.Render(subtitle),
	)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) UpdateViewport() {
	if len(m.Messages) == 0 && !m.Loading {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		return
	}

	content := strings.Join(m.Messages, "\n\n")
	if m.Loading {
		var pending string
		if m.Pending != "" {
			pending = FormatAIMessage(m.assistantLabel(), m.Pending)
		} else {
			pending = fmt.Sprintf("%s\n%s Thinking...", styles.AiLabelStyle.Render(strings.ToUpper(m.assistantLabel())), m.Spinner.View())
		}
		if content != "" {
			content += "\n\n"
		}
		content += pending
	}
	m.Viewport.SetContent(content)
	m.Viewport.GotoBottom()
}

func (m *Model) View() string {
	inputBox := styles.InputBoxStyle.Width(max(m.WindowWidth-4, 10)).Render(m.TextInput.View())

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("CYGNOS"),
		"",
		m.Viewport.View(),
		"",
		inputBox,
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)
	content := lipgloss.JoinVertical(lipgloss.Left, chatArea, m.RenderBottomBar())

	var modal string
	switch {
	case m.HistoryOpen:
		modal = m.RenderHistorySelector()
	case m.ModelSelectorOpen:
		modal = m.RenderModelSelector()
	case m.ShortcutsOpen:
		modal = m.RenderShortcutsModal()
	default:
		return content
	}

	modal = styles.ModalStyle.Width(m.ModalWidth).Render(modal)
	return lipgloss.Place(m.WindowWidth, m.WindowHeight, lipgloss.Center, lipgloss.Center, modal)
}
