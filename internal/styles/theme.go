package styles

import (
	"cygnos/internal/config"
	"cygnos/internal/models"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines a complete color scheme for the application
type Theme struct {
	Name string

	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color

	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	TextMuted     lipgloss.Color

	Error     lipgloss.Color
	Border    lipgloss.Color
	Selection lipgloss.Color
}

var DarkTheme = Theme{
	Name:      "dark",
	Primary:   lipgloss.Color("#B39DDB"),
	Secondary: lipgloss.Color("#90CAF9"),
	Accent:    lipgloss.Color("#FFCC80"),

	TextPrimary:   lipgloss.Color("#E0E0E0"),
	TextSecondary: lipgloss.Color("#888888"),
	TextMuted:     lipgloss.Color("#545454"),

	Error:     lipgloss.Color("#EF9A9A"),
	Border:    lipgloss.Color("#333333"),
	Selection: lipgloss.Color("#5C5C7A"),
}

var LightTheme = Theme{
	Name:      "light",
	Primary:   lipgloss.Color("#5E35B1"),
	Secondary: lipgloss.Color("#1E88E5"),
	Accent:    lipgloss.Color("#EF6C00"),

	TextPrimary:   lipgloss.Color("#212121"),
	TextSecondary: lipgloss.Color("#616161"),
	TextMuted:     lipgloss.Color("#9E9E9E"),

	Error:     lipgloss.Color("#C62828"),
	Border:    lipgloss.Color("#E0E0E0"),
	Selection: lipgloss.Color("#D1C4E9"),
}

// CurrentTheme holds the active theme
var CurrentTheme = DarkTheme

var providerColors = map[models.ProviderID]lipgloss.Color{
	models.ProviderGemini:   lipgloss.Color("#CE93D8"),
	models.ProviderRequesty: lipgloss.Color("#80CBC4"),
}

// ProviderColor returns the header color for a provider
func ProviderColor(p models.ProviderID) lipgloss.Color {
	if c, ok := providerColors[p]; ok {
		return c
	}
	return CurrentTheme.Primary
}

// Resolve picks the palette for a theme setting. "system" follows the
// terminal background.
func Resolve(t config.Theme) Theme {
	switch t {
	case config.ThemeLight:
		return LightTheme
	case config.ThemeDark:
		return DarkTheme
	default:
		if lipgloss.HasDarkBackground() {
			return DarkTheme
		}
		return LightTheme
	}
}

// ApplyTheme makes t current and rebuilds every style from it.
func ApplyTheme(t config.Theme) {
	CurrentTheme = Resolve(t)
	build(CurrentTheme)
}

// GlamourStyle is the glamour standard style matching the current theme.
func GlamourStyle() string {
	return CurrentTheme.Name
}
