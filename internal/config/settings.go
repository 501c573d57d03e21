package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"cygnos/internal/db"
	"cygnos/internal/errs"
	"cygnos/internal/models"
)

// SettingsKey is the KV key the settings blob is stored under.
const SettingsKey = "cygnos_settings"

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q (want light, dark or system)", s)
}

// Settings is the persisted user selection.
type Settings struct {
	Theme            Theme             `json:"theme"`
	Temperature      float64           `json:"temperature"`
	GeminiAPIKey     string            `json:"geminiApiKey"`
	RequestyAPIKey   string            `json:"requestyApiKey"`
	LastUsedModel    string            `json:"lastUsedModel"`
	LastUsedProvider models.ProviderID `json:"lastUsedProvider"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:            ThemeLight,
		Temperature:      models.DefaultGenerationConfig().Temperature,
		LastUsedModel:    models.DefaultModel,
		LastUsedProvider: models.DefaultProvider,
	}
}

// Patch is a partial settings update; nil fields are left untouched.
type Patch struct {
	Theme            *Theme
	Temperature      *float64
	GeminiAPIKey     *string
	RequestyAPIKey   *string
	LastUsedModel    *string
	LastUsedProvider *models.ProviderID
}

// State is the live selection shared by the orchestrator and the front end:
// current provider and model, API keys, generation parameters and theme.
type State struct {
	mu  sync.RWMutex
	kv  db.KV
	log *slog.Logger

	settings Settings
	provider models.ProviderID
	model    string
	keys     map[models.ProviderID]string
	gen      models.GenerationConfig
	theme    Theme

	// env-provided keys used when nothing is persisted
	fallbackKeys map[models.ProviderID]string
}

func NewState(kv db.KV, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &State{
		kv:           kv,
		log:          logger,
		keys:         map[models.ProviderID]string{},
		fallbackKeys: map[models.ProviderID]string{},
		gen:          models.DefaultGenerationConfig(),
	}
	s.apply(DefaultSettings())
	return s
}

// WithFallbackKeys registers API keys (usually from the environment) that
// are used for a provider whose persisted key is empty. They are never saved.
func (s *State) WithFallbackKeys(gemini, requesty string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackKeys[models.ProviderGemini] = gemini
	s.fallbackKeys[models.ProviderRequesty] = requesty
	return s
}

// Load merges persisted settings over the defaults. A missing key leaves the
// defaults in place; an unreadable blob is logged and ignored.
func (s *State) Load() error {
	raw, ok, err := s.kv.Get(SettingsKey)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return nil
	}

	merged := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		s.log.Warn("ignoring unreadable settings", "error", err)
		return nil
	}

	// keep the model/provider pair consistent with the catalog
	if !models.Supports(merged.LastUsedProvider, merged.LastUsedModel) {
		if p, ok := models.ProviderOf(merged.LastUsedModel); ok {
			merged.LastUsedProvider = p
		} else {
			s.log.Warn("persisted model is not in the catalog, using default",
				"model", merged.LastUsedModel, "provider", merged.LastUsedProvider)
			merged.LastUsedModel = models.DefaultModel
			merged.LastUsedProvider = models.DefaultProvider
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(merged)
	return nil
}

// apply mirrors settings into the live fields. Caller holds mu or owns s.
func (s *State) apply(st Settings) {
	s.settings = st
	s.theme = st.Theme
	s.gen.Temperature = st.Temperature
	s.keys[models.ProviderGemini] = st.GeminiAPIKey
	s.keys[models.ProviderRequesty] = st.RequestyAPIKey
	s.model = st.LastUsedModel
	s.provider = st.LastUsedProvider
}

// SaveSettings merges p into the persisted settings, mirrors the changed
// fields into live state and writes the result. Only a storage failure can
// make it fail.
func (s *State) SaveSettings(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

func (s *State) saveLocked(p Patch) error {
	next := s.settings
	if p.Theme != nil {
		next.Theme = *p.Theme
	}
	if p.Temperature != nil {
		next.Temperature = *p.Temperature
	}
	if p.GeminiAPIKey != nil {
		next.GeminiAPIKey = *p.GeminiAPIKey
	}
	if p.RequestyAPIKey != nil {
		next.RequestyAPIKey = *p.RequestyAPIKey
	}
	if p.LastUsedModel != nil {
		next.LastUsedModel = *p.LastUsedModel
	}
	if p.LastUsedProvider != nil {
		next.LastUsedProvider = *p.LastUsedProvider
	}
	s.apply(next)

	data, err := json.Marshal(next)
	if err != nil {
		return &errs.PersistenceError{Op: "settings", Err: err}
	}
	if err := s.kv.Set(SettingsKey, string(data)); err != nil {
		return &errs.PersistenceError{Op: "settings", Err: err}
	}
	return nil
}

// SetCurrentModel selects model. An empty provider is inferred from the
// catalogs, Gemini first. It reports false without changing anything when
// the model is unknown or does not belong to the given provider.
func (s *State) SetCurrentModel(model string, provider models.ProviderID) (bool, error) {
	if provider == "" {
		p, ok := models.ProviderOf(model)
		if !ok {
			return false, nil
		}
		provider = p
	}
	if !models.Supports(provider, model) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(Patch{LastUsedModel: &model, LastUsedProvider: &provider}); err != nil {
		return true, err
	}
	return true, nil
}

func (s *State) SetAPIKey(p models.ProviderID, key string) error {
	switch p {
	case models.ProviderGemini:
		return s.SaveSettings(Patch{GeminiAPIKey: &key})
	case models.ProviderRequesty:
		return s.SaveSettings(Patch{RequestyAPIKey: &key})
	default:
		return fmt.Errorf("unknown provider %q", p)
	}
}

func (s *State) CurrentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *State) CurrentProvider() models.ProviderID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// APIKey returns the key for p, falling back to the environment key.
func (s *State) APIKey(p models.ProviderID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyLocked(p)
}

func (s *State) keyLocked(p models.ProviderID) string {
	if k := s.keys[p]; k != "" {
		return k
	}
	return s.fallbackKeys[p]
}

func (s *State) CurrentAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyLocked(s.provider)
}

func (s *State) HasCurrentAPIKey() bool {
	return s.CurrentAPIKey() != ""
}

func (s *State) Generation() models.GenerationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *State) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// Settings returns a copy of the persisted settings.
func (s *State) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
