package models

import "strings"

const (
	DefaultModel    = "gemini-2.0-flash"
	DefaultProvider = ProviderGemini

	// DefaultTitle is the placeholder title a conversation carries until
	// its first exchange completes.
	DefaultTitle = "New Chat"

	titleMaxRunes = 30
)

var GeminiModels = []string{
	"gemini-2.5-flash-preview-04-17",
	"gemini-2.5-pro-exp-03-25",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
	"gemini-1.5-pro",
}

var RequestyModels = []string{
	"openai/gpt-4.1-nano",
	"openai/gpt-4.1-mini",
	"openai/o4-mini:high",
	"openai/o4-mini",
	"openai/gpt-4.1",
	"openai/o3-2025-04-16",
	"xai/grok-3-mini-beta:high",
	"xai/grok-3-mini-beta",
	"groq/qwen-qwq-32b",
	"anthropic/claude-3-5-haiku-20241022",
	"anthropic/claude-3-5-sonnet-20241022",
	"anthropic/claude-3-7-sonnet-20250219",
}

// ProxyModels is the list served by the local proxy and accepted by the
// requesty command.
var ProxyModels = append(append([]string{}, RequestyModels...),
	"deepseek/deepseek-chat-v3-0324",
	"deepseek/deepseek-r1-distill-qwen-1.5b",
)

// ModelsFor returns the known model ids of a provider.
func ModelsFor(p ProviderID) []string {
	switch p {
	case ProviderGemini:
		return GeminiModels
	case ProviderRequesty:
		return RequestyModels
	default:
		return nil
	}
}

func Supports(p ProviderID, model string) bool {
	for _, id := range ModelsFor(p) {
		if id == model {
			return true
		}
	}
	return false
}

// ProviderOf infers the provider that serves model. Gemini is checked first.
func ProviderOf(model string) (ProviderID, bool) {
	for _, p := range Providers {
		if Supports(p, model) {
			return p, true
		}
	}
	return "", false
}

// ModelDisplayName turns "vendor/model" ids into "VENDOR: model".
func ModelDisplayName(id string) string {
	vendor, rest, ok := strings.Cut(id, "/")
	if !ok {
		return id
	}
	return strings.ToUpper(vendor) + ": " + rest
}

func AllModels() []AIModel {
	var out []AIModel
	for _, p := range Providers {
		out = append(out, GroupedModels()[p]...)
	}
	return out
}

// GroupedModels returns the catalog keyed by provider. Requesty entries carry
// display names, Gemini ids are shown as-is.
func GroupedModels() map[ProviderID][]AIModel {
	grouped := make(map[ProviderID][]AIModel, len(Providers))
	for _, id := range GeminiModels {
		grouped[ProviderGemini] = append(grouped[ProviderGemini], AIModel{ID: id, Name: id, Provider: ProviderGemini})
	}
	for _, id := range RequestyModels {
		grouped[ProviderRequesty] = append(grouped[ProviderRequesty], AIModel{ID: id, Name: ModelDisplayName(id), Provider: ProviderRequesty})
	}
	return grouped
}

// DeriveTitle builds a conversation title from the first user utterance:
// the first 30 characters, with an ellipsis when anything was cut.
func DeriveTitle(utterance string) string {
	r := []rune(utterance)
	if len(r) <= titleMaxRunes {
		return utterance
	}
	return string(r[:titleMaxRunes]) + "..."
}
