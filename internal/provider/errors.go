package provider

import (
	"fmt"
	"strings"

	"cygnos/internal/errs"
	"cygnos/internal/models"

	"github.com/tidwall/gjson"
)

const rawErrorLimit = 100

// errorMessage pulls a readable message out of an error body. Structured
// envelopes are tried first, then the raw text (truncated), then a generic
// status line. It never fails.
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
		// {"error": {...}} without a message, as relayed by the proxy
		if r := gjson.GetBytes(body, "error.error.message"); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("API request failed: %d", status)
	}
	r := []rune(text)
	if len(r) > rawErrorLimit {
		text = string(r[:rawErrorLimit])
	}
	return fmt.Sprintf("API request failed: %d - %s", status, text)
}

func providerError(p models.ProviderID, status int, msg string) error {
	return &errs.ProviderError{Provider: p, Status: status, Message: msg}
}
