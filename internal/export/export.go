// Package export renders a stored conversation as Markdown, a standalone
// HTML page, or indented JSON.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"cygnos/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown", "":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want md, html or json)", s)
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

func roleHeading(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "You"
	case models.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

func Markdown(conv models.Conversation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", conv.Title)
	fmt.Fprintf(&sb, "- Model: %s\n", conv.Model)
	if !conv.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "- Created: %s\n", conv.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "- Messages: %d\n", len(conv.Messages))
	for _, m := range conv.Messages {
		fmt.Fprintf(&sb, "\n## %s\n\n%s\n", roleHeading(m.Role), strings.TrimRight(m.Content, "\n"))
	}
	return sb.String()
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { max-width: 48rem; margin: 2rem auto; font-family: sans-serif; line-height: 1.5; }
pre { background: #f4f4f4; padding: 0.75rem; overflow-x: auto; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts the Markdown rendering into a minimal standalone page.
// Raw HTML inside messages is not passed through.
func HTML(conv models.Conversation) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(conv)), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: conv.Title, Body: template.HTML(body.String())})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out.String(), nil
}

func JSON(conv models.Conversation) ([]byte, error) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	return append(data, '\n'), nil
}

// Write renders conv in format f to w.
func Write(w io.Writer, conv models.Conversation, f Format) error {
	var data []byte
	switch f {
	case FormatMarkdown:
		data = []byte(Markdown(conv))
	case FormatHTML:
		s, err := HTML(conv)
		if err != nil {
			return err
		}
		data = []byte(s)
	case FormatJSON:
		var err error
		if data, err = JSON(conv); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
	_, err := w.Write(data)
	return err
}
