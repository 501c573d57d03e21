package ui

import (
	"fmt"
	"strings"
	"time"

	"cygnos/internal/styles"

	"github.com/mattn/go-runewidth"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand reports whether input is a slash command and splits it.
func ParseCommand(input string) (Command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return Command{}, false
	}
	fields := strings.Fields(input[1:])
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	lines := strings.Split(value, "\n")
	count := 0
	for _, line := range lines {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func PromptPreview(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes cuts s to max display cells, ending with an ellipsis when
// anything was dropped.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return runewidth.Truncate(s, max, "…")
}

func RelativeTime(t time.Time, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if d < 24*time.Hour {
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1 hr ago"
		}
		return fmt.Sprintf("%d hrs ago", hrs)
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	weeks := days / 7
	if weeks == 1 {
		return "1 week ago"
	}
	return fmt.Sprintf("%d weeks ago", weeks)
}

// pageBounds returns the slice bounds of page for total items.
func pageBounds(page, total int) (int, int) {
	start := page * HistoryPageSize
	if start > total {
		start = total
	}
	end := start + HistoryPageSize
	if end > total {
		end = total
	}
	return start, end
}

func totalPages(total int) int {
	pages := (total + HistoryPageSize - 1) / HistoryPageSize
	if pages < 1 {
		return 1
	}
	return pages
}

func FormatUserMessage(content string, width int, isFirst bool) string {
	label := styles.UserLabelStyle.Render("YOU")
	msg := styles.UserMsgStyle.Width(max(width-4, 10)).Render(content)
	if isFirst {
		return fmt.Sprintf("\n%s\n%s", label, msg)
	}
	return fmt.Sprintf("%s\n%s", label, msg)
}

func FormatAIMessage(label, content string) string {
	return fmt.Sprintf("%s\n%s", styles.AiLabelStyle.Render(strings.ToUpper(label)), styles.AiMsgStyle.Render(content))
}

func FormatError(err error) string {
	return styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", err))
}

func FormatNotice(text string) string {
	return styles.NoticeStyle.Render(text)
}
