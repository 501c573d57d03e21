package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("  /Key requesty rq-123 ")
	assert.True(t, ok)
	assert.Equal(t, "key", cmd.Name)
	assert.Equal(t, []string{"requesty", "rq-123"}, cmd.Args)

	cmd, ok = ParseCommand("/clear")
	assert.True(t, ok)
	assert.Equal(t, "clear", cmd.Name)
	assert.Empty(t, cmd.Args)

	for _, in := range []string{"hello", "/", "/   ", "what about /this"} {
		_, ok := ParseCommand(in)
		assert.False(t, ok, in)
	}
}

func TestWrappedLineCount(t *testing.T) {
	assert.Equal(t, 1, WrappedLineCount("", 10))
	assert.Equal(t, 1, WrappedLineCount("short", 10))
	assert.Equal(t, 2, WrappedLineCount("exactly ten!", 10))
	assert.Equal(t, 3, WrappedLineCount("a\n\nb", 10))
	// wide runes take two cells each
	assert.Equal(t, 2, WrappedLineCount("日本語日本語", 10))
	assert.Equal(t, 1, WrappedLineCount("anything", 0))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunes("hello", 5))
	assert.Equal(t, "hel…", TruncateRunes("hello", 4))
	assert.Equal(t, "…", TruncateRunes("hello", 1))
	assert.Equal(t, "", TruncateRunes("hello", 0))
}

func TestPromptPreview(t *testing.T) {
	assert.Equal(t, "a b c", PromptPreview("  a\r\nb \n\n c "))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		10 * time.Second:    "just now",
		time.Minute:         "1 min ago",
		5 * time.Minute:     "5 mins ago",
		time.Hour:           "1 hr ago",
		3 * time.Hour:       "3 hrs ago",
		24 * time.Hour:      "1 day ago",
		3 * 24 * time.Hour:  "3 days ago",
		14 * 24 * time.Hour: "2 weeks ago",
		7 * 24 * time.Hour:  "7 days ago",
	}
	for d, want := range cases {
		assert.Equal(t, want, RelativeTime(now.Add(-d), now), d.String())
	}
}

func TestPaging(t *testing.T) {
	start, end := pageBounds(0, 25)
	assert.Equal(t, 0, start)
	assert.Equal(t, 10, end)
	start, end = pageBounds(2, 25)
	assert.Equal(t, 20, start)
	assert.Equal(t, 25, end)
	start, end = pageBounds(5, 25)
	assert.Equal(t, 25, start)
	assert.Equal(t, 25, end)

	assert.Equal(t, 1, totalPages(0))
	assert.Equal(t, 3, totalPages(25))
	assert.Equal(t, 2, totalPages(20))
}
