package store

import (
	"strings"

	"github.com/google/uuid"
)

const maxTitleRunes = 64

// newKey returns a random identifier for internal row keys.
func newKey() string {
	return uuid.NewString()
}

// threadTitle derives a display title from the first user message.
func threadTitle(content string) string {
	text := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if text == "" {
		return "New Chat"
	}
	runes := []rune(text)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "…"
	}
	return text
}
