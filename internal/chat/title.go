package chat

import (
	"strings"
	"unicode/utf8"

	"recruitbot/internal/domain"
)

const (
	defaultTitleLength = 40
	untitled           = "New conversation"
)

// deriveTitle builds a conversation title from the first message: its first
// line cut to maxRunes, preferring a word boundary. Attachment-only messages
// are titled after the file.
func deriveTitle(text string, att *domain.Attachment, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultTitleLength
	}
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, "\n\r"); idx > 0 {
		text = strings.TrimSpace(text[:idx])
	}
	if text == "" {
		if att != nil && att.Name != "" {
			return att.Name
		}
		return untitled
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:maxRunes])
	if i := strings.LastIndex(cut, " "); i >= len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
