package chat

import "recruitbot/internal/domain"

const defaultHistoryWindow = 10

// historyWindow returns the last n messages as conversational context.
func historyWindow(msgs []domain.Message, n int) []domain.HistoryEntry {
	if n <= 0 {
		n = defaultHistoryWindow
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}
