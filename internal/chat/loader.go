package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"recruitbot/internal/bus"
	"recruitbot/internal/domain"
)

// Loader fetches persisted conversations and reconciles the Store with the
// persisted message list.
type Loader struct {
	store         *Store
	conversations domain.ConversationService
	events        *bus.EventBus
	logger        *slog.Logger
}

type LoaderConfig struct {
	Store         *Store
	Conversations domain.ConversationService
	Events        *bus.EventBus
	Logger        *slog.Logger
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{
		store:         cfg.Store,
		conversations: cfg.Conversations,
		events:        cfg.Events,
		logger:        cfg.Logger,
	}
}

func (l *Loader) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	convs, err := l.conversations.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Open makes id the active conversation and loads its persisted messages.
func (l *Loader) Open(ctx context.Context, id string) error {
	l.store.SetActiveConversation(id)
	return l.Refresh(ctx, id)
}

// Refresh fetches the persisted messages of conversation id and replaces the
// Store's list with them if id is still active. A fetch that resolves after
// the panel moved on is dropped.
func (l *Loader) Refresh(ctx context.Context, id string) error {
	msgs, err := l.conversations.ListMessages(ctx, id)
	if err != nil {
		l.logger.Warn("message refresh failed", "conversation", id, "err", err)
		return fmt.Errorf("list messages: %w", err)
	}
	if !l.store.ReplaceMessagesFor(id, msgs) {
		l.logger.Debug("refresh result discarded", "conversation", id, "messages", len(msgs))
		return nil
	}
	l.events.Emit(bus.Event{
		Type:           bus.EventHistoryReconciled,
		ConversationID: id,
		Payload:        map[string]any{"messages": len(msgs)},
	})
	return nil
}

func (l *Loader) Rename(ctx context.Context, id, title string) error {
	if err := l.conversations.RenameConversation(ctx, id, title); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation. If it was active the panel returns to the
// empty "new conversation" state.
func (l *Loader) Delete(ctx context.Context, id string) error {
	if err := l.conversations.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if l.store.ActiveConversation() == id {
		l.store.ClearConversation()
	}
	return nil
}
