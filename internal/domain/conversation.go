package domain

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextKind is the coarse topic a conversation is about.
type ContextKind string

const (
	ContextNone      ContextKind = ""
	ContextCandidate ContextKind = "candidate"
	ContextVacancy   ContextKind = "vacancy"
)

// ContextTag describes what domain object a conversation is "about".
// The zero value means no context.
type ContextTag struct {
	Kind     ContextKind `json:"type,omitempty" yaml:"type,omitempty"`
	EntityID string      `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
}

// IsZero reports whether the tag carries no context.
func (c ContextTag) IsZero() bool { return c.Kind == ContextNone }

func (c ContextTag) String() string {
	if c.IsZero() {
		return "none"
	}
	if c.EntityID == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + ":" + c.EntityID
}

type Conversation struct {
	ID        string     `json:"id" yaml:"id"`
	OwnerID   string     `json:"owner_id" yaml:"owner_id"`
	Title     string     `json:"title" yaml:"title"`
	Context   ContextTag `json:"context" yaml:"context"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Attachment references a file already placed in the attachment store.
type Attachment struct {
	URL       string `json:"url" yaml:"url"`
	Name      string `json:"name" yaml:"name"`
	MediaType string `json:"type" yaml:"type"`
}

type Message struct {
	ID             string      `json:"id" yaml:"id"`
	ConversationID string      `json:"conversation_id" yaml:"conversation_id"`
	Role           Role        `json:"role" yaml:"role"`
	Content        string      `json:"content" yaml:"content"`
	Attachment     *Attachment `json:"attachment,omitempty" yaml:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at" yaml:"created_at"`
}

// NewConversation is the payload for ConversationService.CreateConversation.
type NewConversation struct {
	OwnerID string     `json:"owner_id"`
	Title   string     `json:"title"`
	Context ContextTag `json:"context"`
}

// ConversationService is the persistence service for conversations and their
// messages. Messages are returned ordered by creation time, oldest first.
type ConversationService interface {
	CreateConversation(ctx context.Context, conv NewConversation) (*Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// AttachmentStore accepts a binary blob and returns a publicly resolvable URL.
type AttachmentStore interface {
	Upload(ctx context.Context, name, mediaType string, data []byte) (string, error)
}

// ContextResolver derives the context tag from ambient navigation state.
type ContextResolver interface {
	Resolve() ContextTag
}
