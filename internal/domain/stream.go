package domain

// HistoryEntry is one prior turn sent to the backend as conversational context.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body of the streaming chat endpoint.
type StreamRequest struct {
	ConversationID  string         `json:"conversation_id"`
	Message         string         `json:"message"`
	History         []HistoryEntry `json:"history"`
	ContextType     string         `json:"context_type,omitempty"`
	ContextEntityID string         `json:"context_entity_id,omitempty"`
	Language        string         `json:"language,omitempty"`
	AttachmentURL   string         `json:"attachment_url,omitempty"`
	AttachmentName  string         `json:"attachment_name,omitempty"`
	AttachmentType  string         `json:"attachment_type,omitempty"`
}
