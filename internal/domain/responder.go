package domain

import "context"

// ResponderRequest is what a Responder needs to produce an assistant reply.
type ResponderRequest struct {
	History    []HistoryEntry
	Message    string
	Context    ContextTag
	Language   string
	Attachment *Attachment
}

// Responder produces assistant text incrementally. onDelta is called once per
// fragment, in order; a non-nil error from onDelta aborts the reply.
type Responder interface {
	Name() string
	Respond(ctx context.Context, req ResponderRequest, onDelta func(text string) error) error
	Healthy(ctx context.Context) error
}
