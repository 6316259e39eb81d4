package chat

import "errors"

var (
	ErrEmptyMessage = errors.New("message has no text and no attachment")
	ErrBusy         = errors.New("a message is already being sent")
	ErrNoSession    = errors.New("no session: owner id is not configured")
	// ErrSwitched means the active conversation changed before the send could
	// attribute its result.
	ErrSwitched = errors.New("active conversation changed during send")
)

// SendError carries a stream, protocol or transport failure surfaced verbatim.
type SendError struct {
	ConversationID string
	Message        string
}

func (e *SendError) Error() string { return e.Message }
