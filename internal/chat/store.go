package chat

import (
	"strings"
	"sync"

	"recruitbot/internal/domain"
)

// Snapshot is a point-in-time copy of the Store for rendering.
type Snapshot struct {
	ActiveConversation string
	Messages           []domain.Message
	Streaming          bool
	StreamingText      string
	Processing         bool
	PendingAttachment  *domain.Attachment
}

// Store holds the conversation panel state: the active conversation, its
// ordered messages, the streaming accumulator and the loading flags.
// Every method is atomic with respect to the others.
//
// Processing is wider than Streaming: it brackets a whole send, including
// conversation creation before any stream is opened.
type Store struct {
	mu            sync.Mutex
	active        string
	messages      []domain.Message
	streaming     bool
	streamingText strings.Builder
	processing    bool
	optimistic    string // id of the in-flight send's user message
	pending       *domain.Attachment
}

func NewStore() *Store {
	return &Store{}
}

// SetActiveConversation switches the active conversation. Switching between
// two distinct conversations clears the message list; assigning an id to a
// panel that had none keeps local messages. The stream session is reset.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" && id != "" && s.active != id {
		s.messages = nil
	}
	s.active = id
	s.resetStreamLocked()
}

// ClearConversation returns the panel to the "new conversation" state: no
// active conversation, no messages, no stream session. Unlike
// ReplaceMessages it applies while a send is processing.
func (s *Store) ClearConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	s.messages = nil
	s.optimistic = ""
	s.resetStreamLocked()
}

// ClaimConversation sets id as active only if no conversation is active yet.
func (s *Store) ClaimConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" {
		return false
	}
	s.active = id
	s.resetStreamLocked()
	return true
}

func (s *Store) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ReplaceMessages replaces the message list with persisted truth. While a
// send is processing, an empty list never erases local messages and the
// send's optimistic user message is kept until the incoming list carries it.
// It reports whether the list was applied.
func (s *Store) ReplaceMessages(list []domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(list)
}

// ReplaceMessagesFor is ReplaceMessages applied only while id is active.
func (s *Store) ReplaceMessagesFor(id string, list []domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return false
	}
	return s.replaceLocked(list)
}

func (s *Store) replaceLocked(list []domain.Message) bool {
	if s.processing && len(list) == 0 && len(s.messages) > 0 {
		return false
	}
	next := append([]domain.Message(nil), list...)
	if s.processing && s.optimistic != "" && !containsID(list, s.optimistic) {
		for _, m := range s.messages {
			if m.ID == s.optimistic {
				next = append(next, m)
				break
			}
		}
	}
	s.messages = next
	return true
}

func containsID(list []domain.Message, id string) bool {
	for _, m := range list {
		if m.ID == id {
			return true
		}
	}
	return false
}

// AppendMessage appends to the end of the list. It never reorders or dedupes.
func (s *Store) AppendMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// AppendOptimisticTo appends the user message of the in-flight send while id
// is active. Reconciles keep it until processing ends.
func (s *Store) AppendOptimisticTo(id string, msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return false
	}
	s.messages = append(s.messages, msg)
	s.optimistic = msg.ID
	return true
}

// AppendMessageTo appends msg only while id is the active conversation.
func (s *Store) AppendMessageTo(id string, msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *Store) SetStreaming(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = v
}

func (s *Store) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *Store) SetStreamingText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamingText.Reset()
	s.streamingText.WriteString(text)
}

// AppendStreamingText grows the accumulator. It is ignored unless streaming.
func (s *Store) AppendStreamingText(delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return false
	}
	s.streamingText.WriteString(delta)
	return true
}

// AppendStreamingTextTo is AppendStreamingText applied only while id is active.
func (s *Store) AppendStreamingTextTo(id, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id || !s.streaming {
		return false
	}
	s.streamingText.WriteString(delta)
	return true
}

func (s *Store) StreamingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingText.String()
}

// BeginStreamFor clears the accumulator and marks streaming for id.
func (s *Store) BeginStreamFor(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return false
	}
	s.streamingText.Reset()
	s.streaming = true
	return true
}

// CompleteStream finalizes the stream session of conversation id: msg gets
// the accumulated text as its content and is appended, then the session is
// reset. It returns the appended message.
func (s *Store) CompleteStream(id string, msg domain.Message) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id || !s.streaming {
		return domain.Message{}, false
	}
	msg.Content = s.streamingText.String()
	s.messages = append(s.messages, msg)
	s.resetStreamLocked()
	return msg, true
}

// EndStreamFor drops the stream session of conversation id without
// producing a message.
func (s *Store) EndStreamFor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id {
		return
	}
	s.resetStreamLocked()
}

func (s *Store) resetStreamLocked() {
	s.streaming = false
	s.streamingText.Reset()
}

func (s *Store) SetProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = v
	if !v {
		s.optimistic = ""
	}
}

func (s *Store) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// TryBeginSend marks processing unless a send is already streaming or
// processing. At most one send may run per Store.
func (s *Store) TryBeginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming || s.processing {
		return false
	}
	s.processing = true
	return true
}

func (s *Store) SetPendingAttachment(a *domain.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = a
}

func (s *Store) PendingAttachment() *domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Reset clears every field, as on session teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	s.messages = nil
	s.processing = false
	s.optimistic = ""
	s.pending = nil
	s.resetStreamLocked()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ActiveConversation: s.active,
		Messages:           append([]domain.Message(nil), s.messages...),
		Streaming:          s.streaming,
		StreamingText:      s.streamingText.String(),
		Processing:         s.processing,
		PendingAttachment:  s.pending,
	}
}
