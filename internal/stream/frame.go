package stream

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	framePrefix  = "data: "
	doneSentinel = "[DONE]"
)

var (
	// ErrNotFrame is returned by ParseFrame for lines without the frame marker.
	ErrNotFrame = errors.New("not a frame")
	// ErrEmptyFrame is returned for payloads carrying neither text nor error.
	ErrEmptyFrame = errors.New("frame carries no event")
)

// EventKind tags a decoded Event.
type EventKind int

const (
	EventDelta EventKind = iota + 1
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol event. Text holds the delta for EventDelta
// and the message for EventError; it is empty for EventEnd.
type Event struct {
	Kind EventKind
	Text string
}

// framePayload is the loosely typed JSON body of a frame.
type framePayload struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

// ParseFrame decodes a single line. Lines without the "data: " marker yield
// ErrNotFrame; payloads that fail to deserialize yield the JSON error.
func ParseFrame(line string) (Event, error) {
	if !strings.HasPrefix(line, framePrefix) {
		return Event{}, ErrNotFrame
	}
	data := strings.TrimPrefix(line, framePrefix)
	if data == doneSentinel {
		return Event{Kind: EventEnd}, nil
	}

	var p framePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Event{}, err
	}
	switch {
	case p.Error != nil:
		return Event{Kind: EventError, Text: *p.Error}, nil
	case p.Text != nil:
		return Event{Kind: EventDelta, Text: *p.Text}, nil
	default:
		return Event{}, ErrEmptyFrame
	}
}

// EncodeDelta renders a delta frame line, without the trailing newline.
func EncodeDelta(text string) string {
	data, _ := json.Marshal(map[string]string{"text": text})
	return framePrefix + string(data)
}

// EncodeError renders an error frame line, without the trailing newline.
func EncodeError(message string) string {
	data, _ := json.Marshal(map[string]string{"error": message})
	return framePrefix + string(data)
}

// EncodeDone renders the end-of-stream sentinel frame line.
func EncodeDone() string {
	return framePrefix + doneSentinel
}
