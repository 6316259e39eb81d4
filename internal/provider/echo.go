package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recruitbot/internal/domain"
)

// Echo is an offline responder that answers deterministically, one word per
// delta. It backs the gateway in development and tests.
type Echo struct {
	delay time.Duration
}

// NewEcho returns an Echo responder that pauses delay between deltas.
func NewEcho(delay time.Duration) *Echo {
	return &Echo{delay: delay}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Healthy(context.Context) error { return nil }

func (e *Echo) Respond(ctx context.Context, req domain.ResponderRequest, onDelta func(string) error) error {
	for i, word := range strings.SplitAfter(EchoReply(req), " ") {
		if i > 0 && e.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(word); err != nil {
			return err
		}
	}
	return nil
}

// EchoReply is the full text Echo produces for req.
func EchoReply(req domain.ResponderRequest) string {
	var sb strings.Builder
	switch {
	case req.Message != "":
		fmt.Fprintf(&sb, "You said: %s", req.Message)
	case req.Attachment != nil:
		fmt.Fprintf(&sb, "You sent %s", req.Attachment.Name)
	default:
		sb.WriteString("You said nothing")
	}
	if req.Attachment != nil && req.Message != "" {
		fmt.Fprintf(&sb, " (with %s)", req.Attachment.Name)
	}
	if !req.Context.IsZero() {
		fmt.Fprintf(&sb, " [context %s]", req.Context)
	}
	if n := len(req.History); n > 0 {
		fmt.Fprintf(&sb, " after %d earlier messages", n)
	}
	return sb.String()
}
