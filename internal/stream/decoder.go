package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	defaultChunkSize = 4096

	// maxLineBytes caps a partial line carried between reads.
	maxLineBytes = 1 << 20

	// FallbackErrorMessage is surfaced when a transport failure carries no message.
	FallbackErrorMessage = "failed to get response"
)

// ErrStream wraps an explicit error frame received from the backend.
var ErrStream = errors.New("stream error")

// ErrLineTooLong is returned when the peer sends more than the line cap
// without a newline.
var ErrLineTooLong = errors.New("stream line too long")

// Handler receives decoded events. Each hook is called at most once per
// logical event, in order, never concurrently. Nil hooks are skipped.
type Handler struct {
	OnDelta    func(text string)
	OnComplete func()
	OnError    func(message string)
}

func (h Handler) delta(text string) {
	if h.OnDelta != nil {
		h.OnDelta(text)
	}
}

func (h Handler) complete() {
	if h.OnComplete != nil {
		h.OnComplete()
	}
}

func (h Handler) fail(message string) {
	if message == "" {
		message = FallbackErrorMessage
	}
	if h.OnError != nil {
		h.OnError(message)
	}
}

// Decoder is a pull-based decoder for the line-oriented frame protocol.
type Decoder struct {
	chunkSize int
	maxLine   int
	logger    *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{chunkSize: defaultChunkSize, maxLine: maxLineBytes, logger: logger}
}

// Decode reads r until the end sentinel, an error frame, natural close or a
// read failure, dispatching events to h. A natural close without the sentinel
// completes successfully. Once ctx is cancelled no further hooks run and
// ctx.Err() is returned.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, h Handler) error {
	buf := make([]byte, d.chunkSize)
	var pending []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(bytes.TrimSuffix(pending[:i], []byte{'\r'}))
				pending = pending[i+1:]
				if done, err := d.handleLine(ctx, line, h); done {
					return err
				}
			}
			if len(pending) > d.maxLine {
				d.logger.Error("stream line exceeds limit", "bytes", len(pending), "limit", d.maxLine)
				h.fail(ErrLineTooLong.Error())
				return fmt.Errorf("read stream: %w", ErrLineTooLong)
			}
		}

		if readErr == io.EOF {
			if len(pending) > 0 {
				line := string(bytes.TrimSuffix(pending, []byte{'\r'}))
				if done, err := d.handleLine(ctx, line, h); done {
					return err
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			d.logger.Debug("stream closed without sentinel")
			h.complete()
			return nil
		}
		if readErr != nil {
			// A cancelled request surfaces as a body read error.
			if err := ctx.Err(); err != nil {
				return err
			}
			d.logger.Error("stream read failed", "err", readErr)
			h.fail(readErr.Error())
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// handleLine dispatches one complete line. done reports that decoding must stop.
func (d *Decoder) handleLine(ctx context.Context, line string, h Handler) (done bool, err error) {
	ev, perr := ParseFrame(line)
	switch {
	case errors.Is(perr, ErrNotFrame), errors.Is(perr, ErrEmptyFrame):
		return false, nil
	case perr != nil:
		d.logger.Debug("skipping malformed frame", "line", line, "err", perr)
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return true, err
	}

	switch ev.Kind {
	case EventDelta:
		h.delta(ev.Text)
		return false, nil
	case EventError:
		h.fail(ev.Text)
		return true, fmt.Errorf("%w: %s", ErrStream, ev.Text)
	case EventEnd:
		h.complete()
		return true, nil
	}
	return false, nil
}
