package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"recruitbot/internal/domain"
)

// FailoverResponder tries multiple responders in order, falling back to the
// next one when the current fails before producing any text. Once a delta
// has reached the caller the reply cannot be restarted, so later failures
// are returned as-is.
type FailoverResponder struct {
	responders []domain.Responder
	logger     *slog.Logger
}

// NewFailoverResponder creates a failover chain. At least one responder is required.
func NewFailoverResponder(responders []domain.Responder, logger *slog.Logger) *FailoverResponder {
	return &FailoverResponder{
		responders: responders,
		logger:     logger,
	}
}

func (fr *FailoverResponder) Name() string {
	names := make([]string, len(fr.responders))
	for i, r := range fr.responders {
		names[i] = r.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fr *FailoverResponder) Healthy(ctx context.Context) error {
	for _, r := range fr.responders {
		if err := r.Healthy(ctx); err == nil {
			return nil
		}
	}
	return errors.New("no healthy responder in failover chain")
}

func (fr *FailoverResponder) Respond(ctx context.Context, req domain.ResponderRequest, onDelta func(string) error) error {
	if len(fr.responders) == 0 {
		return errors.New("failover chain is empty")
	}
	var lastErr error
	for i, r := range fr.responders {
		emitted := false
		err := r.Respond(ctx, req, func(text string) error {
			emitted = true
			return onDelta(text)
		})
		if err == nil {
			if i > 0 {
				fr.logger.Info("failover: used fallback responder", "responder", r.Name(), "attempt", i+1)
			}
			return nil
		}
		if emitted || ctx.Err() != nil {
			return err
		}
		lastErr = err
		fr.logger.Warn("failover: responder failed, trying next",
			"responder", r.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return fmt.Errorf("all responders in failover chain failed: %w", lastErr)
}
