package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"recruitbot/internal/domain"
	"recruitbot/internal/stream"
)

// rateLimitedCode is the error frame payload for an exhausted owner bucket.
const rateLimitedCode = "rate_limited"

// frameWriter writes protocol frames and flushes each one immediately.
type frameWriter struct {
	w       io.Writer
	flusher http.Flusher
	logger  *slog.Logger
}

func (fw *frameWriter) write(frame string) error {
	if _, err := io.WriteString(fw.w, frame+"\n\n"); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// finish writes a terminal frame. The stream ends either way, so a failed
// write only means the client is gone.
func (fw *frameWriter) finish(frame string) {
	if err := fw.write(frame); err != nil {
		fw.logger.Debug("client gone before final frame", "err", err)
	}
}

// handleStream runs one chat turn: it persists the user message, relays the
// responder's output as delta frames and persists the assistant reply. Only
// a completed reply is stored and followed by the end sentinel.
func (s *Server) handleStream(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeError(rw, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var req domain.StreamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" {
		writeError(rw, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" && req.AttachmentURL == "" {
		writeError(rw, http.StatusBadRequest, "message or attachment is required")
		return
	}

	ctx := r.Context()
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		s.storeError(rw, "get conversation", err)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	s.metrics.StreamsTotal.Inc()
	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()

	logger := s.logger.With("conversation", conv.ID, "owner", conv.OwnerID)
	fw := &frameWriter{w: rw, flusher: flusher, logger: logger}

	if s.limiter != nil && !s.limiter.Allow(conv.OwnerID) {
		s.metrics.RateLimited.Inc()
		logger.Warn("stream rate limited")
		fw.finish(stream.EncodeError(rateLimitedCode))
		return
	}

	var att *domain.Attachment
	if req.AttachmentURL != "" {
		att = &domain.Attachment{URL: req.AttachmentURL, Name: req.AttachmentName, MediaType: req.AttachmentType}
	}
	if _, err := s.store.AddMessage(ctx, domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        req.Message,
		Attachment:     att,
	}); err != nil {
		s.metrics.StreamsFailed.Inc()
		logger.Error("failed to store user message", "err", err)
		fw.finish(stream.EncodeError("could not save message"))
		return
	}
	s.metrics.MessagesStored.Inc()

	tag := conv.Context
	if req.ContextType != "" {
		tag = domain.ContextTag{Kind: domain.ContextKind(req.ContextType), EntityID: req.ContextEntityID}
	}

	start := s.now()
	var reply strings.Builder
	s.metrics.ResponderRequests(s.responder.Name()).Inc()
	err = s.responder.Respond(ctx, domain.ResponderRequest{
		History:    req.History,
		Message:    req.Message,
		Context:    tag,
		Language:   req.Language,
		Attachment: att,
	}, func(text string) error {
		reply.WriteString(text)
		s.metrics.DeltasTotal.Inc()
		return fw.write(stream.EncodeDelta(text))
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("client went away mid-stream", "partial_bytes", reply.Len())
			return
		}
		s.metrics.StreamsFailed.Inc()
		logger.Error("responder failed", "responder", s.responder.Name(), "err", err)
		fw.finish(stream.EncodeError(err.Error()))
		return
	}
	s.metrics.ResponseLatency.Observe(s.now().Sub(start).Seconds())

	if reply.Len() > 0 {
		if _, err := s.store.AddMessage(ctx, domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleAssistant,
			Content:        reply.String(),
		}); err != nil {
			s.metrics.StreamsFailed.Inc()
			logger.Error("failed to store assistant message", "err", err)
			fw.finish(stream.EncodeError("could not save reply"))
			return
		}
		s.metrics.MessagesStored.Inc()
	}

	fw.finish(stream.EncodeDone())
	logger.Debug("stream completed", "bytes", reply.Len(), "elapsed", s.now().Sub(start))
}
