package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"recruitbot/internal/bus"
	"recruitbot/internal/domain"
	"recruitbot/internal/stream"
)

const reconcileTimeout = 30 * time.Second

// Streamer opens a streaming chat response and decodes it into h.
type Streamer interface {
	Stream(ctx context.Context, req domain.StreamRequest, h stream.Handler) error
}

// SendInput is one user turn.
type SendInput struct {
	Text       string
	Attachment *domain.Attachment // falls back to the Store's pending attachment
	Context    domain.ContextTag  // falls back to the configured ContextResolver
}

// Orchestrator drives a send: lazy conversation creation, the optimistic
// user message, stream consumption and finalization or rollback.
type Orchestrator struct {
	store         *Store
	conversations domain.ConversationService
	attachments   domain.AttachmentStore
	streamer      Streamer
	loader        *Loader
	resolver      domain.ContextResolver
	events        *bus.EventBus
	logger        *slog.Logger

	ownerID       string
	language      string
	historyWindow int
	titleLength   int
	now           func() time.Time

	mu       sync.Mutex
	inflight context.CancelFunc
	sendSeq  uint64

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

type OrchestratorConfig struct {
	Store         *Store
	Conversations domain.ConversationService
	Attachments   domain.AttachmentStore
	Streamer      Streamer
	Loader        *Loader
	Resolver      domain.ContextResolver
	Events        *bus.EventBus
	Logger        *slog.Logger

	OwnerID       string
	Language      string
	HistoryWindow int
	TitleLength   int
	Now           func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Loader == nil {
		cfg.Loader = NewLoader(LoaderConfig{
			Store:         cfg.Store,
			Conversations: cfg.Conversations,
			Events:        cfg.Events,
			Logger:        cfg.Logger,
		})
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.TitleLength <= 0 {
		cfg.TitleLength = defaultTitleLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:         cfg.Store,
		conversations: cfg.Conversations,
		attachments:   cfg.Attachments,
		streamer:      cfg.Streamer,
		loader:        cfg.Loader,
		resolver:      cfg.Resolver,
		events:        cfg.Events,
		logger:        cfg.Logger,
		ownerID:       cfg.OwnerID,
		language:      cfg.Language,
		historyWindow: cfg.HistoryWindow,
		titleLength:   cfg.TitleLength,
		now:           cfg.Now,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
	}
}

func (o *Orchestrator) Store() *Store   { return o.store }
func (o *Orchestrator) Loader() *Loader { return o.loader }

// Send runs one user turn to completion. It returns the assistant message
// on success. Rejected sends (ErrEmptyMessage, ErrBusy, ErrNoSession) leave
// the Store untouched; a failed stream returns *SendError and keeps the
// optimistic user message.
func (o *Orchestrator) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	text := strings.TrimSpace(in.Text)
	att := in.Attachment
	if att == nil {
		att = o.store.PendingAttachment()
	}
	if text == "" && att == nil {
		return nil, ErrEmptyMessage
	}
	if o.ownerID == "" {
		return nil, ErrNoSession
	}
	if !o.store.TryBeginSend() {
		o.logger.Debug("send rejected, another send in flight")
		return nil, ErrBusy
	}

	tag := in.Context
	if tag.IsZero() && o.resolver != nil {
		tag = o.resolver.Resolve()
	}

	convID, err := o.ensureConversation(ctx, text, att, tag)
	if err != nil {
		o.store.SetProcessing(false)
		return nil, err
	}

	streamCtx, seq := o.beginInflight(ctx)
	defer o.endInflight(seq)

	history := historyWindow(o.store.Messages(), o.historyWindow)

	userMsg := domain.Message{
		ID:             newLocalID(),
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        text,
		Attachment:     att,
		CreatedAt:      o.now(),
	}
	if !o.store.AppendOptimisticTo(convID, userMsg) || !o.store.BeginStreamFor(convID) {
		o.store.SetProcessing(false)
		return nil, ErrSwitched
	}
	o.events.Emit(bus.Event{Type: bus.EventMessageSent, ConversationID: convID, Payload: map[string]any{"message": userMsg}})

	req := domain.StreamRequest{
		ConversationID: convID,
		Message:        text,
		History:        history,
		Language:       o.language,
	}
	if !tag.IsZero() {
		req.ContextType = string(tag.Kind)
		req.ContextEntityID = tag.EntityID
	}
	if att != nil {
		req.AttachmentURL = att.URL
		req.AttachmentName = att.Name
		req.AttachmentType = att.MediaType
	}

	var (
		reply   *domain.Message
		failure *SendError
	)
	h := stream.Handler{
		OnDelta: func(delta string) {
			if o.store.AppendStreamingTextTo(convID, delta) {
				o.events.Emit(bus.Event{Type: bus.EventStreamDelta, ConversationID: convID, Payload: map[string]any{"text": delta}})
			}
		},
		OnComplete: func() {
			msg, ok := o.store.CompleteStream(convID, domain.Message{
				ID:             newLocalID(),
				ConversationID: convID,
				Role:           domain.RoleAssistant,
				CreatedAt:      o.now(),
			})
			if !ok {
				return
			}
			reply = &msg
			o.store.SetPendingAttachment(nil)
			o.store.SetProcessing(false)
			o.events.Emit(bus.Event{Type: bus.EventStreamCompleted, ConversationID: convID, Payload: map[string]any{"message": msg}})
		},
		OnError: func(message string) {
			o.store.EndStreamFor(convID)
			o.store.SetProcessing(false)
			failure = &SendError{ConversationID: convID, Message: message}
			o.events.Emit(bus.Event{Type: bus.EventStreamFailed, ConversationID: convID, Payload: map[string]any{"error": message}})
		},
	}

	streamErr := o.streamer.Stream(streamCtx, req, h)

	// Covers cancellation and sessions that ended without a hook.
	o.store.EndStreamFor(convID)
	o.store.SetProcessing(false)

	switch {
	case failure != nil:
		o.logger.Warn("send failed", "conversation", convID, "err", failure.Message)
		return nil, failure
	case reply != nil:
		o.reconcile(convID)
		return reply, nil
	case streamErr != nil:
		if errors.Is(streamErr, context.Canceled) && ctx.Err() == nil {
			return nil, ErrSwitched
		}
		return nil, streamErr
	default:
		return nil, ErrSwitched
	}
}

// ensureConversation returns the active conversation, creating and claiming
// one when the panel has none.
func (o *Orchestrator) ensureConversation(ctx context.Context, text string, att *domain.Attachment, tag domain.ContextTag) (string, error) {
	if id := o.store.ActiveConversation(); id != "" {
		return id, nil
	}
	conv, err := o.conversations.CreateConversation(ctx, domain.NewConversation{
		OwnerID: o.ownerID,
		Title:   deriveTitle(text, att, o.titleLength),
		Context: tag,
	})
	if err != nil {
		o.logger.Error("conversation create failed", "err", err)
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if !o.store.ClaimConversation(conv.ID) {
		return "", ErrSwitched
	}
	o.logger.Info("created conversation", "conversation", conv.ID, "title", conv.Title, "context", tag.String())
	o.events.Emit(bus.Event{Type: bus.EventConversationCreated, ConversationID: conv.ID, Payload: map[string]any{"title": conv.Title}})
	return conv.ID, nil
}

// reconcile refreshes the persisted message list in the background.
func (o *Orchestrator) reconcile(convID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.baseCtx, reconcileTimeout)
		defer cancel()
		_ = o.loader.Refresh(ctx, convID)
	}()
}

func (o *Orchestrator) beginInflight(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendSeq++
	o.inflight = cancel
	return ctx, o.sendSeq
}

func (o *Orchestrator) endInflight(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendSeq == seq && o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}
}

// CancelInflight stops consuming the stream of the in-flight send, if any.
func (o *Orchestrator) CancelInflight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}
}

// SwitchConversation cancels any in-flight send and makes id active.
// An empty id returns the panel to the "new conversation" state.
func (o *Orchestrator) SwitchConversation(id string) {
	o.CancelInflight()
	if id == "" {
		o.store.ClearConversation()
		return
	}
	o.store.SetActiveConversation(id)
}

// OpenConversation switches to id and loads its persisted messages.
func (o *Orchestrator) OpenConversation(ctx context.Context, id string) error {
	o.CancelInflight()
	if err := o.loader.Open(ctx, id); err != nil {
		return err
	}
	o.events.Emit(bus.Event{Type: bus.EventConversationOpened, ConversationID: id})
	return nil
}

// Attach uploads a file and keeps it as the pending attachment for the next send.
func (o *Orchestrator) Attach(ctx context.Context, name, mediaType string, r io.Reader) (*domain.Attachment, error) {
	if o.attachments == nil {
		return nil, errors.New("attachments are not configured")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	url, err := o.attachments.Upload(ctx, name, mediaType, data)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	att := &domain.Attachment{URL: url, Name: name, MediaType: mediaType}
	o.store.SetPendingAttachment(att)
	return att, nil
}

// Wait blocks until background reconciliation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels in-flight work, waits for it and resets the Store.
func (o *Orchestrator) Close() {
	o.CancelInflight()
	o.baseCancel()
	o.wg.Wait()
	o.store.Reset()
}

func newLocalID() string {
	return "local-" + uuid.NewString()
}
