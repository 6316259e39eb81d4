package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"recruitbot/internal/bus"
	"recruitbot/internal/domain"
	"recruitbot/internal/stream"
)

func TestSend_DeltasThenSentinel(t *testing.T) {
	f := newFixture(t, frames(
		stream.EncodeDelta("Hi"),
		stream.EncodeDelta(" there"),
		stream.EncodeDone(),
	))

	f.streamer.before = func(req domain.StreamRequest) {
		msgs := f.store.Messages()
		last := msgs[len(msgs)-1]
		if last.Role != domain.RoleUser || last.Content != "Hello" {
			t.Errorf("optimistic message missing before stream: %+v", last)
		}
		if !strings.HasPrefix(last.ID, "local-") {
			t.Errorf("optimistic message should have a local id, got %q", last.ID)
		}
		if !f.store.Streaming() || !f.store.Processing() {
			t.Errorf("expected streaming and processing during stream")
		}
		f.conversations.setMessages(req.ConversationID, []domain.Message{
			{ID: "m1", ConversationID: req.ConversationID, Role: domain.RoleUser, Content: "Hello"},
			{ID: "m2", ConversationID: req.ConversationID, Role: domain.RoleAssistant, Content: "Hi there"},
		})
	}

	reply, err := f.orch.Send(context.Background(), SendInput{Text: "Hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Role != domain.RoleAssistant || reply.Content != "Hi there" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	msgs := f.store.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleAssistant || last.Content != "Hi there" {
		t.Fatalf("expected assistant 'Hi there' last, got %+v", last)
	}
	if f.store.Streaming() || f.store.Processing() || f.store.StreamingText() != "" {
		t.Fatal("stream session should be reset after completion")
	}

	f.orch.Wait()
	msgs = f.store.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("expected reconciled persisted messages, got %+v", msgs)
	}
}

func TestSend_ErrorFrameAfterDelta(t *testing.T) {
	f := newFixture(t, frames(
		stream.EncodeDelta("Par"),
		stream.EncodeError("rate_limited"),
		stream.EncodeDelta("never"),
	))

	_, err := f.orch.Send(context.Background(), SendInput{Text: "Hello"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if sendErr.Message != "rate_limited" {
		t.Fatalf("expected 'rate_limited', got %q", sendErr.Message)
	}

	msgs := f.store.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("only the user message should remain, got %+v", msgs)
	}
	if f.store.Streaming() || f.store.Processing() {
		t.Fatal("streaming and processing should both be false after an error")
	}
	if f.store.StreamingText() != "" {
		t.Fatalf("accumulator should be cleared, got %q", f.store.StreamingText())
	}
}

func TestSend_NaturalCloseIsSuccess(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("partial answer")))

	reply, err := f.orch.Send(context.Background(), SendInput{Text: "Hello"})
	if err != nil {
		t.Fatalf("natural close should succeed, got %v", err)
	}
	if reply.Content != "partial answer" {
		t.Fatalf("unexpected content %q", reply.Content)
	}
}

func TestSend_GarbageDoesNotAlterContent(t *testing.T) {
	f := newFixture(t, frames(
		": keep-alive",
		stream.EncodeDelta("a"),
		"data: {not json",
		"event: noise",
		stream.EncodeDelta("b"),
		"",
		stream.EncodeDone(),
	))

	reply, err := f.orch.Send(context.Background(), SendInput{Text: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Content != "ab" {
		t.Fatalf("expected 'ab', got %q", reply.Content)
	}
}

func TestSend_SecondSendRejectedWhileStreaming(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("ok"), stream.EncodeDone()))

	var secondErr error
	f.streamer.before = func(domain.StreamRequest) {
		_, secondErr = f.orch.Send(context.Background(), SendInput{Text: "again"})
	}

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "first"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if !errors.Is(secondErr, ErrBusy) {
		t.Fatalf("expected ErrBusy for second send, got %v", secondErr)
	}
	if got := f.streamer.calls(); got != 1 {
		t.Fatalf("expected one stream, got %d", got)
	}
	users := 0
	for _, m := range f.store.Messages() {
		if m.Role == domain.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("expected one user message, got %d", users)
	}
}

func TestSend_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.orch.Send(context.Background(), SendInput{Text: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if f.store.Processing() || len(f.store.Messages()) != 0 || f.conversations.creates != 0 {
		t.Fatal("rejected send should leave no state")
	}
}

func TestSend_RejectsWithoutOwner(t *testing.T) {
	orch := NewOrchestrator(OrchestratorConfig{
		Conversations: newMemConversations(),
		Streamer:      &scriptStreamer{},
		Logger:        testLogger(),
	})
	defer orch.Close()

	if _, err := orch.Send(context.Background(), SendInput{Text: "hi"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSend_CreationFailureLeavesNoState(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	f.conversations.createErr = errors.New("db down")

	_, err := f.orch.Send(context.Background(), SendInput{Text: "Hello"})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected creation error, got %v", err)
	}
	if len(f.store.Messages()) != 0 {
		t.Fatal("no optimistic message should exist after creation failure")
	}
	if f.store.Processing() || f.store.Streaming() {
		t.Fatal("flags should be reset after creation failure")
	}
	if f.streamer.calls() != 0 {
		t.Fatal("no stream should be opened")
	}
}

func TestSend_CreatesConversationWithDerivedTitle(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "Find senior Go engineers in Berlin with Kubernetes experience"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	convs, _ := f.conversations.ListConversations(context.Background(), "owner-1")
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}
	if convs[0].Title != "Find senior Go engineers in Berlin with..." {
		t.Fatalf("unexpected title %q", convs[0].Title)
	}
	if f.store.ActiveConversation() != convs[0].ID {
		t.Fatalf("new conversation should be active")
	}
	if got := f.streamer.requests[0].ConversationID; got != convs[0].ID {
		t.Fatalf("request should carry conversation id, got %q", got)
	}
}

func TestSend_ReusesActiveConversation(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	f.store.SetActiveConversation("existing")

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.conversations.creates != 0 {
		t.Fatal("should not create a conversation when one is active")
	}
	if got := f.streamer.requests[0].ConversationID; got != "existing" {
		t.Fatalf("expected existing conversation, got %q", got)
	}
}

func TestSend_SwitchDuringCreateAborts(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	f.conversations.onCreate = func(string) {
		f.orch.SwitchConversation("other")
	}

	_, err := f.orch.Send(context.Background(), SendInput{Text: "hi"})
	if !errors.Is(err, ErrSwitched) {
		t.Fatalf("expected ErrSwitched, got %v", err)
	}
	if len(f.store.Messages()) != 0 || f.store.Processing() {
		t.Fatal("switched send should leave no state")
	}
}

func TestSend_SwitchMidStreamCancels(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("late"), stream.EncodeDone()))
	f.store.SetActiveConversation("a")
	f.streamer.before = func(domain.StreamRequest) {
		f.orch.SwitchConversation("b")
	}

	_, err := f.orch.Send(context.Background(), SendInput{Text: "hi"})
	if !errors.Is(err, ErrSwitched) {
		t.Fatalf("expected ErrSwitched, got %v", err)
	}
	if f.store.ActiveConversation() != "b" {
		t.Fatalf("expected b active, got %q", f.store.ActiveConversation())
	}
	if len(f.store.Messages()) != 0 || f.store.Streaming() || f.store.StreamingText() != "" {
		t.Fatalf("conversation b should be untouched: %+v", f.store.Snapshot())
	}
	if f.store.Processing() {
		t.Fatal("processing should be reset")
	}
}

func TestSend_NewConversationMidStreamStartsClean(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("late"), stream.EncodeDone()))
	f.store.SetActiveConversation("a")
	f.store.AppendMessage(domain.Message{ID: "a1", ConversationID: "a", Role: domain.RoleUser, Content: "old in a"})
	f.streamer.before = func(domain.StreamRequest) {
		f.orch.SwitchConversation("")
	}

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "hi"}); !errors.Is(err, ErrSwitched) {
		t.Fatalf("expected ErrSwitched, got %v", err)
	}
	if snap := f.store.Snapshot(); snap.ActiveConversation != "" || len(snap.Messages) != 0 || snap.Processing {
		t.Fatalf("panel should be empty after starting a new conversation: %+v", snap)
	}

	f.streamer.before = nil
	if _, err := f.orch.Send(context.Background(), SendInput{Text: "fresh thread"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := f.streamer.requests[1]
	if req.ConversationID == "a" || len(req.History) != 0 {
		t.Fatalf("new conversation should carry no history from a: %+v", req)
	}
}

func TestSend_SwitchWithoutCancelIsIgnored(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("late"), stream.EncodeDone()))
	f.store.SetActiveConversation("a")
	f.streamer.before = func(domain.StreamRequest) {
		f.store.SetActiveConversation("b")
		f.store.AppendMessage(domain.Message{ID: "b1", Role: domain.RoleUser, Content: "in b"})
	}

	_, err := f.orch.Send(context.Background(), SendInput{Text: "hi"})
	if !errors.Is(err, ErrSwitched) {
		t.Fatalf("expected ErrSwitched, got %v", err)
	}
	msgs := f.store.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Fatalf("conversation b should only hold its own message, got %+v", msgs)
	}
}

func TestSend_HistoryWindowExcludesNewMessage(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	f.store.SetActiveConversation("c1")
	for i := 0; i < 12; i++ {
		f.store.AppendMessage(domain.Message{ID: string(rune('a' + i)), Role: domain.RoleUser, Content: string(rune('a' + i))})
	}

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "newest"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := f.streamer.requests[0]
	if len(req.History) != defaultHistoryWindow {
		t.Fatalf("expected %d history entries, got %d", defaultHistoryWindow, len(req.History))
	}
	if req.History[0].Content != "c" || req.History[len(req.History)-1].Content != "l" {
		t.Fatalf("unexpected history window: %+v", req.History)
	}
	if req.Message != "newest" || req.Language != "en" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSend_ContextFromResolver(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	f.orch.resolver = StaticContext{Kind: domain.ContextCandidate, EntityID: "42"}

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "summarize"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := f.streamer.requests[0]
	if req.ContextType != "candidate" || req.ContextEntityID != "42" {
		t.Fatalf("expected candidate:42, got %q:%q", req.ContextType, req.ContextEntityID)
	}

	if _, err := f.orch.Send(context.Background(), SendInput{
		Text:    "and this one",
		Context: domain.ContextTag{Kind: domain.ContextVacancy, EntityID: "7"},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if req := f.streamer.requests[1]; req.ContextType != "vacancy" || req.ContextEntityID != "7" {
		t.Fatalf("explicit context should win, got %q:%q", req.ContextType, req.ContextEntityID)
	}
}

type memAttachments struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memAttachments) Upload(_ context.Context, name, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[name] = data
	return "https://files.example/" + name, nil
}

func TestSend_AttachmentOnly(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("Parsed the CV."), stream.EncodeDone()))
	f.orch.attachments = &memAttachments{}

	att, err := f.orch.Attach(context.Background(), "cv.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if f.store.PendingAttachment() != att {
		t.Fatal("attachment should be pending")
	}

	if _, err := f.orch.Send(context.Background(), SendInput{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := f.streamer.requests[0]
	if req.AttachmentURL != "https://files.example/cv.pdf" || req.AttachmentName != "cv.pdf" || req.AttachmentType != "application/pdf" {
		t.Fatalf("attachment not forwarded: %+v", req)
	}
	if f.store.PendingAttachment() != nil {
		t.Fatal("pending attachment should be cleared on success")
	}
	convs, _ := f.conversations.ListConversations(context.Background(), "owner-1")
	if convs[0].Title != "cv.pdf" {
		t.Fatalf("expected title from attachment, got %q", convs[0].Title)
	}
	if user := f.store.Messages()[0]; user.Attachment == nil || user.Attachment.Name != "cv.pdf" {
		t.Fatalf("user message should carry the attachment: %+v", user)
	}
}

func TestSend_AttachmentKeptOnError(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeError("too large")))
	f.store.SetPendingAttachment(&domain.Attachment{URL: "u", Name: "cv.pdf"})

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "read this"}); err == nil {
		t.Fatal("expected error")
	}
	if f.store.PendingAttachment() == nil {
		t.Fatal("pending attachment should survive a failed send")
	}
}

func TestAttach_NotConfigured(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.orch.Attach(context.Background(), "a", "text/plain", io.MultiReader()); err == nil {
		t.Fatal("expected error without attachment store")
	}
}

func TestSend_ReconcileFailureKeepsLocalState(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("ok"), stream.EncodeDone()))
	f.conversations.listErr = errors.New("timeout")

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.orch.Wait()
	if got := len(f.store.Messages()); got != 2 {
		t.Fatalf("local messages should remain after failed refresh, got %d", got)
	}
}

func TestSend_EmitsLifecycleEvents(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDelta("Hi"), stream.EncodeDelta("!"), stream.EncodeDone()))
	events := bus.NewEventBus(testLogger())
	f.orch.events = events

	var (
		mu    sync.Mutex
		types []string
	)
	events.On(bus.AllEvents, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type != bus.EventHistoryReconciled {
			types = append(types, e.Type)
		}
	})

	if _, err := f.orch.Send(context.Background(), SendInput{Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{
		bus.EventConversationCreated,
		bus.EventMessageSent,
		bus.EventStreamDelta,
		bus.EventStreamDelta,
		bus.EventStreamCompleted,
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestSend_ParentCancelled(t *testing.T) {
	f := newFixture(t, frames(stream.EncodeDone()))
	ctx, cancel := context.WithCancel(context.Background())
	f.store.SetActiveConversation("a")
	f.streamer.before = func(domain.StreamRequest) { cancel() }

	_, err := f.orch.Send(ctx, SendInput{Text: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.store.Streaming() || f.store.Processing() {
		t.Fatal("flags should be reset after cancellation")
	}
}
