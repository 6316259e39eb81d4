package chat

import (
	"testing"

	"recruitbot/internal/domain"
)

func msg(id, content string) domain.Message {
	return domain.Message{ID: id, Role: domain.RoleUser, Content: content}
}

func TestStore_ReplaceEmptyIgnoredWhileProcessing(t *testing.T) {
	s := NewStore()
	s.AppendMessage(msg("local-1", "hi"))
	s.SetProcessing(true)

	if s.ReplaceMessages(nil) {
		t.Fatal("empty replace should be ignored while processing")
	}
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected local message to survive, got %d messages", got)
	}
}

func TestStore_ReplaceEmptyAppliedWhenIdle(t *testing.T) {
	s := NewStore()
	s.AppendMessage(msg("local-1", "hi"))

	if !s.ReplaceMessages(nil) {
		t.Fatal("empty replace should apply when not processing")
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("expected empty list, got %d", got)
	}
}

func TestStore_ReplaceNonEmptyAppliedWhileProcessing(t *testing.T) {
	s := NewStore()
	s.AppendMessage(msg("local-1", "hi"))
	s.SetProcessing(true)

	if !s.ReplaceMessages([]domain.Message{msg("m1", "hi"), msg("m2", "hello")}) {
		t.Fatal("non-empty replace should apply")
	}
	if got := s.Messages(); len(got) != 2 || got[0].ID != "m1" {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestStore_SwitchBetweenConversationsClears(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.AppendMessage(msg("1", "x"))
	s.SetActiveConversation("b")
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("switch A->B should clear messages, got %d", got)
	}
}

func TestStore_SwitchFromNonePreserves(t *testing.T) {
	s := NewStore()
	s.AppendMessage(msg("1", "x"))
	s.SetActiveConversation("b")
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("switch none->B should keep messages, got %d", got)
	}
}

func TestStore_SwitchSameIDKeepsMessages(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.AppendMessage(msg("1", "x"))
	s.SetActiveConversation("a")
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("re-selecting the same conversation should keep messages, got %d", got)
	}
}

func TestStore_SwitchResetsStream(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.BeginStreamFor("a")
	s.AppendStreamingText("partial")
	s.SetActiveConversation("b")
	if s.Streaming() || s.StreamingText() != "" {
		t.Fatalf("stream should reset on switch: streaming=%v text=%q", s.Streaming(), s.StreamingText())
	}
}

func TestStore_AppendStreamingTextRequiresStreaming(t *testing.T) {
	s := NewStore()
	if s.AppendStreamingText("x") {
		t.Fatal("append should be ignored when not streaming")
	}
	s.SetStreaming(true)
	s.AppendStreamingText("a")
	s.AppendStreamingText("b")
	if got := s.StreamingText(); got != "ab" {
		t.Fatalf("expected 'ab', got %q", got)
	}
}

func TestStore_KeyedOperationsIgnoreOtherConversation(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	if !s.BeginStreamFor("a") {
		t.Fatal("begin stream for active conversation should succeed")
	}
	s.SetActiveConversation("b")

	if s.AppendMessageTo("a", msg("1", "late")) {
		t.Fatal("append to inactive conversation should be rejected")
	}
	if s.AppendStreamingTextTo("a", "late") {
		t.Fatal("streaming append to inactive conversation should be rejected")
	}
	if _, ok := s.CompleteStream("a", domain.Message{Role: domain.RoleAssistant}); ok {
		t.Fatal("completion for inactive conversation should be rejected")
	}
	if s.ReplaceMessagesFor("a", []domain.Message{msg("1", "x")}) {
		t.Fatal("replace for inactive conversation should be rejected")
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("conversation b should be untouched, got %d messages", got)
	}
}

func TestStore_CompleteStreamUsesAccumulator(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.BeginStreamFor("a")
	s.AppendStreamingTextTo("a", "Hi")
	s.AppendStreamingTextTo("a", " there")

	got, ok := s.CompleteStream("a", domain.Message{ID: "r1", Role: domain.RoleAssistant})
	if !ok {
		t.Fatal("expected completion to apply")
	}
	if got.Content != "Hi there" {
		t.Fatalf("expected 'Hi there', got %q", got.Content)
	}
	if s.Streaming() || s.StreamingText() != "" {
		t.Fatal("stream session should be reset after completion")
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != "r1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestStore_TryBeginSend(t *testing.T) {
	s := NewStore()
	if !s.TryBeginSend() {
		t.Fatal("first send should begin")
	}
	if s.TryBeginSend() {
		t.Fatal("second send should be rejected while processing")
	}
	s.SetProcessing(false)
	s.SetStreaming(true)
	if s.TryBeginSend() {
		t.Fatal("send should be rejected while streaming")
	}
}

func TestStore_ClaimConversation(t *testing.T) {
	s := NewStore()
	if !s.ClaimConversation("a") {
		t.Fatal("claim on empty panel should succeed")
	}
	if s.ClaimConversation("b") {
		t.Fatal("claim should fail once a conversation is active")
	}
	if s.ActiveConversation() != "a" {
		t.Fatalf("expected a, got %q", s.ActiveConversation())
	}
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.AppendMessage(msg("1", "x"))
	s.SetProcessing(true)
	s.BeginStreamFor("a")
	s.AppendStreamingText("abc")
	s.SetPendingAttachment(&domain.Attachment{Name: "cv.pdf"})

	s.Reset()
	snap := s.Snapshot()
	if snap.ActiveConversation != "" || len(snap.Messages) != 0 || snap.Streaming ||
		snap.StreamingText != "" || snap.Processing || snap.PendingAttachment != nil {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestStore_MessagesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.AppendMessage(msg("1", "x"))
	got := s.Messages()
	got[0].Content = "mutated"
	if s.Messages()[0].Content != "x" {
		t.Fatal("Messages should return a copy")
	}
}

func TestStore_ClearConversationWhileProcessing(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("a")
	s.SetProcessing(true)
	s.AppendOptimisticTo("a", msg("local-1", "hi"))
	s.BeginStreamFor("a")
	s.AppendStreamingText("partial")

	s.ClearConversation()
	snap := s.Snapshot()
	if snap.ActiveConversation != "" || len(snap.Messages) != 0 || snap.Streaming || snap.StreamingText != "" {
		t.Fatalf("expected an empty panel, got %+v", snap)
	}
	if !snap.Processing {
		t.Fatal("processing belongs to the in-flight send and should be left alone")
	}
}
