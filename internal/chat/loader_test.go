package chat

import (
	"context"
	"errors"
	"testing"

	"recruitbot/internal/domain"
)

func newTestLoader(convs *memConversations) (*Loader, *Store) {
	s := NewStore()
	return NewLoader(LoaderConfig{Store: s, Conversations: convs, Logger: testLogger()}), s
}

func TestLoader_RefreshReplacesActive(t *testing.T) {
	convs := newMemConversations()
	convs.setMessages("a", []domain.Message{{ID: "m1"}, {ID: "m2"}})
	l, s := newTestLoader(convs)
	s.SetActiveConversation("a")

	if err := l.Refresh(context.Background(), "a"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(s.Messages()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestLoader_RefreshDiscardedAfterSwitch(t *testing.T) {
	convs := newMemConversations()
	convs.setMessages("a", []domain.Message{{ID: "m1"}})
	l, s := newTestLoader(convs)
	s.SetActiveConversation("b")

	if err := l.Refresh(context.Background(), "a"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("stale refresh should not touch b, got %d messages", got)
	}
}

func TestLoader_RefreshError(t *testing.T) {
	convs := newMemConversations()
	convs.listErr = errors.New("boom")
	l, s := newTestLoader(convs)
	s.SetActiveConversation("a")
	s.AppendMessage(domain.Message{ID: "local-1"})

	if err := l.Refresh(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("local messages should survive, got %d", got)
	}
}

func TestLoader_DeleteActiveClearsPanel(t *testing.T) {
	convs := newMemConversations()
	conv, _ := convs.CreateConversation(context.Background(), domain.NewConversation{OwnerID: "o"})
	l, s := newTestLoader(convs)
	s.SetActiveConversation(conv.ID)
	s.AppendMessage(domain.Message{ID: "m1"})

	if err := l.Delete(context.Background(), conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.ActiveConversation() != "" || len(s.Messages()) != 0 {
		t.Fatalf("panel should be empty after deleting the active conversation: %+v", s.Snapshot())
	}
	list, _ := l.ListConversations(context.Background(), "o")
	if len(list) != 0 {
		t.Fatalf("expected no conversations, got %d", len(list))
	}
}

func TestLoader_Rename(t *testing.T) {
	convs := newMemConversations()
	conv, _ := convs.CreateConversation(context.Background(), domain.NewConversation{OwnerID: "o", Title: "old"})
	l, _ := newTestLoader(convs)

	if err := l.Rename(context.Background(), conv.ID, "Backend hiring"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	list, _ := l.ListConversations(context.Background(), "o")
	if list[0].Title != "Backend hiring" {
		t.Fatalf("expected renamed title, got %q", list[0].Title)
	}
	if err := l.Rename(context.Background(), "missing", "x"); err == nil {
		t.Fatal("expected error for missing conversation")
	}
}

func TestLoader_OpenSwitchesAndLoads(t *testing.T) {
	convs := newMemConversations()
	convs.setMessages("b", []domain.Message{{ID: "b1"}})
	l, s := newTestLoader(convs)
	s.SetActiveConversation("a")
	s.AppendMessage(domain.Message{ID: "a1"})

	if err := l.Open(context.Background(), "b"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	msgs := s.Messages()
	if s.ActiveConversation() != "b" || len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Fatalf("unexpected state after open: %+v", s.Snapshot())
	}
}

func TestLoader_LateRefreshKeepsInflightMessage(t *testing.T) {
	convs := newMemConversations()
	convs.setMessages("c1", []domain.Message{{ID: "p1", Role: domain.RoleUser, Content: "first"}})
	l, s := newTestLoader(convs)
	s.SetActiveConversation("c1")
	s.AppendMessage(domain.Message{ID: "local-1", Role: domain.RoleUser, Content: "first"})
	s.SetProcessing(true)
	s.AppendOptimisticTo("c1", domain.Message{ID: "local-2", Role: domain.RoleUser, Content: "second"})

	if err := l.Refresh(context.Background(), "c1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].ID != "p1" || msgs[1].ID != "local-2" {
		t.Fatalf("in-flight message should survive a late refresh, got %+v", msgs)
	}

	s.SetProcessing(false)
	if err := l.Refresh(context.Background(), "c1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].ID != "p1" {
		t.Fatalf("idle refresh should apply persisted list as is, got %+v", msgs)
	}
}

func TestLoader_DeleteActiveWhileProcessing(t *testing.T) {
	convs := newMemConversations()
	conv, _ := convs.CreateConversation(context.Background(), domain.NewConversation{OwnerID: "o"})
	l, s := newTestLoader(convs)
	s.SetActiveConversation(conv.ID)
	s.AppendMessage(domain.Message{ID: "m1"})
	s.SetProcessing(true)

	if err := l.Delete(context.Background(), conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.ActiveConversation() != "" || len(s.Messages()) != 0 {
		t.Fatalf("deleted conversation should leave the panel: %+v", s.Snapshot())
	}
}

func TestLoader_NilLoggerDefaults(t *testing.T) {
	convs := newMemConversations()
	convs.listErr = errors.New("boom")
	s := NewStore()
	l := NewLoader(LoaderConfig{Store: s, Conversations: convs})
	s.SetActiveConversation("a")

	if err := l.Refresh(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
}
