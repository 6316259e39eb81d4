package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"recruitbot/internal/domain"
	"recruitbot/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memConversations is an in-memory ConversationService.
type memConversations struct {
	mu        sync.Mutex
	seq       int
	convs     map[string]domain.Conversation
	msgs      map[string][]domain.Message
	createErr error
	listErr   error
	onCreate  func(id string)
	creates   int
}

func newMemConversations() *memConversations {
	return &memConversations{
		convs: make(map[string]domain.Conversation),
		msgs:  make(map[string][]domain.Message),
	}
}

func (m *memConversations) CreateConversation(_ context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	m.mu.Lock()
	m.creates++
	if m.createErr != nil {
		m.mu.Unlock()
		return nil, m.createErr
	}
	m.seq++
	conv := domain.Conversation{
		ID:      fmt.Sprintf("conv-%d", m.seq),
		OwnerID: in.OwnerID,
		Title:   in.Title,
		Context: in.Context,
	}
	m.convs[conv.ID] = conv
	hook := m.onCreate
	m.mu.Unlock()
	if hook != nil {
		hook(conv.ID)
	}
	return &conv, nil
}

func (m *memConversations) ListConversations(_ context.Context, ownerID string) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Conversation
	for _, c := range m.convs {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memConversations) RenameConversation(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return errors.New("not found")
	}
	c.Title = title
	m.convs[id] = c
	return nil
}

func (m *memConversations) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	delete(m.msgs, id)
	return nil
}

func (m *memConversations) ListMessages(_ context.Context, id string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Message(nil), m.msgs[id]...), nil
}

func (m *memConversations) setMessages(id string, msgs []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[id] = msgs
}

// scriptStreamer decodes a canned body through the real decoder.
type scriptStreamer struct {
	mu       sync.Mutex
	body     string
	requests []domain.StreamRequest
	before   func(req domain.StreamRequest)
}

func (s *scriptStreamer) Stream(ctx context.Context, req domain.StreamRequest, h stream.Handler) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	body, before := s.body, s.before
	s.mu.Unlock()
	if before != nil {
		before(req)
	}
	return stream.NewDecoder(testLogger()).Decode(ctx, strings.NewReader(body), h)
}

func (s *scriptStreamer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func frames(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

type fixture struct {
	conversations *memConversations
	streamer      *scriptStreamer
	store         *Store
	orch          *Orchestrator
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	f := &fixture{
		conversations: newMemConversations(),
		streamer:      &scriptStreamer{body: body},
		store:         NewStore(),
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Store:         f.store,
		Conversations: f.conversations,
		Streamer:      f.streamer,
		OwnerID:       "owner-1",
		Language:      "en",
		Logger:        testLogger(),
	})
	t.Cleanup(f.orch.Close)
	return f
}
