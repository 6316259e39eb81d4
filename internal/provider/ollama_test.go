package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"recruitbot/internal/domain"
)

func ndjson(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, c := range chunks {
		fmt.Fprintln(w, c)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestOllama_StreamsChunks(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		ndjson(w,
			`{"message":{"role":"assistant","content":"Three "},"done":false}`,
			`{"message":{"role":"assistant","content":"candidates"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, DefaultModel: "test-model", Logger: testLogger()})
	req := domain.ResponderRequest{
		Message:  "Who applied?",
		Language: "nl",
		Context:  domain.ContextTag{Kind: domain.ContextVacancy, EntityID: "7"},
		History: []domain.HistoryEntry{
			{Role: domain.RoleUser, Content: "hello"},
			{Role: domain.RoleAssistant, Content: "hi"},
		},
	}
	var deltas []string
	err := o.Respond(context.Background(), req, func(s string) error {
		deltas = append(deltas, s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(deltas, "") != "Three candidates" || len(deltas) != 2 {
		t.Fatalf("unexpected deltas %q", deltas)
	}

	if got.Model != "test-model" || !got.Stream {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d", len(got.Messages))
	}
	sys := got.Messages[0]
	if sys.Role != "system" || !strings.Contains(sys.Content, "vacancy 7") || !strings.Contains(sys.Content, `"nl"`) {
		t.Fatalf("unexpected system prompt %q", sys.Content)
	}
	if last := got.Messages[3]; last.Role != "user" || last.Content != "Who applied?" {
		t.Fatalf("unexpected user turn %+v", last)
	}
}

func TestOllama_ErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ndjson(w,
			`{"message":{"content":"par"},"done":false}`,
			`{"error":"model unloaded"}`,
		)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	var text string
	err := o.Respond(context.Background(), domain.ResponderRequest{Message: "x"}, func(s string) error {
		text += s
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "model unloaded") {
		t.Fatalf("expected model error, got %v", err)
	}
	if text != "par" {
		t.Fatalf("expected partial text, got %q", text)
	}
}

func TestOllama_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		ndjson(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, RetryBase: time.Millisecond, Logger: testLogger()})
	var text string
	err := o.Respond(context.Background(), domain.ResponderRequest{Message: "x"}, func(s string) error {
		text += s
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" || hits.Load() != 2 {
		t.Fatalf("text=%q hits=%d", text, hits.Load())
	}
}

func TestOllama_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, RetryBase: time.Millisecond, Logger: testLogger()})
	err := o.Respond(context.Background(), domain.ResponderRequest{Message: "x"}, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL})
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	srv.Close()
	if err := o.Healthy(context.Background()); err == nil {
		t.Fatal("expected error after server closed")
	}
}

func TestUserContent_Attachment(t *testing.T) {
	att := &domain.Attachment{Name: "cv.pdf", MediaType: "application/pdf", URL: "http://h/files/a.pdf"}
	got := userContent(domain.ResponderRequest{Attachment: att})
	if !strings.Contains(got, "cv.pdf") || !strings.Contains(got, "http://h/files/a.pdf") {
		t.Fatalf("unexpected content %q", got)
	}
	got = userContent(domain.ResponderRequest{Message: "check this", Attachment: att})
	if !strings.HasPrefix(got, "check this\n\n[attached") {
		t.Fatalf("unexpected content %q", got)
	}
}
