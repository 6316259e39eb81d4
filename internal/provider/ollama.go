package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"recruitbot/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
	ollamaMaxRetries   = 3
)

// Ollama implements domain.Responder for Ollama (local or cloud).
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	retryBase    time.Duration
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	HTTPClient   *http.Client
	RetryBase    time.Duration
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.HTTPClient == nil {
		// No overall timeout: replies stream for as long as the model talks.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ollama{
		apiBase:      strings.TrimSuffix(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		client:       cfg.HTTPClient,
		retryBase:    cfg.RetryBase,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`
	Error      string    `json:"error"`
}

// Respond streams a reply from /api/chat. Connection failures and 5xx
// responses are retried; once the body is being read nothing is retried.
func (o *Ollama) Respond(ctx context.Context, req domain.ResponderRequest, onDelta func(string) error) error {
	body, err := json.Marshal(ollamaRequest{
		Model:    o.defaultModel,
		Messages: buildMessages(req),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; attempt <= ollamaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * o.retryBase
			o.logger.Warn("retrying ollama request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < ollamaMaxRetries {
				o.logger.Warn("ollama request failed, will retry", "err", err)
				continue
			}
			return fmt.Errorf("ollama request (after %d retries): %w", ollamaMaxRetries, err)
		}

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if attempt < ollamaMaxRetries {
				o.logger.Warn("ollama server error, will retry", "status", resp.StatusCode, "body", string(respBody))
				continue
			}
			return fmt.Errorf("ollama returned %d (after %d retries): %s", resp.StatusCode, ollamaMaxRetries, string(respBody))
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
		}

		return o.readStream(ctx, resp.Body, onDelta)
	}
	return errors.New("ollama: retries exhausted")
}

// readStream reads NDJSON chunks and forwards their content.
func (o *Ollama) readStream(ctx context.Context, body io.ReadCloser, onDelta func(string) error) error {
	defer body.Close()

	decoder := json.NewDecoder(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream decode: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onDelta(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			o.logger.Debug("ollama reply done", "reason", chunk.DoneReason)
			return nil
		}
	}
}

// buildMessages turns a responder request into a chat transcript: a system
// prompt, the history window, then the new user turn.
func buildMessages(req domain.ResponderRequest) []ollamaMsg {
	msgs := make([]ollamaMsg, 0, len(req.History)+2)
	msgs = append(msgs, ollamaMsg{Role: "system", Content: systemPrompt(req)})
	for _, h := range req.History {
		msgs = append(msgs, ollamaMsg{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, ollamaMsg{Role: "user", Content: userContent(req)})
	return msgs
}

func systemPrompt(req domain.ResponderRequest) string {
	var sb strings.Builder
	sb.WriteString("You are a recruiting assistant. You help recruiters screen candidates, write vacancy descriptions and plan interviews. Be concise and factual.")
	if !req.Context.IsZero() {
		fmt.Fprintf(&sb, "\nThe recruiter is currently looking at %s.", describeContext(req.Context))
	}
	if req.Language != "" {
		fmt.Fprintf(&sb, "\nAnswer in the language with code %q.", req.Language)
	}
	return sb.String()
}

func userContent(req domain.ResponderRequest) string {
	if req.Attachment == nil {
		return req.Message
	}
	note := fmt.Sprintf("[attached file %q (%s): %s]", req.Attachment.Name, req.Attachment.MediaType, req.Attachment.URL)
	if req.Message == "" {
		return note
	}
	return req.Message + "\n\n" + note
}

func describeContext(c domain.ContextTag) string {
	if c.EntityID == "" {
		return "the " + string(c.Kind) + " list"
	}
	return string(c.Kind) + " " + c.EntityID
}
