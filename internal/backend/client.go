// Package backend is the HTTP client for the recruitbot gateway's
// conversation persistence and attachment endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"recruitbot/internal/domain"
)

// ErrNotFound is returned when the gateway reports 404 for a conversation.
var ErrNotFound = errors.New("not found")

// Client implements domain.ConversationService and domain.AttachmentStore
// against the gateway REST API.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	retryBase time.Duration
	logger    *slog.Logger
}

type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	RetryBase  time.Duration // base backoff between retries of idempotent calls
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		token:     cfg.Token,
		http:      cfg.HTTPClient,
		retryBase: cfg.RetryBase,
		logger:    cfg.Logger,
	}
}

// createConversationRequest is the body of POST /api/conversations.
type createConversationRequest struct {
	OwnerID         string `json:"owner_id"`
	Title           string `json:"title"`
	ContextType     string `json:"context_type,omitempty"`
	ContextEntityID string `json:"context_entity_id,omitempty"`
}

type conversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (c *Client) CreateConversation(ctx context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	body := createConversationRequest{
		OwnerID:         in.OwnerID,
		Title:           in.Title,
		ContextType:     string(in.Context.Kind),
		ContextEntityID: in.Context.EntityID,
	}
	var conv domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	var out conversationsResponse
	path := "/api/conversations?owner_id=" + url.QueryEscape(ownerID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/conversations/"+url.PathEscape(id), map[string]string{"title": title}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out messagesResponse
	if err := c.getJSON(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Upload posts data as multipart field "file" and returns its public URL.
func (c *Client) Upload(ctx context.Context, name, mediaType string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/attachments", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	c.logger.Debug("uploaded attachment", "name", name, "bytes", len(data), "url", out.URL)
	return out.URL, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := doWithRetry(ctx, c.http, c.retryBase, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, nil)
	}, c.logger)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// apiError is the gateway's error body.
type apiError struct {
	Error string `json:"error"`
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Error != "" {
		msg = ae.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}
