package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"recruitbot/internal/domain"
)

const streamPath = "/api/chat/stream"

// Client opens the backend streaming endpoint and decodes its response.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	decoder *Decoder
	logger  *slog.Logger
}

type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		decoder: NewDecoder(cfg.Logger),
		logger:  cfg.Logger,
	}
}

// Stream posts req and feeds the response through the decoder. Failures to
// open the stream are reported to h as a single error event.
func (c *Client) Stream(ctx context.Context, req domain.StreamRequest, h Handler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return c.openFailed(ctx, h, fmt.Errorf("marshal: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		return c.openFailed(ctx, h, fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("opening stream", "conversation", req.ConversationID, "history", len(req.History))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.openFailed(ctx, h, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.openFailed(ctx, h, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	return c.decoder.Decode(ctx, resp.Body, h)
}

func (c *Client) openFailed(ctx context.Context, h Handler, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Error("stream open failed", "err", err)
	h.fail(err.Error())
	return err
}
