// Package rest implements the engine transport over the chat service's
// REST API, with a WebSocket push channel.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

const historyPageSize = 50

// Config holds REST transport configuration.
type Config struct {
	// BaseURL is the HTTP endpoint, e.g. "https://chat.example.com".
	BaseURL string
	// WSURL is the WebSocket endpoint for the push channel, e.g.
	// "wss://chat.example.com". Defaults to BaseURL with the scheme
	// swapped.
	WSURL string
	// Token is the JWT bearer token identifying the app user.
	Token string

	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client implements transport.Transport and transport.Pusher.
type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
	log     *logger.Logger
	tracer  trace.Tracer
}

var (
	_ transport.Transport = (*Client)(nil)
	_ transport.Pusher    = (*Client)(nil)
)

// New creates a REST transport client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = deriveWSURL(cfg.BaseURL)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		wsURL:   wsURL,
		token:   cfg.Token,
		http:    httpClient,
		log:     log,
		tracer:  otel.Tracer("chatkit/transport/rest"),
	}
}

// PersistMessage uploads a message and returns the server echo.
func (c *Client) PersistMessage(ctx context.Context, conversationID string, msg *model.Message) (*transport.ServerEcho, error) {
	ctx, span := c.tracer.Start(ctx, "rest.PersistMessage",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	var echo transport.ServerEcho
	if err := c.doJSON(ctx, http.MethodPost, c.messagesPath(conversationID), bytes.NewReader(body), "application/json", &echo); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &echo, nil
}

// UploadAttachment streams attachment bytes, reporting request-body
// progress through onProgress.
func (c *Client) UploadAttachment(ctx context.Context, conversationID string, data []byte, mimeType string, onProgress transport.ProgressFunc) (*transport.ServerEcho, error) {
	ctx, span := c.tracer.Start(ctx, "rest.UploadAttachment",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("attachment.bytes", len(data)),
		))
	defer span.End()

	body := &progressReader{
		r:      bytes.NewReader(data),
		total:  int64(len(data)),
		report: onProgress,
	}

	path := fmt.Sprintf("/v1/conversations/%s/attachments", pathSegment(conversationID))
	var echo transport.ServerEcho
	if err := c.doJSON(ctx, http.MethodPost, path, body, mimeType, &echo); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &echo, nil
}

// FetchPreviousMessages returns the history page strictly older than the
// given timestamp.
func (c *Client) FetchPreviousMessages(ctx context.Context, conversationID string, before time.Time) (*transport.Page, error) {
	ctx, span := c.tracer.Start(ctx, "rest.FetchPreviousMessages",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	q := url.Values{}
	q.Set("before", before.UTC().Format(time.RFC3339Nano))
	q.Set("limit", fmt.Sprintf("%d", historyPageSize))
	path := c.messagesPath(conversationID) + "?" + q.Encode()

	var page transport.Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &page, nil
}

// SendTypingPresence is fire-and-forget; errors are logged and swallowed.
func (c *Client) SendTypingPresence(ctx context.Context, conversationID string, started bool) {
	activity := model.Activity{Type: model.ActivityTypingStop, Role: model.RoleAppUser}
	if started {
		activity.Type = model.ActivityTypingStart
	}

	body, err := json.Marshal(&activity)
	if err != nil {
		return
	}

	path := fmt.Sprintf("/v1/conversations/%s/activity", pathSegment(conversationID))
	if err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", nil); err != nil {
		c.log.Debug("typing presence dropped: " + err.Error())
	}
}

// SendPostback delivers an action payload back to the server.
func (c *Client) SendPostback(ctx context.Context, conversationID, actionID string) error {
	ctx, span := c.tracer.Start(ctx, "rest.SendPostback",
		trace.WithAttributes(attribute.String("action.id", actionID)))
	defer span.End()

	body, err := json.Marshal(map[string]string{"action_id": actionID})
	if err != nil {
		return fmt.Errorf("failed to marshal postback: %w", err)
	}

	path := fmt.Sprintf("/v1/conversations/%s/postbacks", pathSegment(conversationID))
	if err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) messagesPath(conversationID string) string {
	return fmt.Sprintf("/v1/conversations/%s/messages", pathSegment(conversationID))
}

// pathSegment maps an unestablished conversation onto the "me" alias; the
// server resolves it from the authenticated app user.
func pathSegment(conversationID string) string {
	if conversationID == "" {
		return "me"
	}
	return url.PathEscape(conversationID)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", transport.ErrConflict, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// progressReader reports upload progress as the HTTP client drains the
// request body.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report transport.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.report != nil && p.total > 0 && n > 0 {
		p.report(float64(p.read) / float64(p.total))
	}
	return n, err
}

func deriveWSURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}
