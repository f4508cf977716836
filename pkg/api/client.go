// Package api is the REST collaborator: a thin typed client for the
// messaging backend. Request/response shapes are the contract; error
// classification (transport vs status) feeds the engine's recovery
// policy.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatsync/pkg/models"
)

const defaultTimeout = 15 * time.Second

// resolveRate bounds best-effort reply-snapshot fetches so a page full
// of unresolved replies cannot stampede the backend.
const resolveRate = 5

// Client talks to the messaging REST API. Safe for concurrent use.
type Client struct {
	base    string
	token   string
	httpc   *fasthttp.Client
	timeout time.Duration
	resolve *rate.Limiter
}

// New creates a client for the given base URL (e.g. "https://host") and
// bearer token.
func New(base, token string) *Client {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Client{
		base:    base,
		token:   token,
		httpc:   &fasthttp.Client{},
		timeout: defaultTimeout,
		resolve: rate.NewLimiter(rate.Limit(resolveRate), resolveRate),
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// ListConversations fetches a page of conversation snapshots, sorted by
// recency.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	var out conversationsResponse
	url := fmt.Sprintf("%s/v1/conversations?limit=%d&offset=%d", c.base, limit, offset)
	if err := c.doJSON(ctx, fasthttp.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches a single conversation snapshot.
func (c *Client) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, fasthttp.MethodGet, c.base+"/v1/conversations/"+id, nil, &out)
	return out, err
}

// ListMessages fetches one page of a conversation's history, newest
// first.
func (c *Client) ListMessages(ctx context.Context, convID string, limit, offset int) ([]models.Message, error) {
	var out messagesResponse
	url := fmt.Sprintf("%s/v1/conversations/%s/messages?limit=%d&offset=%d", c.base, convID, limit, offset)
	if err := c.doJSON(ctx, fasthttp.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateConversation creates a conversation, optionally seeded with a
// first message.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (models.Conversation, error) {
	var out models.Conversation
	err := c.doJSON(ctx, fasthttp.MethodPost, c.base+"/v1/conversations", req, &out)
	return out, err
}

// SendMessage posts a text message and returns the canonical server copy.
func (c *Client) SendMessage(ctx context.Context, convID string, req SendMessageRequest) (models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, fasthttp.MethodPost, c.base+"/v1/conversations/"+convID+"/messages", req, &out)
	return out, err
}

// SendFile uploads one attachment as multipart form data and returns the
// resulting message.
func (c *Client) SendFile(ctx context.Context, convID string, f FileUpload) (models.Message, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return models.Message{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := fw.Write(f.Data); err != nil {
		return models.Message{}, fmt.Errorf("build multipart: %w", err)
	}
	if f.Type != "" {
		if err := mw.WriteField("message_type", string(f.Type)); err != nil {
			return models.Message{}, fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return models.Message{}, fmt.Errorf("build multipart: %w", err)
	}

	var out models.Message
	err = c.do(ctx, fasthttp.MethodPost, c.base+"/v1/conversations/"+convID+"/files", mw.FormDataContentType(), buf.B, &out)
	return out, err
}

// EditMessage replaces a message's content and returns the updated copy.
func (c *Client) EditMessage(ctx context.Context, msgID string, req EditMessageRequest) (models.Message, error) {
	var out models.Message
	err := c.doJSON(ctx, fasthttp.MethodPut, c.base+"/v1/messages/"+msgID, req, &out)
	return out, err
}

// DeleteMessage soft-deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, msgID string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, c.base+"/v1/messages/"+msgID, nil, nil)
}

// MarkRead records the local user as having read the conversation.
func (c *Client) MarkRead(ctx context.Context, convID string) error {
	return c.doJSON(ctx, fasthttp.MethodPut, c.base+"/v1/conversations/"+convID+"/read", nil, nil)
}

// Like records a like on a message or post.
func (c *Client) Like(ctx context.Context, id string) error {
	return c.doJSON(ctx, fasthttp.MethodPost, c.base+"/v1/likes/"+id, nil, nil)
}

// Unlike removes a like.
func (c *Client) Unlike(ctx context.Context, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, c.base+"/v1/likes/"+id, nil, nil)
}

// ResolveMessage fetches a single message for reply-snapshot resolution.
// Calls pass through a small rate limiter; resolution is best effort and
// callers leave the preview blank on failure.
func (c *Client) ResolveMessage(ctx context.Context, msgID string) (models.Message, error) {
	if err := c.resolve.Wait(ctx); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var out models.Message
	err := c.doJSON(ctx, fasthttp.MethodGet, c.base+"/v1/messages/"+msgID, nil, &out)
	return out, err
}

// ChannelAuth exchanges a socket id and channel name for the signed
// subscription grant required by private push channels.
func (c *Client) ChannelAuth(ctx context.Context, socketID, channel string) (string, error) {
	body := struct {
		SocketID string `json:"socket_id"`
		Channel  string `json:"channel_name"`
	}{SocketID: socketID, Channel: channel}
	var out authResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, c.base+"/pusher/auth", body, &out); err != nil {
		return "", err
	}
	return out.Auth, nil
}

// doJSON marshals body (if any) as JSON and performs the request.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
		contentType = "application/json"
	}
	return c.do(ctx, method, url, contentType, payload, out)
}

// do performs one HTTP request with the client deadline (bounded by ctx)
// and decodes a JSON response into out when provided. Transport failures
// come back wrapped in ErrNetwork, non-2xx responses as *StatusError.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.httpc.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, url, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	code := resp.StatusCode()
	if code < 200 || code > 299 {
		b := resp.Body()
		if len(b) > 512 {
			b = b[:512]
		}
		return &StatusError{Code: code, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if len(resp.Body()) == 0 && code == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response (%s %s): %w", method, url, err)
	}
	return nil
}
