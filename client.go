// Package bizchat provides the Go SDK for the BizFlow360 team-chat service.
//
// The package covers both transport paths the chat service exposes: the
// request/response API (Client) and the live channel (Channel), plus a Session
// that supervises the two and keeps an observable snapshot of rooms, messages,
// presence, and typing state consistent under concurrent events.
//
// Example:
//
//	client := bizchat.NewClient(token)
//	session := bizchat.NewSession(client, bizchat.Identity{
//		User:  bizchat.Sender{ID: "u-42", Name: "Asha"},
//		Token: token,
//	})
//	session.OnChange(func(s bizchat.Snapshot) { render(s) })
//	session.Connect(ctx)
//	session.JoinRoom(ctx, "general")
//	session.SendMessage(ctx, "hello", nil)
package bizchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://chat.bizflow360.app"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 50
)

// ============================================================================
// Client
// ============================================================================

// Client is the request/response chat API client. It is also the fallback
// transport when the live channel is unavailable.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithPageSize sets the history page size requested from the server.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a new chat API client authenticated with a bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:    token,
		baseURL:  DefaultBaseURL,
		pageSize: DefaultPageSize,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer credential.
func (c *Client) SetToken(token string) {
	c.token = token
}

// PageSize returns the configured history page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// do performs a request and decodes the response envelope. A success=false
// envelope becomes the embedded APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("chat API request failed")
	}
	return result, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Rooms
// ============================================================================

type roomListData struct {
	Rooms []map[string]any `json:"rooms"`
}

// ListRooms fetches the full room listing for the authenticated user. Entries
// the server returns without an identifier are dropped.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	result, err := c.do(ctx, "GET", "/api/chat/rooms", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	var data roomListData
	if err := result.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode room list: %w", err)
	}
	rooms := make([]Room, 0, len(data.Rooms))
	for _, raw := range data.Rooms {
		room, err := normalizeRoom(raw)
		if err != nil {
			continue
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

// CreateRoom creates a room and returns its normalized form.
func (c *Client) CreateRoom(ctx context.Context, opts *CreateRoomOptions) (*Room, error) {
	if opts == nil || opts.Name == "" {
		return nil, fmt.Errorf("create room: name is required")
	}
	result, err := c.do(ctx, "POST", "/api/chat/rooms", opts, nil)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	var data struct {
		Room map[string]any `json:"room"`
	}
	if err := result.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode created room: %w", err)
	}
	room, err := normalizeRoom(data.Room)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// MarkRoomRead persists the read state of a room on the server.
func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	if _, err := c.do(ctx, "PUT", "/api/chat/rooms/"+url.PathEscape(roomID)+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark room read: %w", err)
	}
	return nil
}

// ============================================================================
// Messages
// ============================================================================

// GetMessages fetches one page of a room's history. Pages are 1-based and
// newest-first; hasMore reports whether older pages remain.
func (c *Client) GetMessages(ctx context.Context, roomID string, page, pageSize int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	result, err := c.do(ctx, "GET", "/api/chat/rooms/"+url.PathEscape(roomID)+"/messages", nil, map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	var data MessagePage
	if err := result.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode message page: %w", err)
	}
	return &data, nil
}

// PostMessage creates a message in a room via the request/response path and
// returns the server's canonical rendition.
func (c *Client) PostMessage(ctx context.Context, roomID, content string, opts *SendOptions) (*Message, error) {
	payload := map[string]any{"content": content}
	if opts != nil {
		if opts.ReplyTo != "" {
			payload["replyTo"] = opts.ReplyTo
		}
		if len(opts.Mentions) > 0 {
			payload["mentions"] = opts.Mentions
		}
	}
	result, err := c.do(ctx, "POST", "/api/chat/rooms/"+url.PathEscape(roomID)+"/messages", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	var data struct {
		Message json.RawMessage `json:"message"`
	}
	if err := result.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode posted message: %w", err)
	}
	msg, err := NormalizeMessage(data.Message)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return msg, nil
}

// SearchMessages searches message bodies, optionally scoped to one room.
func (c *Client) SearchMessages(ctx context.Context, query, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	q := map[string]string{
		"q":     query,
		"limit": strconv.Itoa(limit),
	}
	if roomID != "" {
		q["roomId"] = roomID
	}
	result, err := c.do(ctx, "GET", "/api/chat/messages/search", nil, q)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	var data struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := result.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	msgs := make([]Message, 0, len(data.Messages))
	for _, raw := range data.Messages {
		msg, err := NormalizeMessage(raw)
		if err != nil {
			continue
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}
