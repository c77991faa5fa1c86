package bizchat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// ChannelEnvelope is the wire format for all live-channel events.
type ChannelEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ChannelCommand is a client-to-server command.
type ChannelCommand struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// Inbound event names.
const (
	EventConnectionSuccess = "connection_success"
	EventConnectionError   = "connection_error"
	EventDisconnected      = "disconnected"
	EventError             = "error"
	EventNewMessage        = "new_message"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventOnlineUsers       = "online_users"
	EventMention           = "mention_notification"
)

// Outbound event names.
const (
	CommandJoinRoom    = "join_room"
	CommandLeaveRoom   = "leave_room"
	CommandSendMessage = "send_message"
	CommandRoomRead    = "room_read"
)

// ============================================================================
// Event payloads
// ============================================================================

// ConnectedPayload is the body of the handshake frame.
type ConnectedPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// RoomUserPayload accompanies user_joined and user_left.
type RoomUserPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	RoomID   string `json:"roomId"`
}

// OnlineUsersPayload is a full presence snapshot for one room.
type OnlineUsersPayload struct {
	RoomID string       `json:"roomId"`
	Users  []OnlineUser `json:"users"`
}

// MentionPayload accompanies mention_notification.
type MentionPayload struct {
	RoomID    string          `json:"roomId"`
	MessageID string          `json:"messageId,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// ChannelErrorPayload is a server-side error report.
type ChannelErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Event dispatcher
// ============================================================================

// ChannelEventHandler is the generic event callback type.
type ChannelEventHandler func(event string, payload json.RawMessage)

// Handlers run synchronously on the channel's read loop, in registration
// order, so state mutations observe events in wire order.
type dispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]ChannelEventHandler
	onNewMessage   []func(json.RawMessage)
	onTyping       []func(TypingIndicator)
	onStopTyping   []func(TypingIndicator)
	onOnlineUsers  []func(OnlineUsersPayload)
	onUserJoined   []func(RoomUserPayload)
	onUserLeft     []func(RoomUserPayload)
	onMention      []func(MentionPayload)
	onError        []func(ChannelErrorPayload)
	onConnected    []func(ConnectedPayload)
	onDisconnected []func(reason string)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		generic: make(map[string][]ChannelEventHandler),
	}
}

func (d *dispatcher) dispatch(env ChannelEnvelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case EventNewMessage:
		for _, h := range d.onNewMessage {
			h(env.Payload)
		}
	case EventUserTyping:
		var p TypingIndicator
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case EventUserStoppedTyping:
		var p TypingIndicator
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onStopTyping {
				h(p)
			}
		}
	case EventOnlineUsers:
		var p OnlineUsersPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onOnlineUsers {
				h(p)
			}
		}
	case EventUserJoined:
		var p RoomUserPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserJoined {
				h(p)
			}
		}
	case EventUserLeft:
		var p RoomUserPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserLeft {
				h(p)
			}
		}
	case EventMention:
		var p MentionPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMention {
				h(p)
			}
		}
	case EventError:
		var p ChannelErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p)
			}
		}
	}

	for _, h := range d.generic[env.Event] {
		h(env.Event, env.Payload)
	}
}

func (d *dispatcher) emitConnected(p ConnectedPayload) {
	d.mu.RLock()
	handlers := append([]func(ConnectedPayload){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(p)
	}
}

func (d *dispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

// ============================================================================
// Channel
// ============================================================================

// Channel is the live bidirectional connection to the chat service. It does
// not reconnect on its own: a failed handshake or a dropped socket is reported
// once and the owning session decides how to degrade.
type Channel struct {
	baseURL string
	token   string

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *dispatcher
}

// NewChannel creates an unconnected live channel carrying the bearer token.
func NewChannel(baseURL, token string) *Channel {
	return &Channel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		state:      StateDisconnected,
		dispatcher: newDispatcher(),
	}
}

// OnNewMessage registers a handler for new messages. The payload is the raw
// wire message; callers normalize it.
func (ch *Channel) OnNewMessage(h func(json.RawMessage)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onNewMessage = append(ch.dispatcher.onNewMessage, h)
	ch.dispatcher.mu.Unlock()
}

// OnUserTyping registers a handler for typing-started events.
func (ch *Channel) OnUserTyping(h func(TypingIndicator)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onTyping = append(ch.dispatcher.onTyping, h)
	ch.dispatcher.mu.Unlock()
}

// OnUserStoppedTyping registers a handler for typing-stopped events.
func (ch *Channel) OnUserStoppedTyping(h func(TypingIndicator)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onStopTyping = append(ch.dispatcher.onStopTyping, h)
	ch.dispatcher.mu.Unlock()
}

// OnOnlineUsers registers a handler for presence snapshots.
func (ch *Channel) OnOnlineUsers(h func(OnlineUsersPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onOnlineUsers = append(ch.dispatcher.onOnlineUsers, h)
	ch.dispatcher.mu.Unlock()
}

// OnUserJoined registers a handler for room join notifications.
func (ch *Channel) OnUserJoined(h func(RoomUserPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onUserJoined = append(ch.dispatcher.onUserJoined, h)
	ch.dispatcher.mu.Unlock()
}

// OnUserLeft registers a handler for room leave notifications.
func (ch *Channel) OnUserLeft(h func(RoomUserPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onUserLeft = append(ch.dispatcher.onUserLeft, h)
	ch.dispatcher.mu.Unlock()
}

// OnMention registers a handler for mention notifications.
func (ch *Channel) OnMention(h func(MentionPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onMention = append(ch.dispatcher.onMention, h)
	ch.dispatcher.mu.Unlock()
}

// OnError registers a handler for server-side errors.
func (ch *Channel) OnError(h func(ChannelErrorPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onError = append(ch.dispatcher.onError, h)
	ch.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the successful-handshake meta-event.
func (ch *Channel) OnConnected(h func(ConnectedPayload)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onConnected = append(ch.dispatcher.onConnected, h)
	ch.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ch *Channel) OnDisconnected(h func(reason string)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onDisconnected = append(ch.dispatcher.onDisconnected, h)
	ch.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (ch *Channel) On(event string, h ChannelEventHandler) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.generic[event] = append(ch.dispatcher.generic[event], h)
	ch.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ch *Channel) State() ConnState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// IsConnected reports whether the live path is usable.
func (ch *Channel) IsConnected() bool {
	return ch.State() == StateConnected
}

// Connect dials the websocket endpoint and performs the handshake: the first
// frame from the server must be connection_success. The caller bounds the
// whole attempt with ctx; a deadline there is the handshake timeout.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state == StateConnected || ch.state == StateConnecting {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateConnecting
	ch.intentionalClose = false
	ch.mu.Unlock()

	wsURL := strings.Replace(ch.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + ch.token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		ch.mu.Lock()
		ch.state = StateDisconnected
		ch.mu.Unlock()
		return fmt.Errorf("channel dial: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ch.mu.Lock()
		ch.state = StateDisconnected
		ch.mu.Unlock()
		return fmt.Errorf("channel handshake read: %w", err)
	}

	var env ChannelEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != EventConnectionSuccess {
		conn.Close(websocket.StatusNormalClosure, "")
		ch.mu.Lock()
		ch.state = StateDisconnected
		ch.mu.Unlock()
		if env.Event == EventConnectionError {
			var p ChannelErrorPayload
			json.Unmarshal(env.Payload, &p)
			return fmt.Errorf("channel handshake rejected: %s", p.Message)
		}
		return fmt.Errorf("channel handshake: expected %q, got %q", EventConnectionSuccess, env.Event)
	}

	var hello ConnectedPayload
	json.Unmarshal(env.Payload, &hello)

	// The read loop must outlive the handshake context: a deadline there is
	// the handshake timeout, not a connection lifetime.
	connCtx, cancel := context.WithCancel(context.Background())
	ch.mu.Lock()
	ch.conn = conn
	ch.state = StateConnected
	ch.cancelFn = cancel
	ch.mu.Unlock()

	ch.dispatcher.emitConnected(hello)

	go ch.readLoop(connCtx)

	return nil
}

// Close gracefully closes the channel. Safe to call on every exit path,
// including when no connection was ever established.
//
// The socket must close before the read-loop context is cancelled: a
// cancelled Read context tears down the underlying connection and the close
// handshake can no longer complete.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.intentionalClose = true
	conn := ch.conn
	cancel := ch.cancelFn
	ch.conn = nil
	ch.cancelFn = nil
	ch.state = StateDisconnected
	ch.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	return err
}

func (ch *Channel) readLoop(ctx context.Context) {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ch.mu.Lock()
			intentional := ch.intentionalClose
			ch.state = StateDisconnected
			ch.conn = nil
			ch.mu.Unlock()
			if !intentional {
				ch.dispatcher.emitDisconnected(err.Error())
			}
			return
		}

		var env ChannelEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Event == EventDisconnected {
			var p ChannelErrorPayload
			json.Unmarshal(env.Payload, &p)
			ch.mu.Lock()
			ch.state = StateDisconnected
			ch.mu.Unlock()
			ch.dispatcher.emitDisconnected(p.Message)
			continue
		}
		ch.dispatcher.dispatch(env)
	}
}

// ============================================================================
// Outbound commands
// ============================================================================

// JoinRoom subscribes to a room's events.
func (ch *Channel) JoinRoom(ctx context.Context, roomID string) error {
	return ch.Send(ctx, &ChannelCommand{
		Event:   CommandJoinRoom,
		Payload: map[string]string{"roomId": roomID},
	})
}

// LeaveRoom unsubscribes from a room's events.
func (ch *Channel) LeaveRoom(ctx context.Context, roomID string) error {
	return ch.Send(ctx, &ChannelCommand{
		Event:   CommandLeaveRoom,
		Payload: map[string]string{"roomId": roomID},
	})
}

// SendMessage emits a message over the live channel. The canonical message
// comes back asynchronously as a new_message event; nothing is returned here.
func (ch *Channel) SendMessage(ctx context.Context, roomID, content string, opts *SendOptions) error {
	payload := map[string]any{
		"roomId":  roomID,
		"content": content,
	}
	if opts != nil {
		if opts.ReplyTo != "" {
			payload["replyTo"] = opts.ReplyTo
		}
		if len(opts.Mentions) > 0 {
			payload["mentions"] = opts.Mentions
		}
	}
	return ch.Send(ctx, &ChannelCommand{
		Event:     CommandSendMessage,
		Payload:   payload,
		RequestID: uuid.NewString(),
	})
}

// RoomRead notifies the server that a room has been read.
func (ch *Channel) RoomRead(ctx context.Context, roomID string) error {
	return ch.Send(ctx, &ChannelCommand{
		Event:   CommandRoomRead,
		Payload: map[string]string{"roomId": roomID},
	})
}

// Send sends a raw command over the channel.
func (ch *Channel) Send(ctx context.Context, cmd *ChannelCommand) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("channel not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
