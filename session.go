package bizchat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrSessionClosed is returned by Connect after Close has run.
var ErrSessionClosed = errors.New("session is closed")

// DefaultHandshakeTimeout bounds a single live-channel connection attempt.
// When it elapses the session falls back to request/response mode; there is
// no retry loop.
const DefaultHandshakeTimeout = 10 * time.Second

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is the observable state exposed to the presentation layer. Every
// field is a copy; consumers never share slices with the session.
type Snapshot struct {
	State           ConnState
	Connected       bool
	Rooms           []Room
	ActiveRoomID    string
	Messages        []Message
	LoadingMessages bool
	HasMoreMessages bool
	OnlineUsers     []OnlineUser
	TypingUsers     []TypingIndicator
}

// ============================================================================
// Session
// ============================================================================

// Session supervises exactly one live channel per authenticated identity and
// reconciles it with the request/response API when the channel is unavailable.
// All derived state (room list, unread counts, active message list, presence,
// typing) lives here and is mutated under one lock, the Go rendition of the
// source's single event loop: handlers and actions observe events one at a
// time, and every mutation replaces the relevant slice rather than editing it
// in place.
//
// Action methods that feed the observable state (JoinRoom, SendMessage,
// MarkRoomAsRead, LoadMoreMessages) never return errors to the caller:
// failures are logged and the state is left in its last-known-good shape.
// Request/response actions (CreateRoom, SearchMessages) return errors the
// usual way because their results go back to the caller, not into the store.
type Session struct {
	client   *Client
	channel  *Channel
	identity Identity
	logger   *log.Logger

	handshakeTimeout time.Duration

	mu              sync.Mutex
	state           ConnState
	closed          bool
	cancelHandshake context.CancelFunc
	rooms           []Room
	activeRoomID    string
	messages        []Message
	loadingMessages bool
	loadSeq         int
	hasMore         bool
	currentPage     int
	presence        presenceTracker

	obsMu           sync.RWMutex
	onChange        []func(Snapshot)
	mentionHandlers []func(MentionPayload)
}

type SessionOption func(*Session)

// WithLogger routes recoverable-failure logging. The default discards.
func WithLogger(l *log.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHandshakeTimeout overrides the fixed live-channel handshake timeout.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// NewSession creates a session for the given identity. The identity must be
// complete (user id and token) for Connect to attempt anything; an incomplete
// identity leaves the session idle.
func NewSession(client *Client, identity Identity, opts ...SessionOption) *Session {
	s := &Session{
		client:           client,
		identity:         identity,
		logger:           log.New(io.Discard, "", 0),
		handshakeTimeout: DefaultHandshakeTimeout,
		state:            StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if identity.Token != "" {
		client.SetToken(identity.Token)
	}
	s.channel = NewChannel(client.baseURL, identity.Token)

	s.channel.OnNewMessage(s.handleNewMessage)
	s.channel.OnUserTyping(s.handleTyping)
	s.channel.OnUserStoppedTyping(s.handleStoppedTyping)
	s.channel.OnOnlineUsers(s.handleOnlineUsers)
	s.channel.OnUserJoined(s.handleUserJoined)
	s.channel.OnUserLeft(s.handleUserLeft)
	s.channel.OnMention(s.handleMention)
	s.channel.OnDisconnected(s.handleDisconnect)
	s.channel.OnError(func(p ChannelErrorPayload) {
		s.logger.Printf("bizchat: channel error: %s", p.Message)
	})

	return s
}

// Channel exposes the underlying live channel, mainly for registering extra
// event handlers.
func (s *Session) Channel() *Channel {
	return s.channel
}

// OnChange registers an observer invoked with a fresh snapshot after every
// state mutation.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.obsMu.Lock()
	s.onChange = append(s.onChange, fn)
	s.obsMu.Unlock()
}

// OnMention registers a handler for mention notifications addressed to the
// session's user.
func (s *Session) OnMention(fn func(MentionPayload)) {
	s.obsMu.Lock()
	s.mentionHandlers = append(s.mentionHandlers, fn)
	s.obsMu.Unlock()
}

// Snapshot returns a copy of the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:           s.state,
		Connected:       s.state == StateConnected,
		Rooms:           append([]Room{}, s.rooms...),
		ActiveRoomID:    s.activeRoomID,
		Messages:        append([]Message{}, s.messages...),
		LoadingMessages: s.loadingMessages,
		HasMoreMessages: s.hasMore,
		OnlineUsers:     append([]OnlineUser{}, s.presence.online...),
		TypingUsers:     s.presence.typingIn(s.activeRoomID, s.identity.User.ID),
	}
}

// notify delivers a snapshot to every observer outside the state lock.
func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.obsMu.RLock()
	handlers := append([]func(Snapshot){}, s.onChange...)
	s.obsMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // observer panics must not kill the event path
			h(snap)
		}()
	}
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect opens the live channel, bounded by the fixed handshake timeout.
// A timeout or handshake error is not fatal: the session transitions to
// fallback mode, loads the room directory over REST, and stays usable.
// Connect returns an error only for misuse (closed session); connectivity
// degradation is absorbed.
func (s *Session) Connect(ctx context.Context) error {
	if !s.identity.complete() {
		s.logger.Printf("bizchat: identity incomplete, session stays idle")
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	hsCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	s.cancelHandshake = cancel
	s.mu.Unlock()
	s.notify()

	err := s.channel.Connect(hsCtx)
	cancel()

	s.mu.Lock()
	s.cancelHandshake = nil
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = StateFallback
	} else if s.channel.IsConnected() {
		s.state = StateConnected
	} else {
		// The channel already dropped between the handshake and this point;
		// handleDisconnect has run or is about to.
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("bizchat: live channel unavailable, continuing in fallback mode: %v", err)
	}
	s.notify()

	s.loadRooms(ctx)
	return nil
}

// Close tears the session down: cancels a pending handshake wait and closes
// the channel. It runs on every exit path and is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancelHandshake != nil {
		s.cancelHandshake()
		s.cancelHandshake = nil
	}
	s.state = StateDisconnected
	s.mu.Unlock()
	return s.channel.Close()
}

func (s *Session) handleDisconnect(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.presence.reset()
	s.mu.Unlock()

	s.logger.Printf("bizchat: live channel disconnected: %s", reason)
	s.notify()

	// The room directory is re-derived on every transition so the list stays
	// eventually consistent even without the live path. No auto-reconnect:
	// a new attempt happens only on the next Connect call.
	go s.loadRooms(context.Background())
}

// loadRooms replaces the room directory wholesale from the REST listing.
// A closed session never refreshes; the late goroutine spawned by a
// disconnect must not repopulate state after Close.
func (s *Session) loadRooms(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	rooms, err := s.client.ListRooms(ctx)
	if err != nil {
		s.logger.Printf("bizchat: load rooms: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for i := range rooms {
		if rooms[i].ID == s.activeRoomID {
			rooms[i].UnreadCount = 0
		}
	}
	s.rooms = rooms
	s.mu.Unlock()
	s.notify()
}

// ============================================================================
// Room actions
// ============================================================================

// JoinRoom makes roomID the active room: leaves the prior room, clears the
// message list, marks the room read, and fetches page 1 of its history. The
// active-room marker is set before the fetch resolves so a slow response for
// an abandoned room can never overwrite the new room's messages.
func (s *Session) JoinRoom(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.activeRoomID
	s.activeRoomID = roomID
	s.messages = nil
	s.currentPage = 0
	s.hasMore = false
	s.presence.reset()
	s.mu.Unlock()
	s.notify()

	if s.channel.IsConnected() {
		if prev != "" && prev != roomID {
			if err := s.channel.LeaveRoom(ctx, prev); err != nil {
				s.logger.Printf("bizchat: leave room %s: %v", prev, err)
			}
		}
		if err := s.channel.JoinRoom(ctx, roomID); err != nil {
			s.logger.Printf("bizchat: join room %s: %v", roomID, err)
		}
	}

	// Entering a room reads it: the active room's unread count is pinned at 0.
	s.MarkRoomAsRead(ctx, roomID)
	s.loadMessages(ctx, roomID, 1)
}

// LeaveRoom clears the active room and its message list.
func (s *Session) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	room := s.activeRoomID
	s.activeRoomID = ""
	s.messages = nil
	s.currentPage = 0
	s.hasMore = false
	s.presence.reset()
	s.mu.Unlock()

	if room != "" && s.channel.IsConnected() {
		if err := s.channel.LeaveRoom(ctx, room); err != nil {
			s.logger.Printf("bizchat: leave room %s: %v", room, err)
		}
	}
	s.notify()
}

// MarkRoomAsRead emits a read notification when the live path is up, persists
// the read state over REST, and zeroes the local unread counter. The local
// reset is not rolled back on REST failure; the divergence is logged and heals
// on the next room load.
func (s *Session) MarkRoomAsRead(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}

	if s.channel.IsConnected() {
		if err := s.channel.RoomRead(ctx, roomID); err != nil {
			s.logger.Printf("bizchat: emit room read %s: %v", roomID, err)
		}
	}
	if err := s.client.MarkRoomRead(ctx, roomID); err != nil {
		s.logger.Printf("bizchat: persist read state for %s: %v", roomID, err)
	}

	s.mu.Lock()
	s.setUnreadLocked(roomID, 0)
	s.mu.Unlock()
	s.notify()
}

// CreateRoom creates a room and adds it to the directory.
func (s *Session) CreateRoom(ctx context.Context, opts *CreateRoomOptions) (*Room, error) {
	room, err := s.client.CreateRoom(ctx, opts)
	if err != nil {
		s.logger.Printf("bizchat: create room: %v", err)
		return nil, err
	}

	s.mu.Lock()
	s.rooms = append(append([]Room{}, s.rooms...), *room)
	s.mu.Unlock()
	s.notify()
	return room, nil
}

// SearchMessages searches message history, optionally scoped to one room.
func (s *Session) SearchMessages(ctx context.Context, query, roomID string, limit int) ([]Message, error) {
	msgs, err := s.client.SearchMessages(ctx, query, roomID, limit)
	if err != nil {
		s.logger.Printf("bizchat: search: %v", err)
		return nil, err
	}
	return msgs, nil
}

// ============================================================================
// History pagination
// ============================================================================

// LoadMoreMessages fetches the next (older) page for the active room. It is a
// no-op while a load is in flight or when no older history remains.
func (s *Session) LoadMoreMessages(ctx context.Context) {
	s.mu.Lock()
	room := s.activeRoomID
	page := s.currentPage + 1
	ok := room != "" && s.hasMore && !s.loadingMessages
	s.mu.Unlock()
	if !ok {
		return
	}
	s.loadMessages(ctx, room, page)
}

func (s *Session) loadMessages(ctx context.Context, roomID string, page int) {
	s.mu.Lock()
	// Only one load-more may be in flight. A page-1 load is a room switch and
	// always proceeds; the stale-response check below settles whichever fetch
	// resolves for a no-longer-active room.
	if s.loadingMessages && page > 1 {
		s.mu.Unlock()
		return
	}
	s.loadingMessages = true
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()
	s.notify()

	pageData, err := s.client.GetMessages(ctx, roomID, page, 0)

	s.mu.Lock()
	// Only the newest fetch owns the loading flag; a superseded fetch
	// resolving late must not clear it while its successor is in flight.
	if seq == s.loadSeq {
		s.loadingMessages = false
	}
	if s.activeRoomID != roomID {
		// The room was abandoned while the fetch was in flight.
		s.mu.Unlock()
		s.notify()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Printf("bizchat: load history page %d for %s: %v", page, roomID, err)
		s.notify()
		return
	}
	s.messages = mergePage(s.messages, normalizePage(pageData.Messages), page)
	s.hasMore = pageData.HasMore
	s.currentPage = page
	s.mu.Unlock()
	s.notify()
}

// ============================================================================
// Send pipeline
// ============================================================================

// SendMessage delivers a composed message. With the live channel up the
// message is emitted there and its canonical form arrives later as a
// new_message event; otherwise it is posted over REST and appended locally
// exactly once. A send with no active room or an empty (post-trim) body is a
// no-op.
func (s *Session) SendMessage(ctx context.Context, content string, opts *SendOptions) {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	room := s.activeRoomID
	s.mu.Unlock()
	if room == "" || content == "" {
		return
	}

	if s.channel.IsConnected() {
		if err := s.channel.SendMessage(ctx, room, content, opts); err != nil {
			s.logger.Printf("bizchat: live send to %s: %v", room, err)
		}
		return
	}

	msg, err := s.client.PostMessage(ctx, room, content, opts)
	if err != nil {
		s.logger.Printf("bizchat: fallback send to %s: %v", room, err)
		// Re-fetch page 1 so the view does not silently diverge from the
		// server's record of the room.
		s.mu.Lock()
		stillActive := s.activeRoomID == room
		s.mu.Unlock()
		if stillActive {
			s.loadMessages(ctx, room, 1)
		}
		return
	}

	s.mu.Lock()
	active := s.activeRoomID == room
	if active {
		s.messages = appendUnique(s.messages, *msg)
	}
	s.updateRoomSummaryLocked(room, msg, active)
	s.mu.Unlock()
	s.notify()
}

// ============================================================================
// Channel event handlers
// ============================================================================

func (s *Session) handleNewMessage(raw json.RawMessage) {
	msg, err := NormalizeMessage(raw)
	if err != nil {
		s.logger.Printf("bizchat: dropping malformed wire message: %v", err)
		return
	}

	s.mu.Lock()
	active := s.activeRoomID != "" && msg.RoomID == s.activeRoomID
	if active {
		s.messages = appendUnique(s.messages, *msg)
		s.presence.clearTyping(msg.Sender.ID, msg.RoomID)
	}
	s.updateRoomSummaryLocked(msg.RoomID, msg, active)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleTyping(ti TypingIndicator) {
	s.mu.Lock()
	s.presence.setTyping(ti)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleStoppedTyping(ti TypingIndicator) {
	s.mu.Lock()
	s.presence.clearTyping(ti.UserID, ti.RoomID)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleOnlineUsers(p OnlineUsersPayload) {
	s.mu.Lock()
	if p.RoomID != s.activeRoomID {
		s.mu.Unlock()
		return
	}
	s.presence.setOnline(p.Users)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleUserJoined(p RoomUserPayload) {
	s.mu.Lock()
	s.updateParticipantsLocked(p.RoomID, p.UserID, true)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleUserLeft(p RoomUserPayload) {
	s.mu.Lock()
	s.updateParticipantsLocked(p.RoomID, p.UserID, false)
	s.presence.clearTyping(p.UserID, p.RoomID)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleMention(p MentionPayload) {
	s.obsMu.RLock()
	handlers := append([]func(MentionPayload){}, s.mentionHandlers...)
	s.obsMu.RUnlock()
	for _, h := range handlers {
		h(p)
	}
}

// ============================================================================
// Locked room-directory helpers
// ============================================================================

// updateRoomSummaryLocked refreshes a room's last-message fields and, for an
// inactive room, bumps its unread counter. The rooms slice is replaced, never
// edited in place.
func (s *Session) updateRoomSummaryLocked(roomID string, msg *Message, active bool) {
	next := append([]Room{}, s.rooms...)
	for i := range next {
		if next[i].ID != roomID {
			continue
		}
		next[i].LastMessage = msg
		next[i].LastActivity = msg.CreatedAt
		if active {
			next[i].UnreadCount = 0
		} else {
			next[i].UnreadCount++
		}
		break
	}
	s.rooms = next
}

func (s *Session) setUnreadLocked(roomID string, n int) {
	next := append([]Room{}, s.rooms...)
	for i := range next {
		if next[i].ID == roomID {
			next[i].UnreadCount = n
			break
		}
	}
	s.rooms = next
}

func (s *Session) updateParticipantsLocked(roomID, userID string, joined bool) {
	if userID == "" {
		return
	}
	next := append([]Room{}, s.rooms...)
	for i := range next {
		if next[i].ID != roomID {
			continue
		}
		participants := make([]string, 0, len(next[i].Participants)+1)
		for _, p := range next[i].Participants {
			if p == userID {
				continue
			}
			participants = append(participants, p)
		}
		if joined {
			participants = append(participants, userID)
		}
		next[i].Participants = participants
		break
	}
	s.rooms = next
}
