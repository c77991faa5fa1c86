package bizchat

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned inside a chat API response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// HTTPError represents a non-2xx HTTP response from the chat API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Result is the generic chat API response envelope.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Connection State
// ============================================================================

// ConnState represents the live-channel connection state of a session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"

	// StateFallback means the live channel could not be established and the
	// session operates through request/response calls only.
	StateFallback ConnState = "fallback"
)

// ============================================================================
// Rooms
// ============================================================================

// RoomType classifies a chat room.
type RoomType string

const (
	RoomGeneral      RoomType = "general"
	RoomDepartment   RoomType = "department"
	RoomProject      RoomType = "project"
	RoomPrivate      RoomType = "private"
	RoomAnnouncement RoomType = "announcement"
)

// Room is a named channel grouping participants and messages.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         RoomType `json:"type"`
	Participants []string `json:"participants"`
	UnreadCount  int      `json:"unreadCount"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	LastActivity string   `json:"lastActivity,omitempty"`
}

// CreateRoomOptions is the payload for creating a room.
type CreateRoomOptions struct {
	Name         string   `json:"name"`
	Type         RoomType `json:"type,omitempty"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// ============================================================================
// Messages
// ============================================================================

// MessageKind classifies a message body.
type MessageKind string

const (
	KindText         MessageKind = "text"
	KindFile         MessageKind = "file"
	KindImage        MessageKind = "image"
	KindSystem       MessageKind = "system"
	KindAnnouncement MessageKind = "announcement"
)

// Sender identifies the author of a message.
type Sender struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// ReplyRef is the reduced form of a message being replied to.
type ReplyRef struct {
	ID      string `json:"id"`
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Message is the canonical message shape produced by NormalizeMessage.
// Immutable once normalized; an edited version replaces the old one.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	Sender    Sender      `json:"sender"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"messageType"`
	ReplyTo   *ReplyRef   `json:"replyTo,omitempty"`
	Mentions  []string    `json:"mentions"`
	Reactions []Reaction  `json:"reactions"`
	IsEdited  bool        `json:"isEdited"`
	CreatedAt string      `json:"createdAt"`
	UpdatedAt string      `json:"updatedAt,omitempty"`
}

// SendOptions carries the optional fields of an outgoing message.
type SendOptions struct {
	ReplyTo  string   `json:"replyTo,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// MessagePage is one page of room history as returned by the server,
// newest-first. Entries stay raw because every one funnels through
// NormalizeMessage before insertion.
type MessagePage struct {
	Messages []json.RawMessage `json:"messages"`
	HasMore  bool              `json:"hasMore"`
	Page     int               `json:"page,omitempty"`
}

// ============================================================================
// Presence
// ============================================================================

// TypingIndicator is an ephemeral (userId, roomId) typing marker. It lives only
// in the session's working set and has no persistence.
type TypingIndicator struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
}

// OnlineUser is a user currently observed in a room. The set is replaced
// wholesale on every presence snapshot, never merged.
type OnlineUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// ============================================================================
// Identity
// ============================================================================

// Identity is the authenticated user plus bearer credential, supplied by the
// authentication collaborator. A session with an incomplete identity stays idle.
type Identity struct {
	User  Sender
	Token string
}

func (id Identity) complete() bool {
	return id.User.ID != "" && id.Token != ""
}
