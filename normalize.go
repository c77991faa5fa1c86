package bizchat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoMessageID is returned when a wire message carries no identifier under
// any known field name. Callers drop the message instead of inserting it.
var ErrNoMessageID = errors.New("wire message has no identifier")

// NormalizeMessage converts a heterogeneous wire-format message payload into
// the canonical Message shape. It accepts both the live-channel and REST
// renditions of a message and is idempotent: normalizing an already-normalized
// message yields the same value.
func NormalizeMessage(raw json.RawMessage) (*Message, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode wire message: %w", err)
	}
	return normalizeMessageMap(m)
}

func normalizeMessageMap(m map[string]any) (*Message, error) {
	id := idOf(m)
	if id == "" {
		return nil, ErrNoMessageID
	}

	msg := &Message{
		ID:        id,
		RoomID:    coerceID(firstOf(m, "roomId", "room")),
		Sender:    normalizeSender(m["sender"]),
		Content:   strOr(m, "content", ""),
		Kind:      MessageKind(strOr(m, "messageType", string(KindText))),
		Mentions:  normalizeMentions(m["mentions"]),
		Reactions: normalizeReactions(m["reactions"]),
		IsEdited:  coerceBool(m["isEdited"]),
		CreatedAt: strOr(m, "createdAt", ""),
		UpdatedAt: strOr(m, "updatedAt", ""),
	}

	// Reply reference arrives under "replyTo" or the legacy "reply_to" alias.
	if ref := firstOf(m, "replyTo", "reply_to"); ref != nil {
		msg.ReplyTo = normalizeReply(ref)
	}

	return msg, nil
}

// normalizeSender accepts either a nested sender object or a bare identifier
// reference (string or number) and normalizes to the canonical Sender shape.
func normalizeSender(v any) Sender {
	switch s := v.(type) {
	case map[string]any:
		return Sender{
			ID:         idOf(s),
			Name:       strOr(s, "name", ""),
			Email:      strOr(s, "email", ""),
			Role:       strOr(s, "role", ""),
			Department: strOr(s, "department", ""),
		}
	case string, float64:
		return Sender{ID: coerceID(s)}
	default:
		return Sender{}
	}
}

func normalizeReply(v any) *ReplyRef {
	rm, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	id := idOf(rm)
	if id == "" {
		return nil
	}
	return &ReplyRef{
		ID:      id,
		Sender:  normalizeSender(rm["sender"]),
		Content: strOr(rm, "content", ""),
	}
}

func normalizeMentions(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if id := coerceID(item); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func normalizeReactions(v any) []Reaction {
	list, ok := v.([]any)
	if !ok {
		return []Reaction{}
	}
	out := make([]Reaction, 0, len(list))
	for _, item := range list {
		rm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Reaction{
			UserID:    coerceID(firstOf(rm, "userId", "user")),
			Emoji:     strOr(rm, "emoji", ""),
			CreatedAt: strOr(rm, "createdAt", ""),
		})
	}
	return out
}

// ============================================================================
// Coercion helpers
// ============================================================================

// idOf extracts an identifier, preferring "id" and falling back to the legacy
// "_id" field, coerced to string.
func idOf(m map[string]any) string {
	if id := coerceID(m["id"]); id != "" {
		return id
	}
	return coerceID(m["_id"])
}

// coerceID renders an identifier value as its canonical string form regardless
// of incoming numeric/string type.
func coerceID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	case float64:
		return b != 0
	default:
		return false
	}
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intOr(m map[string]any, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// ============================================================================
// Rooms
// ============================================================================

// normalizeRoom converts a wire-format room listing entry into a Room. The
// embedded last message, when present, goes through the message normalizer
// like every other message path.
func normalizeRoom(m map[string]any) (*Room, error) {
	id := idOf(m)
	if id == "" {
		return nil, errors.New("wire room has no identifier")
	}

	room := &Room{
		ID:           id,
		Name:         strOr(m, "name", ""),
		Type:         RoomType(strOr(m, "type", string(RoomGeneral))),
		Participants: normalizeMentions(m["participants"]),
		UnreadCount:  intOr(m, "unreadCount", 0),
		LastActivity: strOr(m, "lastActivity", ""),
	}

	if lm, ok := m["lastMessage"].(map[string]any); ok {
		if msg, err := normalizeMessageMap(lm); err == nil {
			room.LastMessage = msg
		}
	}

	return room, nil
}
