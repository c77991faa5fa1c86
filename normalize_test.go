package bizchat

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func wireMessage() map[string]any {
	return map[string]any{
		"id":     "msg-001",
		"roomId": "room-001",
		"sender": map[string]any{
			"id":         "user-001",
			"name":       "Asha Rao",
			"email":      "asha@bizflow360.app",
			"role":       "manager",
			"department": "operations",
		},
		"content":     "Quarterly numbers are in",
		"messageType": "text",
		"mentions":    []any{"user-002"},
		"reactions": []any{
			map[string]any{"userId": "user-002", "emoji": "👍", "createdAt": "2026-02-01T10:00:05Z"},
		},
		"isEdited":  false,
		"createdAt": "2026-02-01T10:00:00Z",
	}
}

func marshalWire(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal wire message: %v", err)
	}
	return b
}

// ============================================================================
// NormalizeMessage
// ============================================================================

func TestNormalizeMessage(t *testing.T) {
	t.Run("full message", func(t *testing.T) {
		msg, err := NormalizeMessage(marshalWire(t, wireMessage()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "msg-001" {
			t.Fatalf("expected id msg-001, got %s", msg.ID)
		}
		if msg.RoomID != "room-001" {
			t.Fatalf("expected roomId room-001, got %s", msg.RoomID)
		}
		if msg.Sender.ID != "user-001" || msg.Sender.Name != "Asha Rao" {
			t.Fatalf("unexpected sender: %+v", msg.Sender)
		}
		if msg.Sender.Department != "operations" {
			t.Fatalf("expected department operations, got %s", msg.Sender.Department)
		}
		if msg.Kind != KindText {
			t.Fatalf("expected kind text, got %s", msg.Kind)
		}
		if len(msg.Mentions) != 1 || msg.Mentions[0] != "user-002" {
			t.Fatalf("unexpected mentions: %v", msg.Mentions)
		}
		if len(msg.Reactions) != 1 || msg.Reactions[0].Emoji != "👍" {
			t.Fatalf("unexpected reactions: %+v", msg.Reactions)
		}
	})

	t.Run("legacy _id fallback", func(t *testing.T) {
		m := wireMessage()
		delete(m, "id")
		m["_id"] = "msg-legacy"
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "msg-legacy" {
			t.Fatalf("expected id msg-legacy, got %s", msg.ID)
		}
	})

	t.Run("id preferred over _id", func(t *testing.T) {
		m := wireMessage()
		m["_id"] = "msg-stale"
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "msg-001" {
			t.Fatalf("expected canonical id to win, got %s", msg.ID)
		}
	})

	t.Run("numeric id coerced", func(t *testing.T) {
		m := wireMessage()
		m["id"] = float64(4217)
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "4217" {
			t.Fatalf("expected id 4217, got %s", msg.ID)
		}
	})

	t.Run("sender as bare id string", func(t *testing.T) {
		m := wireMessage()
		m["sender"] = "user-009"
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Sender.ID != "user-009" || msg.Sender.Name != "" {
			t.Fatalf("unexpected sender: %+v", msg.Sender)
		}
	})

	t.Run("sender object with _id", func(t *testing.T) {
		m := wireMessage()
		m["sender"] = map[string]any{"_id": "user-010", "name": "Dev"}
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Sender.ID != "user-010" {
			t.Fatalf("expected sender id user-010, got %s", msg.Sender.ID)
		}
	})

	t.Run("missing sender", func(t *testing.T) {
		m := wireMessage()
		delete(m, "sender")
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Sender.ID != "" {
			t.Fatalf("expected empty sender, got %+v", msg.Sender)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		msg, err := NormalizeMessage(marshalWire(t, map[string]any{
			"id":      "msg-min",
			"roomId":  "room-001",
			"content": "hi",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Kind != KindText {
			t.Fatalf("expected default kind text, got %s", msg.Kind)
		}
		if msg.Mentions == nil || len(msg.Mentions) != 0 {
			t.Fatalf("expected empty non-nil mentions, got %v", msg.Mentions)
		}
		if msg.Reactions == nil || len(msg.Reactions) != 0 {
			t.Fatalf("expected empty non-nil reactions, got %v", msg.Reactions)
		}
		if msg.IsEdited {
			t.Fatal("expected isEdited false")
		}
	})

	t.Run("reply reference", func(t *testing.T) {
		m := wireMessage()
		m["replyTo"] = map[string]any{
			"id":      "msg-000",
			"sender":  map[string]any{"_id": "user-003", "name": "Ravi"},
			"content": "original",
		}
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ReplyTo == nil || msg.ReplyTo.ID != "msg-000" {
			t.Fatalf("unexpected reply: %+v", msg.ReplyTo)
		}
		if msg.ReplyTo.Sender.ID != "user-003" {
			t.Fatalf("reply sender not normalized: %+v", msg.ReplyTo.Sender)
		}
	})

	t.Run("legacy reply_to alias", func(t *testing.T) {
		m := wireMessage()
		m["reply_to"] = map[string]any{"id": "msg-000", "content": "original"}
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ReplyTo == nil || msg.ReplyTo.ID != "msg-000" {
			t.Fatalf("expected legacy alias handled, got %+v", msg.ReplyTo)
		}
	})

	t.Run("reply without id dropped", func(t *testing.T) {
		m := wireMessage()
		m["replyTo"] = map[string]any{"content": "orphan"}
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ReplyTo != nil {
			t.Fatalf("expected nil reply, got %+v", msg.ReplyTo)
		}
	})

	t.Run("isEdited as string", func(t *testing.T) {
		m := wireMessage()
		m["isEdited"] = "true"
		msg, err := NormalizeMessage(marshalWire(t, m))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !msg.IsEdited {
			t.Fatal("expected isEdited true")
		}
	})

	t.Run("missing id", func(t *testing.T) {
		m := wireMessage()
		delete(m, "id")
		_, err := NormalizeMessage(marshalWire(t, m))
		if !errors.Is(err, ErrNoMessageID) {
			t.Fatalf("expected ErrNoMessageID, got: %v", err)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := NormalizeMessage(json.RawMessage("not json"))
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestNormalizeMessageIdempotent(t *testing.T) {
	variants := map[string]map[string]any{
		"full":           wireMessage(),
		"bare sender":    {"id": "m1", "roomId": "r1", "sender": "u1", "content": "x"},
		"legacy fields":  {"_id": "m2", "roomId": "r1", "content": "y", "reply_to": map[string]any{"id": "m0", "content": "z"}},
		"numeric fields": {"id": float64(7), "roomId": "r1", "sender": float64(12), "content": "n"},
	}

	for name, m := range variants {
		t.Run(name, func(t *testing.T) {
			first, err := NormalizeMessage(marshalWire(t, m))
			if err != nil {
				t.Fatalf("first pass: %v", err)
			}
			b, err := json.Marshal(first)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			second, err := NormalizeMessage(b)
			if err != nil {
				t.Fatalf("second pass: %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("normalization not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
			}
		})
	}
}

// ============================================================================
// normalizeRoom
// ============================================================================

func TestNormalizeRoom(t *testing.T) {
	t.Run("full room", func(t *testing.T) {
		room, err := normalizeRoom(map[string]any{
			"_id":          "room-001",
			"name":         "Operations",
			"type":         "department",
			"participants": []any{"user-001", "user-002"},
			"unreadCount":  float64(3),
			"lastActivity": "2026-02-01T10:00:00Z",
			"lastMessage":  wireMessage(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if room.ID != "room-001" || room.Name != "Operations" {
			t.Fatalf("unexpected room: %+v", room)
		}
		if room.Type != RoomDepartment {
			t.Fatalf("expected department, got %s", room.Type)
		}
		if room.UnreadCount != 3 {
			t.Fatalf("expected unread 3, got %d", room.UnreadCount)
		}
		if room.LastMessage == nil || room.LastMessage.ID != "msg-001" {
			t.Fatalf("lastMessage not normalized: %+v", room.LastMessage)
		}
		if len(room.Participants) != 2 {
			t.Fatalf("unexpected participants: %v", room.Participants)
		}
	})

	t.Run("type defaults to general", func(t *testing.T) {
		room, err := normalizeRoom(map[string]any{"id": "room-002", "name": "Lounge"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if room.Type != RoomGeneral {
			t.Fatalf("expected general, got %s", room.Type)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := normalizeRoom(map[string]any{"name": "No ID"})
		if err == nil || !strings.Contains(err.Error(), "no identifier") {
			t.Fatalf("expected identifier error, got: %v", err)
		}
	})

	t.Run("bad lastMessage ignored", func(t *testing.T) {
		room, err := normalizeRoom(map[string]any{
			"id":          "room-003",
			"lastMessage": map[string]any{"content": "no id here"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if room.LastMessage != nil {
			t.Fatalf("expected nil lastMessage, got %+v", room.LastMessage)
		}
	})
}
