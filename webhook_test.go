package bizchat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-webhook-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestWebhookPayload() map[string]any {
	return map[string]any{
		"source":    "bizflow_chat",
		"event":     "new_message",
		"timestamp": 1700000000,
		"message": map[string]any{
			"_id":       "msg-001",
			"roomId":    "room-001",
			"sender":    map[string]any{"_id": "user-001", "name": "Asha Rao"},
			"content":   "Hello from webhook",
			"createdAt": "2026-01-01T00:00:00Z",
		},
		"room": map[string]any{
			"id":   "room-001",
			"name": "Operations",
			"type": "department",
		},
	}
}

func makeTestWebhookBody() string {
	b, _ := json.Marshal(makeTestWebhookPayload())
	return string(b)
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := strings.TrimPrefix(makeTestSignature(body, testSecret), "sha256=")
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, "wrong-secret")
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		if VerifyWebhookSignature(body+"tampered", sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if VerifyWebhookSignature("", "sha256=abc", testSecret) {
			t.Fatal("expected false for empty body")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if VerifyWebhookSignature("body", "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		if VerifyWebhookSignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
	})

	t.Run("sha256= prefix only", func(t *testing.T) {
		if VerifyWebhookSignature("body", "sha256=", testSecret) {
			t.Fatal("expected false for sha256= prefix only")
		}
	})
}

// ============================================================================
// ParseWebhookPayload
// ============================================================================

func TestParseWebhookPayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload, err := ParseWebhookPayload(makeTestWebhookBody())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Source != "bizflow_chat" {
			t.Fatalf("expected source bizflow_chat, got %s", payload.Source)
		}
		if payload.Event != "new_message" {
			t.Fatalf("expected event new_message, got %s", payload.Event)
		}
		if payload.Message.ID != "msg-001" {
			t.Fatalf("expected message id msg-001, got %s", payload.Message.ID)
		}
		if payload.Message.Sender.ID != "user-001" {
			t.Fatalf("message sender not normalized: %+v", payload.Message.Sender)
		}
		if payload.Message.Kind != KindText {
			t.Fatalf("expected default kind text, got %s", payload.Message.Kind)
		}
		if payload.Room.ID != "room-001" || payload.Room.Type != RoomDepartment {
			t.Fatalf("unexpected room: %+v", payload.Room)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseWebhookPayload("not json")
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		data := makeTestWebhookPayload()
		data["source"] = "unknown"
		b, _ := json.Marshal(data)
		_, err := ParseWebhookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "unknown webhook source") {
			t.Fatalf("expected unknown source error, got: %v", err)
		}
	})

	t.Run("missing event", func(t *testing.T) {
		data := makeTestWebhookPayload()
		data["event"] = ""
		b, _ := json.Marshal(data)
		_, err := ParseWebhookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "missing event") {
			t.Fatalf("expected missing event error, got: %v", err)
		}
	})

	t.Run("missing room", func(t *testing.T) {
		data := makeTestWebhookPayload()
		data["room"] = map[string]any{"name": "no id"}
		b, _ := json.Marshal(data)
		_, err := ParseWebhookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "missing room") {
			t.Fatalf("expected missing room error, got: %v", err)
		}
	})

	t.Run("missing message", func(t *testing.T) {
		data := makeTestWebhookPayload()
		delete(data, "message")
		b, _ := json.Marshal(data)
		_, err := ParseWebhookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "missing message") {
			t.Fatalf("expected missing message error, got: %v", err)
		}
	})

	t.Run("message without id", func(t *testing.T) {
		data := makeTestWebhookPayload()
		data["message"] = map[string]any{"content": "anonymous"}
		b, _ := json.Marshal(data)
		_, err := ParseWebhookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "webhook message") {
			t.Fatalf("expected message normalization error, got: %v", err)
		}
	})
}

// ============================================================================
// NewWebhook
// ============================================================================

func TestNewWebhook(t *testing.T) {
	t.Run("empty secret", func(t *testing.T) {
		_, err := NewWebhook("", func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		if err == nil {
			t.Fatal("expected error for empty secret")
		}
	})

	t.Run("valid creation", func(t *testing.T) {
		wh, err := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wh == nil {
			t.Fatal("expected non-nil webhook")
		}
	})
}

// ============================================================================
// Webhook.Handle
// ============================================================================

func TestWebhookHandle(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		body := makeTestWebhookBody()
		status, data := wh.Handle(body, "sha256=bad")
		if status != 401 {
			t.Fatalf("expected 401, got %d", status)
		}
		m := data.(map[string]string)
		if m["error"] != "Invalid signature" {
			t.Fatalf("unexpected error: %s", m["error"])
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		body := `{"source": "unknown"}`
		sig := makeTestSignature(body, testSecret)
		status, _ := wh.Handle(body, sig)
		if status != 400 {
			t.Fatalf("expected 400, got %d", status)
		}
	})

	t.Run("success void", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		status, data := wh.Handle(body, sig)
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		m := data.(map[string]bool)
		if !m["ok"] {
			t.Fatal("expected ok:true")
		}
	})

	t.Run("success with reply", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) {
			return &WebhookReply{Content: "Echo: " + p.Message.Content}, nil
		})
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		status, data := wh.Handle(body, sig)
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		reply := data.(*WebhookReply)
		if reply.Content != "Echo: Hello from webhook" {
			t.Fatalf("unexpected reply: %s", reply.Content)
		}
	})

	t.Run("handler error", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) {
			return nil, fmt.Errorf("something broke")
		})
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		status, data := wh.Handle(body, sig)
		if status != 500 {
			t.Fatalf("expected 500, got %d", status)
		}
		m := data.(map[string]string)
		if !strings.Contains(m["error"], "something broke") {
			t.Fatalf("unexpected error: %s", m["error"])
		}
	})
}

// ============================================================================
// Webhook.HTTPHandler
// ============================================================================

func TestWebhookHTTPHandler(t *testing.T) {
	t.Run("GET returns 405", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 405 {
			t.Fatalf("expected 405, got %d", w.Code)
		}
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		body := makeTestWebhookBody()
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, "sha256=bad")
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 401 {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid returns 200", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) { return nil, nil })
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var result map[string]any
		json.NewDecoder(w.Body).Decode(&result)
		if result["ok"] != true {
			t.Fatal("expected ok:true")
		}
	})

	t.Run("reply returned", func(t *testing.T) {
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) {
			return &WebhookReply{Content: "Reply!"}, nil
		})
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		respBody, _ := io.ReadAll(w.Body)
		var result map[string]any
		json.Unmarshal(respBody, &result)
		if result["content"] != "Reply!" {
			t.Fatalf("unexpected content: %v", result["content"])
		}
	})

	t.Run("payload passed to handler", func(t *testing.T) {
		var received *WebhookPayload
		wh, _ := NewWebhook(testSecret, func(p *WebhookPayload) (*WebhookReply, error) {
			received = p
			return nil, nil
		})
		body := makeTestWebhookBody()
		sig := makeTestSignature(body, testSecret)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)

		if received == nil {
			t.Fatal("handler was not called")
		}
		if received.Message.Content != "Hello from webhook" {
			t.Fatalf("unexpected content: %s", received.Message.Content)
		}
		if received.Room.Name != "Operations" {
			t.Fatalf("unexpected room: %+v", received.Room)
		}
	})
}
