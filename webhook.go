package bizchat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Server-to-server integration: the chat service can push events to an
// HTTP endpoint instead of (or in addition to) the live channel, signed with
// HMAC-SHA256. Inbound messages funnel through NormalizeMessage like every
// other receive path.

// SignatureHeader carries the HMAC signature on webhook requests.
const SignatureHeader = "X-BizFlow-Signature"

const webhookSource = "bizflow_chat"

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookRoom is the room context of a webhook event.
type WebhookRoom struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Type RoomType `json:"type,omitempty"`
}

// WebhookPayload is a pushed chat event. Message is already normalized.
type WebhookPayload struct {
	Source    string      `json:"source"`
	Event     string      `json:"event"` // new_message or mention_notification
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message"`
	Room      WebhookRoom `json:"room"`
}

// WebhookReply is an optional reply posted back into the originating room.
type WebhookReply struct {
	Content string `json:"content"`
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) (*WebhookReply, error)

// ============================================================================
// Standalone functions
// ============================================================================

// VerifyWebhookSignature verifies a webhook signature using HMAC-SHA256 with
// constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload,
// normalizing the embedded message.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var raw struct {
		Source    string          `json:"source"`
		Event     string          `json:"event"`
		Timestamp int64           `json:"timestamp"`
		Message   json.RawMessage `json:"message"`
		Room      WebhookRoom     `json:"room"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if raw.Source != webhookSource {
		return nil, fmt.Errorf("unknown webhook source: %s", raw.Source)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if raw.Room.ID == "" {
		return nil, fmt.Errorf("missing room in webhook payload")
	}
	if len(raw.Message) == 0 {
		return nil, fmt.Errorf("missing message in webhook payload")
	}

	msg, err := NormalizeMessage(raw.Message)
	if err != nil {
		return nil, fmt.Errorf("webhook message: %w", err)
	}

	return &WebhookPayload{
		Source:    raw.Source,
		Event:     raw.Event,
		Timestamp: raw.Timestamp,
		Message:   msg,
		Room:      raw.Room,
	}, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook handles chat event webhook verification, parsing, and dispatch.
type Webhook struct {
	secret  string
	onEvent WebhookHandlerFunc
}

// NewWebhook creates a new webhook handler.
func NewWebhook(secret string, onEvent WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Webhook{
		secret:  secret,
		onEvent: onEvent,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	reply, err := w.onEvent(payload)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}

	if reply != nil {
		return http.StatusOK, reply
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := bizchat.NewWebhook("secret", handler)
//	http.Handle("/chat/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *Webhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
