// Package event defines the wire envelope and payloads exchanged over the
// real-time gateway.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	// Try to unmarshal as Unix milliseconds (integer)
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	// Fall back to RFC3339 string format
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Event types for gateway communication
const (
	// System events
	TypeSystem = "system"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeError  = "error"
	TypeAuth   = "auth"

	// Inbound client events
	TypeJoin             = "join"
	TypeSendMessage      = "send_message"
	TypeMarkRead         = "mark_read"
	TypeNotificationsAck = "mark_notifications_as_read"

	// Outbound delivery events
	TypeNewMessage        = "new_message"
	TypeSentConfirmation  = "message_sent_confirmation"
	TypeNewNotification   = "new_notification"
	TypeNotificationsRead = "notifications_read"
)

// Envelope wraps every event sent over the gateway
type Envelope struct {
	// Type identifies the event for routing
	Type string `json:"type"`

	// Payload contains the event-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is a unique event identifier for acknowledgment
	ID string `json:"id,omitempty"`

	// ReplyTo references the original event ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the event was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// New creates a new envelope with the current timestamp
func New(eventType string, payload interface{}) *Envelope {
	return &Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewWithID creates a new envelope with a specific ID
func NewWithID(eventType string, id string, payload interface{}) *Envelope {
	return &Envelope{
		Type:      eventType,
		ID:        id,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewReply creates a reply to an original event
func NewReply(original *Envelope, eventType string, payload interface{}) *Envelope {
	return &Envelope{
		Type:      eventType,
		ReplyTo:   original.ID,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewError creates an error event
func NewError(code string, message string) *Envelope {
	return &Envelope{
		Type: TypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// ParsePayload unmarshals the payload into a specific type
func (e *Envelope) ParsePayload(target interface{}) error {
	if e.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// ErrorPayload represents an error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// PingPayload represents a ping event payload
type PingPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a pong event payload
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// AuthPayload represents authentication event payload
type AuthPayload struct {
	Token  string `json:"token,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"` // "authenticated", "failed"
	Error  string `json:"error,omitempty"`
}

// JoinPayload is sent by clients announcing themselves after connect.
// The binding already happened during the authenticated upgrade; this event
// exists for client compatibility and is acknowledged, not acted on.
type JoinPayload struct {
	UserID string `json:"user_id"`
}

// SendMessagePayload is the inbound request to send a direct message
type SendMessagePayload struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// MarkReadPayload is the inbound request to mark messages read
type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}

// MessagePayload carries a delivered message or a send confirmation
type MessagePayload struct {
	MessageID     string `json:"message_id"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	Content       string `json:"content"`
	DeliveryState string `json:"delivery_state"`
	Timestamp     int64  `json:"timestamp"`
}

// NotificationPayload carries the receiver's updated unread counter
type NotificationPayload struct {
	SenderID     string `json:"sender_id,omitempty"`
	MessageCount int64  `json:"message_count"`
	IsRead       bool   `json:"is_read"`
}

// NotificationsReadPayload confirms a counter reset
type NotificationsReadPayload struct {
	UserID string `json:"user_id"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
