package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrHandshakeTimeout   = errors.New("handshake timeout")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrReconnectExhausted = errors.New("reconnection exhausted")
	ErrNotConnected       = errors.New("not connected")
	ErrSendFailure        = errors.New("send failed")
	ErrEmptyText          = errors.New("message text is empty")
	ErrTransport          = errors.New("transport error")
)

// Close codes used on the wire.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// TransportError describes a low-level channel failure or an abnormal closure.
type TransportError struct {
	Code   int    // Close code, CloseAbnormal for abrupt drops and dial failures
	Reason string // Close reason sent by the peer, if any
	Err    error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport error (code %d): %s", e.Code, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport error (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transport error (code %d)", e.Code)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ServerError is an error frame sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Frame types sent by the server.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameError     = "error"
)

// Frame is an inbound frame, discriminated by Type.
type Frame struct {
	Type       string   `json:"type"`
	UserID     int64    `json:"user_id,omitempty"`
	ID         *int64   `json:"id,omitempty"`
	SenderID   int64    `json:"sender_id,omitempty"`
	ReceiverID int64    `json:"receiver_id,omitempty"`
	Text       string   `json:"text,omitempty"`
	CreatedAt  *float64 `json:"created_at,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// OutboundMessage is the only frame the client writes. It has no type field.
type OutboundMessage struct {
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
}

// Message is an inbound chat message forwarded to OnMessage.
type Message struct {
	ID         int64     // Zero when the server did not send one
	SenderID   int64
	ReceiverID int64
	Text       string
	CreatedAt  time.Time // Zero when the server did not send one
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// toMessage converts a message frame. created_at is unix seconds.
func (f Frame) toMessage(receivedAt time.Time) Message {
	msg := Message{
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Text:       f.Text,
		ReceivedAt: receivedAt,
	}
	if f.ID != nil {
		msg.ID = *f.ID
	}
	if f.CreatedAt != nil {
		sec := int64(*f.CreatedAt)
		nsec := int64((*f.CreatedAt - float64(sec)) * float64(time.Second))
		msg.CreatedAt = time.Unix(sec, nsec).UTC()
	}
	return msg
}

// Handlers are the presentation-layer callbacks.
type Handlers struct {
	OnMessage func(Message)
	OnError   func(error)
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Websocket URL (e.g., ws://localhost:8080/api/1/ws)
	HandshakeTimeout     time.Duration // Max time from dial to the connected frame
	ReconnectBaseWait    time.Duration // Delay before the first reconnect attempt
	ReconnectMaxWait     time.Duration // Cap on the reconnect delay
	MaxReconnectAttempts int           // Attempts before giving up
	WriteTimeout         time.Duration // Write deadline for sends
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     10 * time.Second,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 5,
		WriteTimeout:         5 * time.Second,
	}
}
