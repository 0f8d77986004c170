package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Well-known message types. Application events follow the
// "<entity>:<action>" convention; the remainder are session-control
// messages emitted by the websocket layer.
const (
	TypeConnectionEstablished = "connection:established"
	TypePong                  = "pong"
	TypeUserTyping            = "user:typing"
	TypeUserCursor            = "user:cursor"
	TypeUserDisconnected      = "user:disconnected"
)

// Message is a single outbound event delivered to subscribers. Delivery is
// fire-and-forget: no acknowledgment, no persistence, no replay.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a message of the given type, stamped with the current
// time.
func NewMessage(msgType string, data map[string]any) *Message {
	return &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// EventType joins an entity name and an action into the wire convention,
// e.g. EventType("entry", "created") == "entry:created".
func EventType(entity, action string) string {
	return entity + ":" + action
}

// Conn is the send side of one live client connection. Implementations must
// be safe for concurrent use; Send must return an error (rather than block
// indefinitely) when the peer is gone.
type Conn interface {
	Send(msg *Message) error
	Close() error
}

// connKey identifies a single connection. A user holds at most one
// connection per calendar.
type connKey struct {
	UserID     uuid.UUID
	CalendarID uuid.UUID
}
