package realtime

import "encoding/json"

// Server-emitted events.
const (
	EventMessage           = "message"
	EventPrivateMessage    = "private_message"
	EventPresenceChanged   = "presence_changed"
	EventUserTyping        = "user_typing"
	EventCursorUpdate      = "cursor_update"
	EventDocumentOperation = "document_operation"
	EventNotification      = "notification"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventError             = "error"
	EventWarning           = "warning"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventLockGranted       = "lock_granted"
	EventLockReleased      = "lock_released"
)

// Client-sent events.
const (
	ActionJoinRoom    = "join_room"
	ActionLeaveRoom   = "leave_room"
	ActionMessage     = "message"
	ActionPrivate     = "private_message"
	ActionTyping      = "typing"
	ActionCursor      = "cursor_update"
	ActionOperation   = "document_operation"
	ActionLock        = "lock_document"
	ActionUnlock      = "unlock_document"
	ActionSetPresence = "set_presence"
)

// Envelope is the named-event frame exchanged over the transport.
// The wire format of the transport itself is opaque; every frame is one
// JSON-encoded envelope.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is the server-side envelope before encoding.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// errorPayload is the body of error and warning events.
type errorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// ErrorFrame encodes an error event frame for delivery outside a
// registered client, such as a failed post-upgrade handshake.
func ErrorFrame(err error) []byte {
	payload, _ := encodeEvent(EventError, errorPayload{Code: ErrorCode(err), Message: err.Error()})
	return payload
}
