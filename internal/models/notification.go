package models

import "encoding/json"

// Notification delivery states recorded against the persistence boundary.
const (
	NotificationDelivered = "delivered"
	NotificationQueued    = "queued"
)

// Notification is an external event targeted at one user. Delivery is
// at-least-once; duplicate suppression is the client's responsibility.
type Notification struct {
	ID        string          `json:"id"` // ULID
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"` // Unix ms
}
