package models

// Message is a chat message or room event. Immutable once created;
// SenderID is always the authenticated owner of the sending connection.
type Message struct {
	ID         string `json:"id"` // ULID, sortable by creation time
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	SenderID   string `json:"from"`
	SenderName string `json:"from_name,omitempty"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"ts"` // Unix ms
}

// PrivateMessage is delivered directly between two users, bypassing rooms.
// There is no offline queue for these; the recipient must be connected.
type PrivateMessage struct {
	ID          string `json:"id"`
	SenderID    string `json:"from"`
	SenderName  string `json:"from_name,omitempty"`
	RecipientID string `json:"to"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"ts"`
}
