package models

// Role determines which rooms and actions an identity may access.
type Role string

const (
	RoleMember Role = "member"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Presence is a user's aggregate availability status, derived from their
// live connections. A user with no live connection is offline.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

// ValidPresence reports whether s is a presence value a client may set.
// Offline is derived, never set directly.
func ValidPresence(s string) bool {
	switch Presence(s) {
	case PresenceOnline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

// Identity is the authenticated principal behind a connection.
// It always comes from the verified connect token, never from payloads.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}
