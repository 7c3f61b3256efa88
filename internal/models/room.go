package models

import "time"

// RoomType classifies what business entity a room mirrors.
type RoomType string

const (
	RoomContent   RoomType = "content"
	RoomCampaign  RoomType = "campaign"
	RoomDocument  RoomType = "document"
	RoomWorkspace RoomType = "workspace"
	RoomSystem    RoomType = "system"
)

// ValidRoomType reports whether t is a known room type.
func ValidRoomType(t RoomType) bool {
	switch t {
	case RoomContent, RoomCampaign, RoomDocument, RoomWorkspace, RoomSystem:
		return true
	}
	return false
}

// RoomSpec describes a room to create or join. JoinKey is only consulted
// for private rooms and is never echoed back to clients.
type RoomSpec struct {
	ID              string   `json:"id"`
	Type            RoomType `json:"type"`
	TargetID        string   `json:"target_id,omitempty"`
	MaxParticipants int      `json:"max_participants,omitempty"`
	IsPrivate       bool     `json:"is_private,omitempty"`
	JoinKey         string   `json:"join_key,omitempty"`
}

// RoomInfo is the client-visible snapshot of a live room.
type RoomInfo struct {
	ID              string    `json:"id"`
	Type            RoomType  `json:"type"`
	TargetID        string    `json:"target_id,omitempty"`
	MaxParticipants int       `json:"max_participants,omitempty"`
	IsPrivate       bool      `json:"is_private,omitempty"`
	Participants    []string  `json:"participants"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}
