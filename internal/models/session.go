package models

import "time"

// Session is the durable record of one connection's lifetime.
type Session struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	UserID       string     `json:"user_id"`
	RemoteAddr   string     `json:"remote_addr"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}
