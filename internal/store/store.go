package store

import (
	"context"

	"github.com/eldtechnologies/pulse/internal/models"
)

// Store defines the persistence boundary for the realtime core: session
// records, durable message history, and notification delivery state.
// Both PostgresStore and SQLiteStore implement this interface. All calls
// are best-effort from the core's perspective; failures are logged and the
// in-memory operation proceeds in degraded mode.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, s *models.Session) error
	EndSession(ctx context.Context, connectionID string) error

	// Message operations
	CreateMessage(ctx context.Context, m *models.Message) error
	// QueryMessages returns up to limit messages for a room, newest first,
	// strictly older than before (Unix ms) when before > 0.
	QueryMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error)

	// Notification operations
	UpdateNotificationDeliveryState(ctx context.Context, notificationID, userID, state string) error
}
