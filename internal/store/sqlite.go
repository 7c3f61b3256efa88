package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/pulse/internal/models"
)

// SQLiteStore handles SQLite database operations. Used in development and
// single-node deployments where PostgreSQL is not configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/pulse.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/pulse.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		connection_id TEXT UNIQUE NOT NULL,
		user_id TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL DEFAULT 'message',
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_deliveries (
		notification_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (notification_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, ts DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession records a new connection session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, connection_id, user_id, remote_addr, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.ConnectionID, sess.UserID, sess.RemoteAddr, sess.StartedAt)
	return err
}

// EndSession stamps the end time of a session.
func (s *SQLiteStore) EndSession(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?
		WHERE connection_id = ? AND ended_at IS NULL
	`, time.Now(), connectionID)
	return err
}

// CreateMessage persists a room message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, type, room_id, sender_id, sender_name, content, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Type, m.RoomID, m.SenderID, m.SenderName, m.Content, m.Timestamp)
	return err
}

// QueryMessages retrieves messages for a room, newest first.
func (s *SQLiteStore) QueryMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	query := `
		SELECT id, type, room_id, sender_id, sender_name, content, ts
		FROM messages
		WHERE room_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	args := []any{roomID, limit}
	if before > 0 {
		query = `
			SELECT id, type, room_id, sender_id, sender_name, content, ts
			FROM messages
			WHERE room_id = ? AND ts < ?
			ORDER BY ts DESC
			LIMIT ?
		`
		args = []any{roomID, before, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Type, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateNotificationDeliveryState records the delivery outcome for a notification.
func (s *SQLiteStore) UpdateNotificationDeliveryState(ctx context.Context, notificationID, userID, state string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_deliveries (notification_id, user_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (notification_id, user_id)
		DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, notificationID, userID, state, time.Now())
	return err
}

var _ Store = (*SQLiteStore)(nil)
