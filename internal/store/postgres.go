package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/pulse/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession records a new connection session.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO sessions (connection_id, user_id, remote_addr, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, sess.ConnectionID, sess.UserID, sess.RemoteAddr, sess.StartedAt).Scan(&sess.ID)
}

// EndSession stamps the end time of a session. Idempotent; already-ended
// sessions are left untouched.
func (s *PostgresStore) EndSession(ctx context.Context, connectionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = NOW()
		WHERE connection_id = $1 AND ended_at IS NULL
	`, connectionID)
	return err
}

// CreateMessage persists a room message.
func (s *PostgresStore) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, type, room_id, sender_id, sender_name, content, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.Type, m.RoomID, m.SenderID, m.SenderName, m.Content, m.Timestamp)
	return err
}

// QueryMessages retrieves messages for a room, newest first.
func (s *PostgresStore) QueryMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	var rows pgx.Rows
	var err error
	if before > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT id, type, room_id, sender_id, sender_name, content, ts
			FROM messages
			WHERE room_id = $1 AND ts < $2
			ORDER BY ts DESC
			LIMIT $3
		`, roomID, before, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, type, room_id, sender_id, sender_name, content, ts
			FROM messages
			WHERE room_id = $1
			ORDER BY ts DESC
			LIMIT $2
		`, roomID, limit)
	}
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

// UpdateNotificationDeliveryState records the delivery outcome for a
// notification. Missing rows are created so redelivery after a restart
// stays idempotent.
func (s *PostgresStore) UpdateNotificationDeliveryState(ctx context.Context, notificationID, userID, state string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (notification_id, user_id, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (notification_id, user_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, notificationID, userID, state)
	return err
}

// RunMigrations applies the schema. Kept minimal; production deployments
// manage the schema out of band.
func RunMigrations(ctx context.Context, databaseURL string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	connection_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	remote_addr TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	ended_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT 'message',
	room_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_deliveries (
	notification_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (notification_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, ts DESC);
`

var _ Store = (*PostgresStore)(nil)
