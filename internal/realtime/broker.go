package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/metrics"
	"github.com/eldtechnologies/pulse/internal/models"
	"github.com/eldtechnologies/pulse/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Broker routes messages through the pipeline every send shares:
// membership check, rate limit, size limit, sanitization, then fan-out.
// Per-room delivery order is fixed by a per-broker mutex; two messages
// accepted for the same room reach every participant in the same order.
type Broker struct {
	hub    *Hub
	logger zerolog.Logger

	store store.Store       // nilable
	cache *store.RedisCache // nilable

	historySize int

	mu      sync.Mutex
	history map[string][]models.Message // in-memory ring per room
}

// NewBroker creates a message broker. historySize bounds the in-memory
// per-room history ring used when no cache is configured.
func NewBroker(hub *Hub, st store.Store, cache *store.RedisCache, historySize int, logger zerolog.Logger) *Broker {
	if historySize <= 0 {
		historySize = defaultHistoryLimit
	}
	return &Broker{
		hub:         hub,
		logger:      logger.With().Str("component", "broker").Logger(),
		store:       st,
		cache:       cache,
		historySize: historySize,
		history:     make(map[string][]models.Message),
	}
}

func newMessageID() string {
	return ulid.Make().String()
}

// Broadcast validates, sanitizes, and fans a room message out to every
// participant, including the sender. Persistence runs asynchronously
// after delivery; a store failure degrades to a warning, never an error.
func (b *Broker) Broadcast(c *Client, roomID, msgType, content string) (*models.Message, error) {
	userID := c.UserID()
	if !b.hub.rooms.IsMember(roomID, userID) {
		return nil, fmt.Errorf("%w: not a member of room %q", ErrPermission, roomID)
	}
	if err := b.hub.guard.AllowMessage(userID, roomID); err != nil {
		return nil, err
	}
	if err := b.hub.guard.CheckSize(len(content)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}
	if msgType == "" {
		msgType = "chat"
	}

	msg := &models.Message{
		ID:         newMessageID(),
		Type:       msgType,
		RoomID:     roomID,
		SenderID:   userID,
		SenderName: c.Identity().DisplayName,
		Content:    b.hub.guard.Sanitize(content),
		Timestamp:  time.Now().UnixMilli(),
	}

	// Delivery and history append happen under one lock so concurrent
	// sends to the same room keep one order everywhere.
	b.mu.Lock()
	ring := append(b.history[roomID], *msg)
	if len(ring) > b.historySize {
		ring = ring[len(ring)-b.historySize:]
	}
	b.history[roomID] = ring
	b.hub.BroadcastToRoom(roomID, EventMessage, msg, "")
	b.mu.Unlock()

	b.hub.rooms.Touch(roomID)
	metrics.MessagesTotal.WithLabelValues("room").Inc()

	b.persist(c, msg)
	return msg, nil
}

// persist writes a message through to the durable store and the cache.
// Failures degrade the sender's session with a warning rather than
// failing the already-delivered broadcast.
func (b *Broker) persist(c *Client, msg *models.Message) {
	if b.store != nil {
		b.hub.persistAsync("create_message", func(ctx context.Context) error {
			if err := b.store.CreateMessage(ctx, msg); err != nil {
				c.SendWarning("history_unavailable", "message delivered but not recorded in history")
				return err
			}
			return nil
		})
	}
	if b.cache != nil {
		b.hub.persistAsync("cache_message", func(ctx context.Context) error {
			return b.cache.AddMessage(ctx, msg)
		})
	}
}

// SendPrivate delivers a direct message to every live connection of the
// recipient. There is no offline queue for private messages; an offline
// recipient is an immediate error.
func (b *Broker) SendPrivate(c *Client, recipientID, content string) (*models.PrivateMessage, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	if err := b.hub.guard.AllowMessage(c.UserID(), "@private"); err != nil {
		return nil, err
	}
	if err := b.hub.guard.CheckSize(len(content)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}

	targets := b.hub.connectionsFor(recipientID)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: user %q is not connected", ErrRecipientOffline, recipientID)
	}

	msg := &models.PrivateMessage{
		ID:          newMessageID(),
		SenderID:    c.UserID(),
		SenderName:  c.Identity().DisplayName,
		RecipientID: recipientID,
		Content:     b.hub.guard.Sanitize(content),
		Timestamp:   time.Now().UnixMilli(),
	}

	for _, target := range targets {
		target.Send(EventPrivateMessage, msg)
	}
	// Echo to the sender's other connections so all devices show the thread
	for _, own := range b.hub.connectionsFor(c.UserID()) {
		if own.ID() != c.ID() {
			own.Send(EventPrivateMessage, msg)
		}
	}
	c.Send(EventPrivateMessage, msg)

	metrics.MessagesTotal.WithLabelValues("private").Inc()
	return msg, nil
}

// History returns a room's recent messages, newest first. before (Unix ms)
// is an exclusive upper bound when > 0. The cache is consulted first, then
// the durable store, then the in-memory ring.
func (b *Broker) History(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if b.cache != nil {
		msgs, err := b.cache.GetRoomMessages(ctx, roomID, limit, before)
		if err == nil && len(msgs) > 0 {
			return msgs, nil
		}
		if err != nil {
			metrics.StoreFailures.WithLabelValues("cache_history").Inc()
			b.logger.Warn().Str("room", roomID).Err(err).Msg("cache read failed, falling back")
		}
	}

	if b.store != nil {
		msgs, err := b.store.QueryMessages(ctx, roomID, limit, before)
		if err == nil {
			return msgs, nil
		}
		metrics.StoreFailures.WithLabelValues("query_messages").Inc()
		b.logger.Warn().Str("room", roomID).Err(err).Msg("store read failed, falling back to memory")
	}

	return b.memoryHistory(roomID, limit, before), nil
}

// memoryHistory reads the in-memory ring, newest first.
func (b *Broker) memoryHistory(roomID string, limit int, before int64) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.history[roomID]
	out := make([]models.Message, 0, limit)
	for i := len(ring) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && ring[i].Timestamp >= before {
			continue
		}
		out = append(out, ring[i])
	}
	return out
}

// TrimHistory shrinks every in-memory ring to keep entries. Used by the
// housekeeper under memory pressure.
func (b *Broker) TrimHistory(keep int) int {
	if keep < 1 {
		keep = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	trimmed := 0
	for roomID, ring := range b.history {
		if len(ring) > keep {
			trimmed += len(ring) - keep
			b.history[roomID] = ring[len(ring)-keep:]
		}
	}
	return trimmed
}

// DropRoom discards a destroyed room's history from memory and cache.
func (b *Broker) DropRoom(roomID string) {
	b.mu.Lock()
	delete(b.history, roomID)
	b.mu.Unlock()

	if b.cache != nil {
		b.hub.persistAsync("cache_delete_room", func(ctx context.Context) error {
			return b.cache.DeleteRoom(ctx, roomID)
		})
	}
}
