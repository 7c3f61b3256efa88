package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/metrics"
	"github.com/eldtechnologies/pulse/internal/models"
	"github.com/eldtechnologies/pulse/internal/store"
)

// Bridge routes externally originated notifications to users. Connected
// users get immediate delivery on every live connection; offline users
// get a bounded in-memory queue drained on their next connect. Delivery
// is at-least-once and ordering within a queue is preserved.
type Bridge struct {
	hub    *Hub
	logger zerolog.Logger
	store  store.Store // nilable
	limit  int

	mu     sync.Mutex
	queues map[string][]models.Notification
}

// NewBridge creates a notification bridge. limit bounds each user's
// offline queue; the oldest entry is dropped when a new one would exceed it.
func NewBridge(hub *Hub, st store.Store, limit int, logger zerolog.Logger) *Bridge {
	if limit <= 0 {
		limit = 100
	}
	return &Bridge{
		hub:    hub,
		logger: logger.With().Str("component", "bridge").Logger(),
		store:  st,
		limit:  limit,
		queues: make(map[string][]models.Notification),
	}
}

// Deliver routes one notification. Returns the recorded delivery state:
// delivered when at least one live connection took it, queued otherwise.
func (b *Bridge) Deliver(n models.Notification) (string, error) {
	if n.UserID == "" {
		return "", fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if n.ID == "" {
		n.ID = newMessageID()
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}

	state := models.NotificationQueued
	if targets := b.hub.connectionsFor(n.UserID); len(targets) > 0 {
		for _, c := range targets {
			c.Send(EventNotification, n)
		}
		state = models.NotificationDelivered
	} else {
		b.enqueue(n)
	}

	metrics.NotificationsTotal.WithLabelValues(state).Inc()
	b.recordState(n, state)
	return state, nil
}

func (b *Bridge) enqueue(n models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[n.UserID]
	if len(q) >= b.limit {
		dropped := q[0]
		q = q[1:]
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		b.logger.Warn().
			Str("user", n.UserID).
			Str("notification", dropped.ID).
			Msg("offline queue full, dropped oldest notification")
	}
	b.queues[n.UserID] = append(q, n)
}

// DrainFor flushes a user's queued notifications to a freshly connected
// client, oldest first, then clears the queue.
func (b *Bridge) DrainFor(c *Client) {
	b.mu.Lock()
	queued := b.queues[c.UserID()]
	delete(b.queues, c.UserID())
	b.mu.Unlock()

	for _, n := range queued {
		c.Send(EventNotification, n)
		b.recordState(n, models.NotificationDelivered)
	}
	if len(queued) > 0 {
		b.logger.Info().Str("user", c.UserID()).Int("count", len(queued)).Msg("drained offline notification queue")
	}
}

// QueueLen returns the number of notifications queued for a user.
func (b *Bridge) QueueLen(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[userID])
}

func (b *Bridge) recordState(n models.Notification, state string) {
	if b.store == nil {
		return
	}
	b.hub.persistAsync("notification_state", func(ctx context.Context) error {
		return b.store.UpdateNotificationDeliveryState(ctx, n.ID, n.UserID, state)
	})
}
