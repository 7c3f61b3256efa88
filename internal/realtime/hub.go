package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/auth"
	"github.com/eldtechnologies/pulse/internal/config"
	"github.com/eldtechnologies/pulse/internal/metrics"
	"github.com/eldtechnologies/pulse/internal/models"
	"github.com/eldtechnologies/pulse/internal/store"
)

// maxValidationStrikes is the number of malformed payloads tolerated from
// one connection before it is forcibly closed.
const maxValidationStrikes = 5

// persistTimeout bounds every best-effort call into the persistence
// boundary so a stalled database can never pin goroutines.
const persistTimeout = 5 * time.Second

func newConnectionID() string {
	return uuid.New().String()
}

// Hub is the connection registry and the root of the realtime core. It
// owns the live connection set and aggregate presence; all other
// components operate on its live set and are wired in at construction.
type Hub struct {
	cfg    *config.Config
	logger zerolog.Logger

	authn     auth.Authenticator
	evaluator PermissionEvaluator
	store     store.Store // nilable; persistence is best-effort

	guard   *Guard
	rooms   *Directory
	tracker *Tracker
	engine  *Engine
	broker  *Broker
	bridge  *Bridge

	mu       sync.RWMutex
	conns    map[string]*Client
	byUser   map[string]map[string]*Client
	presence map[string]models.Presence

	wg sync.WaitGroup
}

// NewHub wires the realtime core. st and cache may be nil; the core then
// runs fully in-memory.
func NewHub(cfg *config.Config, logger zerolog.Logger, authn auth.Authenticator, evaluator PermissionEvaluator, st store.Store, cache *store.RedisCache) *Hub {
	h := &Hub{
		cfg:       cfg,
		logger:    logger.With().Str("component", "hub").Logger(),
		authn:     authn,
		evaluator: evaluator,
		store:     st,
		conns:     make(map[string]*Client),
		byUser:    make(map[string]map[string]*Client),
		presence:  make(map[string]models.Presence),
	}

	h.guard = NewGuard(GuardConfig{
		MaxPayload:      cfg.MaxMessageSize,
		MessageBurst:    cfg.MessageBurst,
		MessageInterval: cfg.MessageInterval,
		ConnectBurst:    cfg.ConnectBurst,
		ConnectInterval: cfg.ConnectInterval,
	}, logger)
	h.rooms = NewDirectory(evaluator, cfg.RoomGracePeriod, logger)
	h.tracker = NewTracker(cfg.TypingTTL, h.typingExpired, logger)
	h.engine = NewEngine(cfg.LockMaxAge, logger)
	h.broker = NewBroker(h, st, cache, cfg.HistoryCacheSize, logger)
	h.bridge = NewBridge(h, st, cfg.OfflineQueueLimit, logger)

	return h
}

// Rooms exposes the room directory to the HTTP surface.
func (h *Hub) Rooms() *Directory { return h.rooms }

// Broker exposes the message broker to the HTTP surface.
func (h *Hub) Broker() *Broker { return h.broker }

// Bridge exposes the notification bridge to notification origination.
func (h *Hub) Bridge() *Bridge { return h.bridge }

// Guard exposes the abuse guard (connection-attempt throttling happens
// before the upgrade, in the HTTP handler).
func (h *Hub) Guard() *Guard { return h.guard }

// Engine exposes the collaboration engine.
func (h *Hub) Engine() *Engine { return h.engine }

// Tracker exposes the typing/cursor tracker.
func (h *Hub) Tracker() *Tracker { return h.tracker }

// Connect authenticates a transport and registers the resulting
// connection. Authentication completes before any room or message state
// is allocated; a failed check discards the connection without side
// effects. conn may be nil for in-process connections in tests.
func (h *Hub) Connect(conn *websocket.Conn, token, remoteAddr string) (*Client, error) {
	if err := h.guard.AllowConnect(remoteAddr); err != nil {
		metrics.ConnectionsTotal.WithLabelValues("throttled").Inc()
		return nil, err
	}

	identity, err := h.authn.Authenticate(token)
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("auth_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	c := newClient(h, conn, *identity, remoteAddr)

	h.mu.Lock()
	h.conns[c.id] = c
	userConns, ok := h.byUser[identity.UserID]
	if !ok {
		userConns = make(map[string]*Client)
		h.byUser[identity.UserID] = userConns
	}
	userConns[c.id] = c
	firstConn := len(userConns) == 1
	if firstConn {
		h.presence[identity.UserID] = models.PresenceOnline
	}
	total := len(h.conns)
	h.mu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.ConnectionsActive.Set(float64(total))
	h.logger.Info().
		Str("conn", c.id).
		Str("user", identity.UserID).
		Str("remote_addr", remoteAddr).
		Int("total", total).
		Msg("connection registered")

	if h.store != nil {
		h.persistAsync("create_session", func(ctx context.Context) error {
			return h.store.CreateSession(ctx, &models.Session{
				ConnectionID: c.id,
				UserID:       identity.UserID,
				RemoteAddr:   remoteAddr,
				StartedAt:    c.connectedAt,
			})
		})
	}

	// Implicit memberships per the permission evaluator
	for _, spec := range h.evaluator.AutoJoinRooms(identity) {
		if _, err := h.rooms.Join(c, spec); err != nil {
			h.logger.Warn().Str("conn", c.id).Str("room", spec.ID).Err(err).Msg("auto-join failed")
		}
	}

	if firstConn {
		h.broadcastPresence(identity.UserID, models.PresenceOnline)
	}

	if conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	// Flush notifications queued while the user was offline
	h.bridge.DrainFor(c)

	return c, nil
}

// Disconnect unregisters a connection and releases every derived
// resource: room memberships, typing and cursor entries, owned locks.
// Idempotent; safe to run concurrently with a fresh connect from the
// same user.
func (h *Hub) Disconnect(connID, reason string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	userID := c.UserID()
	if userConns, ok := h.byUser[userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(h.byUser, userID)
			delete(h.presence, userID)
		}
	}
	lastConn := h.byUser[userID] == nil
	total := len(h.conns)
	h.mu.Unlock()

	roomsLeft := h.rooms.LeaveAll(c)
	for _, roomID := range roomsLeft {
		if !h.rooms.IsMember(roomID, userID) {
			if h.tracker.ClearUser(roomID, userID) {
				h.BroadcastToRoom(roomID, EventUserTyping, typingPayload{RoomID: roomID, UserID: userID, IsTyping: false}, connID)
			}
		}
	}

	for _, lock := range h.engine.ReleaseConnection(connID) {
		h.logger.Debug().Str("conn", connID).Str("document", lock.DocumentID).Msg("released lock on disconnect")
	}

	if lastConn {
		for _, roomID := range roomsLeft {
			h.BroadcastToRoom(roomID, EventPresenceChanged, presencePayload{UserID: userID, Presence: models.PresenceOffline}, connID)
		}
	}

	c.close()

	metrics.ConnectionsActive.Set(float64(total))
	h.logger.Info().
		Str("conn", connID).
		Str("user", userID).
		Str("reason", reason).
		Int("total", total).
		Msg("connection unregistered")

	if h.store != nil {
		h.persistAsync("end_session", func(ctx context.Context) error {
			return h.store.EndSession(ctx, connID)
		})
	}
}

// SetPresence updates a user's shared presence and announces it to every
// room the user occupies. Presence is aggregate across all of the user's
// connections.
func (h *Hub) SetPresence(userID string, p models.Presence) error {
	if !models.ValidPresence(string(p)) {
		return fmt.Errorf("%w: unknown presence %q", ErrValidation, p)
	}

	h.mu.Lock()
	if _, online := h.byUser[userID]; !online {
		h.mu.Unlock()
		return fmt.Errorf("%w: user %q has no live connection", ErrNotFound, userID)
	}
	h.presence[userID] = p
	h.mu.Unlock()

	h.broadcastPresence(userID, p)
	return nil
}

// PresenceOf returns a user's aggregate presence; offline when no
// connection is alive.
func (h *Hub) PresenceOf(userID string) models.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if p, ok := h.presence[userID]; ok {
		return p
	}
	return models.PresenceOffline
}

func (h *Hub) broadcastPresence(userID string, p models.Presence) {
	for _, info := range h.rooms.UserRooms(userID) {
		h.BroadcastToRoom(info.ID, EventPresenceChanged, presencePayload{UserID: userID, Presence: p}, "")
	}
}

// ConnectionInfo is the queryable view of one live connection.
type ConnectionInfo struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Role        models.Role     `json:"role"`
	Presence    models.Presence `json:"presence"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`
	Rooms       []string        `json:"rooms"`
}

// ConnectionFilter narrows ListConnections; zero value matches everything.
type ConnectionFilter struct {
	UserID string
	RoomID string
}

// ListConnections returns live connections matching the filter.
func (h *Hub) ListConnections(filter ConnectionFilter) []ConnectionInfo {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var infos []ConnectionInfo
	for _, c := range clients {
		if filter.UserID != "" && c.UserID() != filter.UserID {
			continue
		}
		if filter.RoomID != "" && !h.rooms.IsMember(filter.RoomID, c.UserID()) {
			continue
		}
		var roomIDs []string
		for _, info := range h.rooms.UserRooms(c.UserID()) {
			roomIDs = append(roomIDs, info.ID)
		}
		infos = append(infos, ConnectionInfo{
			ID:          c.ID(),
			UserID:      c.UserID(),
			DisplayName: c.identity.DisplayName,
			Role:        c.identity.Role,
			Presence:    h.PresenceOf(c.UserID()),
			RemoteAddr:  c.RemoteAddr(),
			ConnectedAt: c.ConnectedAt(),
			Rooms:       roomIDs,
		})
	}
	return infos
}

// connectionsFor returns the live connections of one user.
func (h *Hub) connectionsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userConns, ok := h.byUser[userID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(userConns))
	for _, c := range userConns {
		clients = append(clients, c)
	}
	return clients
}

// BroadcastToRoom delivers an event to every live connection of every
// room participant, except the connection named by exceptConnID. Slow
// consumers whose buffers are full are disconnected asynchronously rather
// than blocking the broadcast path.
func (h *Hub) BroadcastToRoom(roomID, event string, data any, exceptConnID string) {
	for _, userID := range h.rooms.Participants(roomID) {
		for _, c := range h.connectionsFor(userID) {
			if c.ID() == exceptConnID {
				continue
			}
			if !c.Send(event, data) && !c.closed.Load() {
				h.logger.Warn().Str("conn", c.ID()).Str("room", roomID).Msg("send buffer full, dropping connection")
				go h.Disconnect(c.ID(), "send buffer full")
			}
		}
	}
}

// typingExpired is the tracker's auto-clear hook: broadcast the implicit
// stop to the room.
func (h *Hub) typingExpired(roomID, userID string) {
	h.BroadcastToRoom(roomID, EventUserTyping, typingPayload{RoomID: roomID, UserID: userID, IsTyping: false}, "")
}

// persistAsync runs a best-effort call into the persistence boundary.
// Failures are logged and counted, never surfaced as hard errors.
func (h *Hub) persistAsync(op string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.StoreFailures.WithLabelValues(op).Inc()
			h.logger.Warn().Str("op", op).Err(err).Msg("persistence call failed, continuing in degraded mode")
		}
	}()
}

// Shutdown disconnects every client and waits for per-connection
// goroutines and in-flight persistence calls to finish.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Disconnect(id, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timed out, goroutines may still be running")
		return context.DeadlineExceeded
	}
}
