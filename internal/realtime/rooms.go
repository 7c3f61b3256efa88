package realtime

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/pulse/internal/metrics"
	"github.com/eldtechnologies/pulse/internal/models"
)

// Room ID validation: alphanumeric, hyphens, underscores, colons, 1-64 chars
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]{1,64}$`)

// room is the directory's internal record. members maps userID to the set
// of connection IDs occupying the room; capacity counts distinct users.
type room struct {
	id              string
	rtype           models.RoomType
	targetID        string
	maxParticipants int
	isPrivate       bool
	keyHash         string

	createdAt    time.Time
	lastActivity time.Time
	// emptySince is set when the last participant leaves; the housekeeper
	// deletes the room once the grace window passes. Zero while occupied.
	emptySince time.Time

	members map[string]map[string]struct{}
}

func (r *room) info() *models.RoomInfo {
	participants := make([]string, 0, len(r.members))
	for userID := range r.members {
		participants = append(participants, userID)
	}
	sort.Strings(participants)

	return &models.RoomInfo{
		ID:              r.id,
		Type:            r.rtype,
		TargetID:        r.targetID,
		MaxParticipants: r.maxParticipants,
		IsPrivate:       r.isPrivate,
		Participants:    participants,
		CreatedAt:       r.createdAt,
		LastActivityAt:  r.lastActivity,
	}
}

// Directory owns room lifecycle, membership, and capacity. Rooms are
// created on first join or explicitly, and destroyed by the housekeeper
// after sitting empty for the grace window.
type Directory struct {
	logger    zerolog.Logger
	evaluator PermissionEvaluator
	grace     time.Duration

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewDirectory creates an empty room directory.
func NewDirectory(evaluator PermissionEvaluator, grace time.Duration, logger zerolog.Logger) *Directory {
	return &Directory{
		logger:    logger.With().Str("component", "rooms").Logger(),
		evaluator: evaluator,
		grace:     grace,
		rooms:     make(map[string]*room),
	}
}

func validateSpec(spec models.RoomSpec) error {
	if !roomIDRegex.MatchString(spec.ID) {
		return fmt.Errorf("%w: room id must be 1-64 characters, alphanumeric with hyphens, underscores and colons", ErrValidation)
	}
	if spec.Type != "" && !models.ValidRoomType(spec.Type) {
		return fmt.Errorf("%w: unknown room type %q", ErrValidation, spec.Type)
	}
	if spec.MaxParticipants < 0 {
		return fmt.Errorf("%w: max_participants must not be negative", ErrValidation)
	}
	return nil
}

// getOrCreate returns the room for spec, creating it if absent.
// Caller must hold d.mu.
func (d *Directory) getOrCreate(spec models.RoomSpec) (*room, error) {
	if r, ok := d.rooms[spec.ID]; ok {
		return r, nil
	}

	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	rtype := spec.Type
	if rtype == "" {
		rtype = models.RoomContent
	}

	var keyHash string
	if spec.IsPrivate && spec.JoinKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(spec.JoinKey), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		keyHash = string(hash)
	}

	now := time.Now()
	r := &room{
		id:              spec.ID,
		rtype:           rtype,
		targetID:        spec.TargetID,
		maxParticipants: spec.MaxParticipants,
		isPrivate:       spec.IsPrivate,
		keyHash:         keyHash,
		createdAt:       now,
		lastActivity:    now,
		members:         make(map[string]map[string]struct{}),
	}
	d.rooms[spec.ID] = r
	metrics.RoomsActive.Set(float64(len(d.rooms)))
	d.logger.Info().Str("room", spec.ID).Str("type", string(rtype)).Msg("room created")
	return r, nil
}

// Create makes a room explicitly. Creating an existing room returns its
// current state unchanged.
func (d *Directory) Create(spec models.RoomSpec, creator *models.Identity) (*models.RoomInfo, error) {
	if creator != nil && !d.evaluator.CanJoinRoom(creator, spec) {
		return nil, fmt.Errorf("%w: role %q may not create room %q", ErrPermission, creator.Role, spec.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, err := d.getOrCreate(spec)
	if err != nil {
		return nil, err
	}
	return r.info(), nil
}

// Join adds a connection to a room, creating the room on first join.
// Capacity counts distinct users: a second connection from an existing
// participant always succeeds.
func (d *Directory) Join(c *Client, spec models.RoomSpec) (*models.RoomInfo, error) {
	identity := c.Identity()
	if !d.evaluator.CanJoinRoom(&identity, spec) {
		return nil, fmt.Errorf("%w: role %q may not join room %q", ErrPermission, identity.Role, spec.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, err := d.getOrCreate(spec)
	if err != nil {
		return nil, err
	}

	conns, already := r.members[identity.UserID]

	// Private room key check applies to new participants only
	if !already && r.keyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(r.keyHash), []byte(spec.JoinKey)); err != nil {
			return nil, fmt.Errorf("%w: invalid join key for room %q", ErrPermission, r.id)
		}
	}

	if !already && r.maxParticipants > 0 && len(r.members) >= r.maxParticipants {
		return nil, fmt.Errorf("%w: room %q is limited to %d participants", ErrCapacity, r.id, r.maxParticipants)
	}

	if conns == nil {
		conns = make(map[string]struct{})
		r.members[identity.UserID] = conns
	}
	conns[c.ID()] = struct{}{}
	r.emptySince = time.Time{}
	r.lastActivity = time.Now()

	return r.info(), nil
}

// Leave removes a connection from a room. When the last connection of the
// last user leaves, the room is marked for deferred cleanup rather than
// deleted immediately, to tolerate reconnect races.
func (d *Directory) Leave(c *Client, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %q", ErrNotFound, roomID)
	}
	return d.removeConn(r, c.UserID(), c.ID())
}

// removeConn drops one connection from a room. Caller must hold d.mu.
func (d *Directory) removeConn(r *room, userID, connID string) error {
	conns, ok := r.members[userID]
	if !ok {
		return fmt.Errorf("%w: not a member of room %q", ErrNotFound, r.id)
	}
	if _, ok := conns[connID]; !ok {
		return fmt.Errorf("%w: not a member of room %q", ErrNotFound, r.id)
	}

	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.members, userID)
	}
	if len(r.members) == 0 {
		r.emptySince = time.Now()
	}
	return nil
}

// LeaveAll removes a connection from every room it occupies and returns
// the affected room IDs. Used on disconnect; never fails.
func (d *Directory) LeaveAll(c *Client) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var left []string
	for _, r := range d.rooms {
		if conns, ok := r.members[c.UserID()]; ok {
			if _, ok := conns[c.ID()]; ok {
				_ = d.removeConn(r, c.UserID(), c.ID())
				left = append(left, r.id)
			}
		}
	}
	return left
}

// Info returns a snapshot of a room, or nil if it does not exist.
func (d *Directory) Info(roomID string) *models.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	return r.info()
}

// List returns snapshots of all live rooms.
func (d *Directory) List() []models.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]models.RoomInfo, 0, len(d.rooms))
	for _, r := range d.rooms {
		infos = append(infos, *r.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// UserRooms returns the rooms a user currently occupies.
func (d *Directory) UserRooms(userID string) []models.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var infos []models.RoomInfo
	for _, r := range d.rooms {
		if _, ok := r.members[userID]; ok {
			infos = append(infos, *r.info())
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Participants returns the distinct user IDs currently in a room.
func (d *Directory) Participants(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	participants := make([]string, 0, len(r.members))
	for userID := range r.members {
		participants = append(participants, userID)
	}
	return participants
}

// IsMember reports whether a user currently occupies a room.
func (d *Directory) IsMember(roomID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.members[userID]
	return ok
}

// Touch updates a room's last-activity timestamp.
func (d *Directory) Touch(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[roomID]; ok {
		r.lastActivity = time.Now()
	}
}

// Count returns the number of live rooms.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// sweepEmpty deletes rooms that have been empty for longer than the grace
// window and returns their IDs.
func (d *Directory) sweepEmpty(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deleted []string
	for id, r := range d.rooms {
		if len(r.members) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) > d.grace {
			delete(d.rooms, id)
			deleted = append(deleted, id)
		}
	}
	if len(deleted) > 0 {
		metrics.RoomsActive.Set(float64(len(d.rooms)))
		d.logger.Info().Strs("rooms", deleted).Msg("deleted empty rooms past grace window")
	}
	return deleted
}
