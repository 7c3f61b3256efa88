package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/models"
)

type roomUserKey struct {
	roomID string
	userID string
}

// Tracker holds the ephemeral per-room UI state: who is typing and where
// their cursor last was. Typing entries self-expire; a client that stops
// sending "still typing" signals is cleared without an explicit stop.
type Tracker struct {
	logger zerolog.Logger
	ttl    time.Duration

	// onExpire is called (outside the tracker lock) when a typing entry
	// times out, so the hub can broadcast the implicit stop.
	onExpire func(roomID, userID string)

	mu      sync.Mutex
	typing  map[roomUserKey]*time.Timer
	expires map[roomUserKey]time.Time
	cursors map[roomUserKey]models.CursorPosition
}

// NewTracker creates a tracker whose typing entries expire after ttl.
func NewTracker(ttl time.Duration, onExpire func(roomID, userID string), logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Tracker{
		logger:   logger.With().Str("component", "tracker").Logger(),
		ttl:      ttl,
		onExpire: onExpire,
		typing:   make(map[roomUserKey]*time.Timer),
		expires:  make(map[roomUserKey]time.Time),
		cursors:  make(map[roomUserKey]models.CursorPosition),
	}
}

// SetTyping records or clears a typing indicator. Setting true (re)schedules
// the auto-clear; setting false cancels it. Returns true when the visible
// state changed.
func (t *Tracker) SetTyping(roomID, userID string, isTyping bool) bool {
	key := roomUserKey{roomID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, active := t.typing[key]

	if !isTyping {
		if !active {
			return false
		}
		timer.Stop()
		delete(t.typing, key)
		delete(t.expires, key)
		return true
	}

	if active {
		// Refresh: push the auto-clear out by a full TTL
		timer.Stop()
	}
	t.typing[key] = time.AfterFunc(t.ttl, func() { t.expire(key) })
	t.expires[key] = time.Now().Add(t.ttl)
	return !active
}

// expire removes a timed-out typing entry and notifies the hub. Safe to
// run concurrently with SetTyping and ClearUser; the entry may already be
// gone by the time the timer fires.
func (t *Tracker) expire(key roomUserKey) {
	t.mu.Lock()
	_, ok := t.typing[key]
	if ok {
		delete(t.typing, key)
		delete(t.expires, key)
	}
	t.mu.Unlock()

	if ok && t.onExpire != nil {
		t.onExpire(key.roomID, key.userID)
	}
}

// TypingUsers returns the users currently typing in a room.
func (t *Tracker) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for key := range t.typing {
		if key.roomID == roomID {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

// UpdateCursor stores the last reported cursor position. Last-writer-wins.
func (t *Tracker) UpdateCursor(roomID, userID string, pos models.CursorPosition) {
	t.mu.Lock()
	t.cursors[roomUserKey{roomID, userID}] = pos
	t.mu.Unlock()
}

// Cursor returns a user's last cursor position in a room, if any.
func (t *Tracker) Cursor(roomID, userID string) (models.CursorPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.cursors[roomUserKey{roomID, userID}]
	return pos, ok
}

// ClearUser drops a user's typing and cursor entries in one room. Called
// when their last connection leaves the room. Returns true when an active
// typing entry was cancelled, so callers can broadcast the stop.
func (t *Tracker) ClearUser(roomID, userID string) bool {
	key := roomUserKey{roomID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.cursors, key)
	timer, ok := t.typing[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.typing, key)
	delete(t.expires, key)
	return true
}

// ClearRoom drops all ephemeral state for a destroyed room.
func (t *Tracker) ClearRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.typing {
		if key.roomID == roomID {
			timer.Stop()
			delete(t.typing, key)
			delete(t.expires, key)
		}
	}
	for key := range t.cursors {
		if key.roomID == roomID {
			delete(t.cursors, key)
		}
	}
}

// CursorCount returns the number of tracked cursor entries.
func (t *Tracker) CursorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}

// trimCursors evicts arbitrary cursor entries down to target. Cursor state
// is advisory; dropping entries only suppresses stale positions.
func (t *Tracker) trimCursors(target int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.cursors {
		if len(t.cursors) <= target {
			break
		}
		delete(t.cursors, key)
		removed++
	}
	return removed
}
