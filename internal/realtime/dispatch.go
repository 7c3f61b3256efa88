package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eldtechnologies/pulse/internal/models"
)

// Payload bodies of client actions and server events that are not already
// model types.

type typingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

type presencePayload struct {
	UserID   string          `json:"user_id"`
	Presence models.Presence `json:"presence"`
}

type cursorPayload struct {
	RoomID   string                `json:"room_id"`
	UserID   string                `json:"user_id,omitempty"`
	Position models.CursorPosition `json:"position"`
}

type messagePayload struct {
	RoomID  string `json:"room_id"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

type privatePayload struct {
	RecipientID string `json:"to"`
	Content     string `json:"content"`
}

type lockPayload struct {
	DocumentID string `json:"document_id"`
	LockID     string `json:"lock_id,omitempty"`
	LockType   string `json:"lock_type,omitempty"`
}

type leavePayload struct {
	RoomID string `json:"room_id"`
}

type operationResult struct {
	Operation models.Operation `json:"operation"`
	Version   int64            `json:"version"`
}

// handleFrame decodes one transport frame and dispatches it. Malformed
// frames earn the connection a validation strike; enough strikes and the
// connection is closed as abusive.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	if err := h.guard.CheckSize(len(raw)); err != nil {
		c.SendError(err)
		h.strike(c)
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.SendError(fmt.Errorf("%w: malformed envelope", ErrValidation))
		h.strike(c)
		return
	}

	if err := h.handleEvent(c, env); err != nil {
		c.SendError(err)
		if errors.Is(err, ErrValidation) {
			h.strike(c)
		}
		if errors.Is(err, ErrAuth) {
			h.Disconnect(c.ID(), "authentication failure")
		}
	}
}

// strike counts a malformed payload against the connection and force
// closes it past the tolerance.
func (h *Hub) strike(c *Client) {
	if c.strikes.Add(1) >= maxValidationStrikes {
		h.logger.Warn().Str("conn", c.ID()).Str("user", c.UserID()).Msg("too many malformed payloads, closing connection")
		h.Disconnect(c.ID(), "repeated malformed payloads")
	}
}

func (h *Hub) handleEvent(c *Client, env Envelope) error {
	switch env.Event {
	case ActionJoinRoom:
		return h.handleJoin(c, env.Data)
	case ActionLeaveRoom:
		return h.handleLeave(c, env.Data)
	case ActionMessage:
		return h.handleMessage(c, env.Data)
	case ActionPrivate:
		return h.handlePrivate(c, env.Data)
	case ActionTyping:
		return h.handleTyping(c, env.Data)
	case ActionCursor:
		return h.handleCursor(c, env.Data)
	case ActionOperation:
		return h.handleOperation(c, env.Data)
	case ActionLock:
		return h.handleLock(c, env.Data)
	case ActionUnlock:
		return h.handleUnlock(c, env.Data)
	case ActionSetPresence:
		return h.handleSetPresence(c, env.Data)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrValidation, env.Event)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing payload", ErrValidation)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: malformed payload", ErrValidation)
	}
	return v, nil
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) error {
	spec, err := decode[models.RoomSpec](data)
	if err != nil {
		return err
	}

	info, err := h.rooms.Join(c, spec)
	if err != nil {
		return err
	}

	c.Send(EventRoomJoined, info)
	h.BroadcastToRoom(spec.ID, EventPresenceChanged, presencePayload{
		UserID:   c.UserID(),
		Presence: h.PresenceOf(c.UserID()),
	}, c.ID())
	return nil
}

func (h *Hub) handleLeave(c *Client, data json.RawMessage) error {
	p, err := decode[leavePayload](data)
	if err != nil {
		return err
	}

	userID := c.UserID()
	if err := h.rooms.Leave(c, p.RoomID); err != nil {
		return err
	}

	if !h.rooms.IsMember(p.RoomID, userID) {
		if h.tracker.ClearUser(p.RoomID, userID) {
			h.BroadcastToRoom(p.RoomID, EventUserTyping, typingPayload{RoomID: p.RoomID, UserID: userID, IsTyping: false}, c.ID())
		}
		h.BroadcastToRoom(p.RoomID, EventPresenceChanged, presencePayload{UserID: userID, Presence: models.PresenceOffline}, c.ID())
	}

	c.Send(EventRoomLeft, leavePayload{RoomID: p.RoomID})
	return nil
}

func (h *Hub) handleMessage(c *Client, data json.RawMessage) error {
	p, err := decode[messagePayload](data)
	if err != nil {
		return err
	}
	_, err = h.broker.Broadcast(c, p.RoomID, p.Type, p.Content)
	return err
}

func (h *Hub) handlePrivate(c *Client, data json.RawMessage) error {
	p, err := decode[privatePayload](data)
	if err != nil {
		return err
	}
	_, err = h.broker.SendPrivate(c, p.RecipientID, p.Content)
	return err
}

func (h *Hub) handleTyping(c *Client, data json.RawMessage) error {
	p, err := decode[typingPayload](data)
	if err != nil {
		return err
	}
	if !h.rooms.IsMember(p.RoomID, c.UserID()) {
		return fmt.Errorf("%w: not a member of room %q", ErrPermission, p.RoomID)
	}

	if h.tracker.SetTyping(p.RoomID, c.UserID(), p.IsTyping) {
		h.BroadcastToRoom(p.RoomID, EventUserTyping, typingPayload{
			RoomID:   p.RoomID,
			UserID:   c.UserID(),
			IsTyping: p.IsTyping,
		}, c.ID())
	}
	return nil
}

func (h *Hub) handleCursor(c *Client, data json.RawMessage) error {
	p, err := decode[cursorPayload](data)
	if err != nil {
		return err
	}
	if !h.rooms.IsMember(p.RoomID, c.UserID()) {
		return fmt.Errorf("%w: not a member of room %q", ErrPermission, p.RoomID)
	}

	h.tracker.UpdateCursor(p.RoomID, c.UserID(), p.Position)
	h.BroadcastToRoom(p.RoomID, EventCursorUpdate, cursorPayload{
		RoomID:   p.RoomID,
		UserID:   c.UserID(),
		Position: p.Position,
	}, c.ID())
	return nil
}

func (h *Hub) handleOperation(c *Client, data json.RawMessage) error {
	op, err := decode[models.Operation](data)
	if err != nil {
		return err
	}
	if op.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrValidation)
	}

	// Edits on a document locked by someone else are rejected up front.
	if lock := h.engine.LockInfo(op.DocumentID); lock != nil && lock.OwnerConnID != c.ID() {
		return fmt.Errorf("%w: document %q is locked by another session", ErrConflict, op.DocumentID)
	}

	roomID := "document:" + op.DocumentID
	if !h.rooms.IsMember(roomID, c.UserID()) {
		return fmt.Errorf("%w: not a member of room %q", ErrPermission, roomID)
	}

	op.UserID = c.UserID()
	op.Timestamp = time.Now().UnixMilli()

	transformed, version, err := h.engine.Accept(op)
	if err != nil {
		return err
	}

	h.rooms.Touch(roomID)
	h.BroadcastToRoom(roomID, EventDocumentOperation, operationResult{
		Operation: transformed,
		Version:   version,
	}, "")
	return nil
}

func (h *Hub) handleLock(c *Client, data json.RawMessage) error {
	p, err := decode[lockPayload](data)
	if err != nil {
		return err
	}
	if p.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrValidation)
	}

	lock, err := h.engine.Lock(c.ID(), c.UserID(), p.DocumentID, p.LockType)
	if err != nil {
		return err
	}

	c.Send(EventLockGranted, lock)
	h.BroadcastToRoom("document:"+p.DocumentID, EventLockGranted, lock, c.ID())
	return nil
}

func (h *Hub) handleUnlock(c *Client, data json.RawMessage) error {
	p, err := decode[lockPayload](data)
	if err != nil {
		return err
	}
	if p.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrValidation)
	}

	lock, err := h.engine.Unlock(c.ID(), p.DocumentID, p.LockID)
	if err != nil {
		return err
	}

	c.Send(EventLockReleased, lock)
	h.BroadcastToRoom("document:"+p.DocumentID, EventLockReleased, lock, c.ID())
	return nil
}

func (h *Hub) handleSetPresence(c *Client, data json.RawMessage) error {
	p, err := decode[presencePayload](data)
	if err != nil {
		return err
	}
	return h.SetPresence(c.UserID(), p.Presence)
}
