package realtime

import (
	"encoding/json"
	"testing"

	"github.com/eldtechnologies/pulse/internal/models"
)

func send(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h.handleFrame(c, mustFrame(t, event, data))
}

func TestJoinLeaveOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")

	send(t, h, alice, ActionJoinRoom, models.RoomSpec{ID: "content:9"})

	data := recvEvent(t, alice, EventRoomJoined)
	var info models.RoomInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatal(err)
	}
	if info.ID != "content:9" || len(info.Participants) != 1 {
		t.Fatalf("room_joined = %+v", info)
	}

	send(t, h, alice, ActionLeaveRoom, leavePayload{RoomID: "content:9"})
	recvEvent(t, alice, EventRoomLeft)
	if h.rooms.IsMember("content:9", "alice") {
		t.Fatal("still a member after leave")
	}
}

func TestTypingFanOutOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "r")
	joinRoom(t, h, bob, "r")
	drainEvents(alice)
	drainEvents(bob)

	send(t, h, alice, ActionTyping, typingPayload{RoomID: "r", IsTyping: true})

	data := recvEvent(t, bob, EventUserTyping)
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || !p.IsTyping {
		t.Fatalf("user_typing = %+v", p)
	}
	// The sender gets no echo of its own indicator
	if got := countEvents(t, alice, EventUserTyping); got != 0 {
		t.Fatalf("sender received %d typing echoes", got)
	}

	// A refresh changes nothing visible
	send(t, h, alice, ActionTyping, typingPayload{RoomID: "r", IsTyping: true})
	if got := countEvents(t, bob, EventUserTyping); got != 0 {
		t.Fatalf("refresh broadcast %d events", got)
	}
}

func TestCursorFanOutOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "r")
	joinRoom(t, h, bob, "r")
	drainEvents(bob)

	send(t, h, alice, ActionCursor, cursorPayload{RoomID: "r", Position: models.CursorPosition{X: 10, Y: 20}})

	data := recvEvent(t, bob, EventCursorUpdate)
	var p cursorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || p.Position.X != 10 {
		t.Fatalf("cursor_update = %+v", p)
	}
}

func TestDocumentOperationOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "document:d1")
	joinRoom(t, h, bob, "document:d1")
	drainEvents(alice)
	drainEvents(bob)

	send(t, h, alice, ActionOperation, models.Operation{
		DocumentID: "d1", Kind: models.OpInsert, Position: 0, Text: "hi", BaseVersion: 0,
	})

	// Both participants see the accepted operation with the new version
	for _, c := range []*Client{alice, bob} {
		data := recvEvent(t, c, EventDocumentOperation)
		var res operationResult
		if err := json.Unmarshal(data, &res); err != nil {
			t.Fatal(err)
		}
		if res.Version != 1 || res.Operation.UserID != "alice" {
			t.Fatalf("document_operation = %+v", res)
		}
	}
}

func TestOperationBlockedByForeignLock(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "document:d1")
	joinRoom(t, h, bob, "document:d1")
	drainEvents(bob)

	if _, err := h.engine.Lock(alice.ID(), "alice", "d1", ""); err != nil {
		t.Fatal(err)
	}

	send(t, h, bob, ActionOperation, models.Operation{
		DocumentID: "d1", Kind: models.OpInsert, Position: 0, Text: "nope",
	})

	data := recvEvent(t, bob, EventError)
	var p errorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != "document_locked" {
		t.Fatalf("code = %q, want document_locked", p.Code)
	}
	if h.engine.Version("d1") != 0 {
		t.Fatal("blocked operation still bumped the version")
	}
}

func TestLockUnlockOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "document:d1")
	joinRoom(t, h, bob, "document:d1")
	drainEvents(alice)
	drainEvents(bob)

	send(t, h, alice, ActionLock, lockPayload{DocumentID: "d1"})

	data := recvEvent(t, alice, EventLockGranted)
	var lock models.DocumentLock
	if err := json.Unmarshal(data, &lock); err != nil {
		t.Fatal(err)
	}
	if lock.OwnerUserID != "alice" || lock.LockID == "" {
		t.Fatalf("lock_granted = %+v", lock)
	}
	recvEvent(t, bob, EventLockGranted)

	send(t, h, alice, ActionUnlock, lockPayload{DocumentID: "d1", LockID: lock.LockID})
	recvEvent(t, alice, EventLockReleased)
	recvEvent(t, bob, EventLockReleased)
	if h.engine.LockInfo("d1") != nil {
		t.Fatal("lock survived unlock")
	}
}

func TestRateLimitEventCarriesRetryHint(t *testing.T) {
	h := newTestHub()
	h.guard.msgBurst = 1
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")
	drainEvents(alice)

	send(t, h, alice, ActionMessage, messagePayload{RoomID: "r", Content: "one"})
	send(t, h, alice, ActionMessage, messagePayload{RoomID: "r", Content: "two"})

	data := recvEvent(t, alice, EventRateLimitExceeded)
	var p errorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != "rate_limited" || p.RetryAfterMs <= 0 {
		t.Fatalf("rate_limit_exceeded = %+v", p)
	}
}

func TestUnknownActionIsValidationError(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")

	h.handleFrame(alice, mustFrame(t, "dance", nil))

	data := recvEvent(t, alice, EventError)
	var p errorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != "invalid_payload" {
		t.Fatalf("code = %q, want invalid_payload", p.Code)
	}
}

func TestSetPresenceOverWire(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "r")
	joinRoom(t, h, bob, "r")
	drainEvents(bob)

	send(t, h, alice, ActionSetPresence, presencePayload{Presence: models.PresenceBusy})

	data := recvEvent(t, bob, EventPresenceChanged)
	var p presencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || p.Presence != models.PresenceBusy {
		t.Fatalf("presence_changed = %+v", p)
	}
}
