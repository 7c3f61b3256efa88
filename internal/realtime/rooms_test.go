package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/models"
)

func newTestDirectory(grace time.Duration) *Directory {
	return NewDirectory(RolePolicy{}, grace, zerolog.Nop())
}

func testClient(userID string) *Client {
	return newClient(nil, nil, models.Identity{UserID: userID, Role: models.RoleMember}, "127.0.0.1:1")
}

func TestJoinCreatesRoom(t *testing.T) {
	d := newTestDirectory(time.Minute)

	info, err := d.Join(testClient("alice"), models.RoomSpec{ID: "content:1"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if info.Type != models.RoomContent {
		t.Fatalf("default type = %q, want content", info.Type)
	}
	if len(info.Participants) != 1 || info.Participants[0] != "alice" {
		t.Fatalf("participants = %v", info.Participants)
	}
}

func TestJoinRejectsBadRoomID(t *testing.T) {
	d := newTestDirectory(time.Minute)

	bad := []string{"", "has spaces", "sla/sh", string(make([]byte, 65))}
	for _, id := range bad {
		if _, err := d.Join(testClient("alice"), models.RoomSpec{ID: id}); !errors.Is(err, ErrValidation) {
			t.Fatalf("id %q: want ErrValidation, got %v", id, err)
		}
	}
}

func TestCapacityCountsDistinctUsers(t *testing.T) {
	d := newTestDirectory(time.Minute)
	spec := models.RoomSpec{ID: "small", MaxParticipants: 2}

	alice1 := testClient("alice")
	alice2 := testClient("alice")
	bob := testClient("bob")
	carol := testClient("carol")

	if _, err := d.Join(alice1, spec); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Join(bob, spec); err != nil {
		t.Fatal(err)
	}
	// Second device of an existing participant never counts against capacity
	if _, err := d.Join(alice2, spec); err != nil {
		t.Fatalf("second device rejected: %v", err)
	}
	// A third distinct user does
	if _, err := d.Join(carol, spec); !errors.Is(err, ErrCapacity) {
		t.Fatalf("want ErrCapacity, got %v", err)
	}
}

func TestPrivateRoomJoinKey(t *testing.T) {
	d := newTestDirectory(time.Minute)
	creator := testClient("alice")

	if _, err := d.Join(creator, models.RoomSpec{ID: "secret", IsPrivate: true, JoinKey: "hunter2"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := d.Join(testClient("bob"), models.RoomSpec{ID: "secret", JoinKey: "wrong"}); !errors.Is(err, ErrPermission) {
		t.Fatalf("want ErrPermission, got %v", err)
	}
	if _, err := d.Join(testClient("bob"), models.RoomSpec{ID: "secret", JoinKey: "hunter2"}); err != nil {
		t.Fatalf("correct key rejected: %v", err)
	}
}

func TestLeaveMarksRoomEmptyAndSweepDeletes(t *testing.T) {
	d := newTestDirectory(100 * time.Millisecond)
	alice := testClient("alice")

	d.Join(alice, models.RoomSpec{ID: "content:1"})
	if err := d.Leave(alice, "content:1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// Inside the grace window the room survives
	if deleted := d.sweepEmpty(time.Now()); len(deleted) != 0 {
		t.Fatalf("room deleted before grace expired: %v", deleted)
	}
	if d.Info("content:1") == nil {
		t.Fatal("room gone before sweep")
	}

	// Past the window it is swept
	deleted := d.sweepEmpty(time.Now().Add(time.Second))
	if len(deleted) != 1 || deleted[0] != "content:1" {
		t.Fatalf("sweep = %v", deleted)
	}
	if d.Info("content:1") != nil {
		t.Fatal("room survived sweep")
	}
}

func TestRejoinWithinGraceCancelsCleanup(t *testing.T) {
	d := newTestDirectory(100 * time.Millisecond)
	alice := testClient("alice")

	d.Join(alice, models.RoomSpec{ID: "content:1"})
	d.Leave(alice, "content:1")
	d.Join(alice, models.RoomSpec{ID: "content:1"})

	if deleted := d.sweepEmpty(time.Now().Add(time.Second)); len(deleted) != 0 {
		t.Fatalf("occupied room swept: %v", deleted)
	}
}

func TestLeaveNonMember(t *testing.T) {
	d := newTestDirectory(time.Minute)
	d.Join(testClient("alice"), models.RoomSpec{ID: "content:1"})

	if err := d.Leave(testClient("bob"), "content:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := d.Leave(testClient("bob"), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLeaveAllReturnsAffectedRooms(t *testing.T) {
	d := newTestDirectory(time.Minute)
	alice := testClient("alice")

	d.Join(alice, models.RoomSpec{ID: "a"})
	d.Join(alice, models.RoomSpec{ID: "b"})

	left := d.LeaveAll(alice)
	if len(left) != 2 {
		t.Fatalf("LeaveAll = %v", left)
	}
	if d.IsMember("a", "alice") || d.IsMember("b", "alice") {
		t.Fatal("memberships survived LeaveAll")
	}
}

func TestUserRoomsAndList(t *testing.T) {
	d := newTestDirectory(time.Minute)
	alice := testClient("alice")
	bob := testClient("bob")

	d.Join(alice, models.RoomSpec{ID: "a"})
	d.Join(alice, models.RoomSpec{ID: "b"})
	d.Join(bob, models.RoomSpec{ID: "b"})

	rooms := d.UserRooms("alice")
	if len(rooms) != 2 || rooms[0].ID != "a" || rooms[1].ID != "b" {
		t.Fatalf("UserRooms = %+v", rooms)
	}
	if got := len(d.List()); got != 2 {
		t.Fatalf("List = %d rooms, want 2", got)
	}
}
