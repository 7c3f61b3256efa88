package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/eldtechnologies/pulse/internal/models"
)

func TestDeliverToConnectedUser(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")

	state, err := h.bridge.Deliver(models.Notification{UserID: "alice", Kind: "mention", Title: "hi"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if state != models.NotificationDelivered {
		t.Fatalf("state = %q, want delivered", state)
	}

	data := recvEvent(t, alice, EventNotification)
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatal(err)
	}
	if n.Kind != "mention" || n.ID == "" || n.CreatedAt == 0 {
		t.Fatalf("notification not stamped: %+v", n)
	}
}

func TestDeliverQueuesForOfflineUser(t *testing.T) {
	h := newTestHub()

	state, err := h.bridge.Deliver(models.Notification{UserID: "alice", Kind: "mention"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if state != models.NotificationQueued {
		t.Fatalf("state = %q, want queued", state)
	}
	if got := h.bridge.QueueLen("alice"); got != 1 {
		t.Fatalf("QueueLen = %d, want 1", got)
	}
}

func TestQueueDrainedOnConnectInOrder(t *testing.T) {
	h := newTestHub()

	for i := 0; i < 3; i++ {
		h.bridge.Deliver(models.Notification{UserID: "alice", Kind: fmt.Sprintf("k%d", i)})
	}

	alice := connect(t, h, "tok-alice")

	for i := 0; i < 3; i++ {
		data := recvEvent(t, alice, EventNotification)
		var n models.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("k%d", i); n.Kind != want {
			t.Fatalf("position %d: kind = %q, want %q", i, n.Kind, want)
		}
	}
	if got := h.bridge.QueueLen("alice"); got != 0 {
		t.Fatalf("queue not cleared after drain: %d", got)
	}
}

func TestQueueDropsOldestAtCapacity(t *testing.T) {
	h := newTestHub() // OfflineQueueLimit 3

	for i := 0; i < 5; i++ {
		h.bridge.Deliver(models.Notification{UserID: "alice", Kind: fmt.Sprintf("k%d", i)})
	}
	if got := h.bridge.QueueLen("alice"); got != 3 {
		t.Fatalf("QueueLen = %d, want 3", got)
	}

	alice := connect(t, h, "tok-alice")

	// Oldest two were dropped; the survivors arrive in order
	for _, want := range []string{"k2", "k3", "k4"} {
		data := recvEvent(t, alice, EventNotification)
		var n models.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatal(err)
		}
		if n.Kind != want {
			t.Fatalf("kind = %q, want %q", n.Kind, want)
		}
	}
}

func TestDeliverRequiresUserID(t *testing.T) {
	h := newTestHub()
	if _, err := h.bridge.Deliver(models.Notification{Kind: "mention"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}
