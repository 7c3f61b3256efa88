package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/eldtechnologies/pulse/internal/models"
)

func TestBroadcastSanitizesContent(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	msg, err := h.broker.Broadcast(alice, "r", "chat", "hi <script>evil()</script>")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if strings.Contains(msg.Content, "script") {
		t.Fatalf("content not sanitized: %q", msg.Content)
	}
	if msg.SenderID != "alice" || msg.SenderName != "Alice" {
		t.Fatalf("sender not stamped from identity: %+v", msg)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Fatalf("missing id or timestamp: %+v", msg)
	}
}

func TestBroadcastRejectsEmptyAndOversized(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	if _, err := h.broker.Broadcast(alice, "r", "chat", "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank content: want ErrValidation, got %v", err)
	}
	big := strings.Repeat("x", 9*1024)
	if _, err := h.broker.Broadcast(alice, "r", "chat", big); !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized content: want ErrValidation, got %v", err)
	}
}

func TestBroadcastThrottlesBeforeDelivery(t *testing.T) {
	h := newTestHub()
	h.guard.msgBurst = 2
	alice := connect(t, h, "tok-alice")
	bob := connect(t, h, "tok-bob")
	joinRoom(t, h, alice, "r")
	joinRoom(t, h, bob, "r")
	drainEvents(bob)

	h.broker.Broadcast(alice, "r", "chat", "one")
	h.broker.Broadcast(alice, "r", "chat", "two")
	_, err := h.broker.Broadcast(alice, "r", "chat", "three")
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("want ErrThrottled, got %v", err)
	}

	// The throttled message was never delivered to anyone
	if got := countEvents(t, bob, EventMessage); got != 2 {
		t.Fatalf("bob received %d messages, want 2", got)
	}
}

func TestMemoryHistoryNewestFirst(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		msg, err := h.broker.Broadcast(alice, "r", "chat", text)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
	}

	msgs, err := h.broker.History(context.Background(), "r", 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history = %d messages, want 3", len(msgs))
	}
	if msgs[0].ID != ids[2] || msgs[2].ID != ids[0] {
		t.Fatalf("history not newest-first: %v", msgs)
	}
}

func TestHistoryBeforeCursorIsExclusive(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	var stamps []int64
	for _, text := range []string{"a", "b", "c"} {
		msg, _ := h.broker.Broadcast(alice, "r", "chat", text)
		stamps = append(stamps, msg.Timestamp)
	}

	msgs, err := h.broker.History(context.Background(), "r", 10, stamps[2])
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if m.Timestamp >= stamps[2] {
			t.Fatalf("message at %d returned for before=%d", m.Timestamp, stamps[2])
		}
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	h := newTestHub() // HistoryCacheSize 10
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	for i := 0; i < 25; i++ {
		if _, err := h.broker.Broadcast(alice, "r", "chat", "m"); err != nil {
			t.Fatal(err)
		}
	}

	msgs, _ := h.broker.History(context.Background(), "r", 100, 0)
	if len(msgs) != 10 {
		t.Fatalf("ring holds %d messages, want 10", len(msgs))
	}
}

func TestTrimHistoryAndDropRoom(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")

	for i := 0; i < 8; i++ {
		h.broker.Broadcast(alice, "r", "chat", "m")
	}

	if trimmed := h.broker.TrimHistory(3); trimmed != 5 {
		t.Fatalf("trimmed %d, want 5", trimmed)
	}

	h.broker.DropRoom("r")
	if msgs, _ := h.broker.History(context.Background(), "r", 10, 0); len(msgs) != 0 {
		t.Fatalf("history survived DropRoom: %v", msgs)
	}
}

func TestDefaultMessageType(t *testing.T) {
	h := newTestHub()
	alice := connect(t, h, "tok-alice")
	joinRoom(t, h, alice, "r")
	drainEvents(alice)

	if _, err := h.broker.Broadcast(alice, "r", "", "hello"); err != nil {
		t.Fatal(err)
	}

	data := recvEvent(t, alice, EventMessage)
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "chat" {
		t.Fatalf("type = %q, want chat", msg.Type)
	}
}
