package realtime

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestGuard() *Guard {
	return NewGuard(GuardConfig{
		MaxPayload:      64,
		MessageBurst:    3,
		MessageInterval: time.Minute,
		ConnectBurst:    2,
		ConnectInterval: time.Minute,
	}, zerolog.Nop())
}

func TestMessageRateLimit(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 3; i++ {
		if err := g.AllowMessage("alice", "room-1"); err != nil {
			t.Fatalf("message %d rejected: %v", i, err)
		}
	}

	err := g.AllowMessage("alice", "room-1")
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("want ThrottledError, got %v", err)
	}
	if throttled.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want positive hint", throttled.RetryAfter)
	}
	if !errors.Is(err, ErrThrottled) {
		t.Fatal("ThrottledError must unwrap to ErrThrottled")
	}
}

func TestRateLimitScopedPerRoomAndUser(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 3; i++ {
		g.AllowMessage("alice", "room-1")
	}
	// Same user, different room: fresh bucket
	if err := g.AllowMessage("alice", "room-2"); err != nil {
		t.Fatalf("other room throttled: %v", err)
	}
	// Different user, same room: fresh bucket
	if err := g.AllowMessage("bob", "room-1"); err != nil {
		t.Fatalf("other user throttled: %v", err)
	}
}

func TestConnectRateLimitPerAddress(t *testing.T) {
	g := newTestGuard()

	for i := 0; i < 2; i++ {
		if err := g.AllowConnect("10.0.0.1:4321"); err != nil {
			t.Fatalf("connect %d rejected: %v", i, err)
		}
	}
	// Port changes, same host: same bucket
	if err := g.AllowConnect("10.0.0.1:9999"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("want ErrThrottled, got %v", err)
	}
	// Different host is unaffected
	if err := g.AllowConnect("10.0.0.2:4321"); err != nil {
		t.Fatalf("other host throttled: %v", err)
	}
}

func TestBucketRefills(t *testing.T) {
	b := newBucket(2, time.Second)
	now := time.Now()

	b.take(now)
	b.take(now)
	if ok, _ := b.take(now); ok {
		t.Fatal("empty bucket granted a token")
	}
	// A full interval restores the burst
	if ok, _ := b.take(now.Add(time.Second)); !ok {
		t.Fatal("bucket did not refill")
	}
}

func TestCheckSize(t *testing.T) {
	g := newTestGuard()

	if err := g.CheckSize(64); err != nil {
		t.Fatalf("payload at limit rejected: %v", err)
	}
	if err := g.CheckSize(65); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestSanitizeStripsExecutableMarkup(t *testing.T) {
	g := newTestGuard()

	cases := map[string]string{
		"hello <script>alert(1)</script> world": "hello  world",
		`<a href="javascript:evil()">x</a>`:     `<a href="evil()">x</a>`,
		`<img src=x onerror="evil()">`:          `<img src=x>`,
		"<iframe src='x'></iframe>ok":           "ok",
		"plain text stays":                      "plain text stays",
		"tabs\tand\nnewlines stay":              "tabs\tand\nnewlines stay",
		"control\x00chars\x1bgo":                "controlcharsgo",
	}
	for in, want := range cases {
		if got := g.Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeIsDeterministic(t *testing.T) {
	g := newTestGuard()
	in := "<script>x</script> hi <IFRAME>there</IFRAME>"

	first := g.Sanitize(in)
	for i := 0; i < 5; i++ {
		if got := g.Sanitize(in); got != first {
			t.Fatalf("non-deterministic: %q vs %q", got, first)
		}
	}
	if strings.Contains(strings.ToLower(first), "script") {
		t.Fatalf("script markup survived: %q", first)
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	g := newTestGuard()

	g.AllowMessage("alice", "room-1")
	g.AllowMessage("bob", "room-1")

	if removed := g.sweep(time.Hour); removed != 0 {
		t.Fatalf("fresh buckets swept: %d", removed)
	}
	if removed := g.sweep(-time.Hour); removed != 2 {
		t.Fatalf("sweep removed %d buckets, want 2", removed)
	}
}
