package realtime

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/metrics"
)

// Guard enforces the abuse controls applied before any broadcast or
// persistence call: token-bucket rate limits per (user, room) and per
// remote address, payload size limits, and content sanitization.
// Buckets are purely in-memory and reset on process restart.
type Guard struct {
	logger zerolog.Logger

	maxPayload int64

	msgBurst     int
	msgInterval  time.Duration
	connBurst    int
	connInterval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is a token bucket. lastCheck doubles as the last-seen timestamp
// used by the housekeeper to drop idle buckets.
type bucket struct {
	tokens    float64
	capacity  float64
	rate      float64 // tokens per second
	lastCheck time.Time
}

func newBucket(capacity int, interval time.Duration) *bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	rate := float64(capacity) / interval.Seconds()
	return &bucket{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

// take consumes one token, returning the wait until a token is available
// when the bucket is empty.
func (b *bucket) take(now time.Time) (bool, time.Duration) {
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.lastCheck = now

	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		return false, wait
	}

	b.tokens--
	return true, 0
}

// GuardConfig carries the Guard's tunables.
type GuardConfig struct {
	MaxPayload      int64
	MessageBurst    int
	MessageInterval time.Duration
	ConnectBurst    int
	ConnectInterval time.Duration
}

// NewGuard creates a guard with the given limits.
func NewGuard(cfg GuardConfig, logger zerolog.Logger) *Guard {
	return &Guard{
		logger:       logger.With().Str("component", "guard").Logger(),
		maxPayload:   cfg.MaxPayload,
		msgBurst:     cfg.MessageBurst,
		msgInterval:  cfg.MessageInterval,
		connBurst:    cfg.ConnectBurst,
		connInterval: cfg.ConnectInterval,
		buckets:      make(map[string]*bucket),
	}
}

// AllowMessage consumes one message token for (userID, scope). scope is
// the room ID for room messages or a synthetic key for other send paths.
func (g *Guard) AllowMessage(userID, scope string) error {
	return g.consume("msg:"+userID+":"+scope, g.msgBurst, g.msgInterval, "message", userID)
}

// AllowConnect consumes one connection token for the remote address.
// Exhaustion rejects the connection attempt outright.
func (g *Guard) AllowConnect(remoteAddr string) error {
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	return g.consume("conn:"+ip, g.connBurst, g.connInterval, "connect", ip)
}

func (g *Guard) consume(key string, burst int, interval time.Duration, scope, who string) error {
	g.mu.Lock()
	b, ok := g.buckets[key]
	if !ok {
		b = newBucket(burst, interval)
		g.buckets[key] = b
	}
	allowed, wait := b.take(time.Now())
	g.mu.Unlock()

	if !allowed {
		metrics.RateLimitHits.WithLabelValues(scope).Inc()
		g.logger.Warn().
			Str("scope", scope).
			Str("key", who).
			Dur("retry_after", wait).
			Msg("rate limit exceeded")
		return &ThrottledError{RetryAfter: wait}
	}
	return nil
}

// CheckSize rejects payloads above the configured limit.
func (g *Guard) CheckSize(n int) error {
	if g.maxPayload > 0 && int64(n) > g.maxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrValidation, n, g.maxPayload)
	}
	return nil
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	scriptTagRe   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	embedTagRe    = regexp.MustCompile(`(?i)</?(iframe|object|embed|form)\b[^>]*>`)
	eventAttrRe   = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
	jsSchemeRe    = regexp.MustCompile(`(?i)\b(?:javascript|vbscript):`)
)

// Sanitize strips executable markup and event-handler attributes from rich
// content while preserving plain text. Deterministic; identity fields are
// never part of the input (sender identity always comes from the
// authenticated connection).
func (g *Guard) Sanitize(content string) string {
	content = scriptBlockRe.ReplaceAllString(content, "")
	content = scriptTagRe.ReplaceAllString(content, "")
	content = embedTagRe.ReplaceAllString(content, "")
	content = eventAttrRe.ReplaceAllString(content, "")
	content = jsSchemeRe.ReplaceAllString(content, "")

	// Remove control characters except tab and newline
	content = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, content)

	return content
}

// sweep drops buckets idle for longer than idleFor and returns the count.
func (g *Guard) sweep(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, b := range g.buckets {
		if b.lastCheck.Before(cutoff) {
			delete(g.buckets, key)
			removed++
		}
	}
	return removed
}
