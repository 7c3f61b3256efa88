package realtime

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for realtime operations. Only ErrAuth and repeated
// validation failures from one connection are grounds for a forced close;
// everything else is a recoverable per-call failure.
var (
	ErrAuth             = errors.New("authentication failed")
	ErrPermission       = errors.New("permission denied")
	ErrCapacity         = errors.New("room at capacity")
	ErrValidation       = errors.New("invalid payload")
	ErrThrottled        = errors.New("rate limit exceeded")
	ErrConflict         = errors.New("document already locked")
	ErrNotFound         = errors.New("not found")
	ErrRecipientOffline = errors.New("recipient offline")
)

// ThrottledError carries the retry hint returned to throttled callers.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// ErrorCode maps an error to the stable code sent in error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth_failed"
	case errors.Is(err, ErrPermission):
		return "permission_denied"
	case errors.Is(err, ErrCapacity):
		return "room_full"
	case errors.Is(err, ErrThrottled):
		return "rate_limited"
	case errors.Is(err, ErrConflict):
		return "document_locked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRecipientOffline):
		return "recipient_offline"
	case errors.Is(err, ErrValidation):
		return "invalid_payload"
	}
	return "internal_error"
}
