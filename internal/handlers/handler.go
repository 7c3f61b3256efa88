package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/realtime"
	"github.com/eldtechnologies/pulse/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub    *realtime.Hub
	store  store.Store       // nilable
	cache  *store.RedisCache // nilable
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(hub *realtime.Hub, st store.Store, cache *store.RedisCache, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, store: st, cache: cache, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a realtime error to an HTTP response.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, realtime.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, realtime.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, realtime.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, realtime.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, realtime.ErrCapacity), errors.Is(err, realtime.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, realtime.ErrThrottled):
		status = http.StatusTooManyRequests
	}
	h.Error(w, status, err.Error())
}
