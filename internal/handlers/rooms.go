package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/pulse/internal/models"
	"github.com/eldtechnologies/pulse/internal/realtime"
)

// RoomSummary is the list-view projection of a live room.
type RoomSummary struct {
	ID               string          `json:"id"`
	Type             models.RoomType `json:"type"`
	TargetID         string          `json:"target_id,omitempty"`
	ParticipantCount int             `json:"participant_count"`
	IsPrivate        bool            `json:"is_private,omitempty"`
	LastActivityAt   string          `json:"last_activity_at"`
}

// ListRooms returns all live rooms with participant counts.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	infos := h.hub.Rooms().List()

	summaries := make([]RoomSummary, 0, len(infos))
	for _, info := range infos {
		summaries = append(summaries, RoomSummary{
			ID:               info.ID,
			Type:             info.Type,
			TargetID:         info.TargetID,
			ParticipantCount: len(info.Participants),
			IsPrivate:        info.IsPrivate,
			LastActivityAt:   info.LastActivityAt.UTC().Format(time.RFC3339),
		})
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"rooms": summaries,
		"count": len(summaries),
	})
}

// MessagesResponse is the paginated history response.
type MessagesResponse struct {
	RoomID   string           `json:"room_id"`
	Messages []models.Message `json:"messages"` // newest first
	Count    int              `json:"count"`
	HasMore  bool             `json:"has_more"`
}

// GetRoomMessages returns recent messages for a room, newest first.
// Query params: limit (default 50, max 200), before (exclusive Unix ms).
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	var before int64
	if s := r.URL.Query().Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "before must be a unix millisecond timestamp")
			return
		}
		before = n
	}

	// Fetch one extra to learn whether another page exists
	msgs, err := h.hub.Broker().History(r.Context(), roomID, limit+1, before)
	if err != nil {
		h.Fail(w, fmt.Errorf("history read failed: %w", err))
		return
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	h.JSON(w, http.StatusOK, MessagesResponse{
		RoomID:   roomID,
		Messages: msgs,
		Count:    len(msgs),
		HasMore:  hasMore,
	})
}

// ListConnections returns live connections, optionally filtered by user or
// room. Operational visibility only; no message content is exposed.
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	infos := h.hub.ListConnections(realtime.ConnectionFilter{
		UserID: r.URL.Query().Get("user"),
		RoomID: r.URL.Query().Get("room"),
	})
	if infos == nil {
		infos = []realtime.ConnectionInfo{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"connections": infos,
		"count":       len(infos),
	})
}
