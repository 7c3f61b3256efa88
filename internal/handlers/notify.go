package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/pulse/internal/models"
)

// PostNotification accepts an externally originated notification and
// routes it through the bridge: immediate delivery when the user is
// connected, bounded offline queue otherwise. Intended for trusted
// backend services, not end users; deploy behind a private network.
func (h *Handler) PostNotification(w http.ResponseWriter, r *http.Request) {
	var n models.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		h.Error(w, http.StatusBadRequest, "malformed notification")
		return
	}

	state, err := h.hub.Bridge().Deliver(n)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusAccepted, map[string]string{
		"user_id": n.UserID,
		"state":   state,
	})
}
