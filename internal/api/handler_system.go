package api

import (
	"net/http"
)

// SystemHandler handles system-level HTTP endpoints.
type SystemHandler struct {
	queue Queue
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(queue Queue) *SystemHandler {
	return &SystemHandler{queue: queue}
}

// Health handles GET /v1/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp, err := h.queue.Health(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}
