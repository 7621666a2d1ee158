package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ChannelHandler handles channel metadata endpoints.
type ChannelHandler struct {
	queue Queue
}

// NewChannelHandler creates a new ChannelHandler.
func NewChannelHandler(queue Queue) *ChannelHandler {
	return &ChannelHandler{queue: queue}
}

// Stats handles GET /v1/channels/{id}/stats
func (h *ChannelHandler) Stats(w http.ResponseWriter, r *http.Request) {
	info, err := h.queue.ChannelInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"channel": info})
}

// Pause handles POST /v1/channels/{id}/pause
func (h *ChannelHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume handles POST /v1/channels/{id}/resume
func (h *ChannelHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *ChannelHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	info, err := h.queue.SetChannelPaused(r.Context(), chi.URLParam(r, "id"), paused)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"channel": info})
}
