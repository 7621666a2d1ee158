package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groupmind/digestd/internal/core"
)

// EventsHandler streams job events as Server-Sent Events.
type EventsHandler struct {
	queue  Queue
	events core.EventSubscriber
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(queue Queue, events core.EventSubscriber) *EventsHandler {
	return &EventsHandler{queue: queue, events: events}
}

// StreamJob handles GET /v1/jobs/{id}/events. The stream closes after the
// terminal event; a job already terminal gets a single synthetic terminal
// event so late subscribers still see the outcome.
func (h *EventsHandler) StreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, core.NewInternalError("streaming unsupported"))
		return
	}

	job, err := h.queue.Info(r.Context(), jobID)
	if err != nil {
		HandleError(w, err)
		return
	}

	// Subscribe before the terminal check so no event can slip between them.
	ch, unsubscribe, err := h.events.SubscribeJob(jobID)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if core.IsTerminalState(job.State) {
		ev := &core.JobEvent{
			EventType: core.EventJobTerminal,
			JobID:     job.ID,
			ChannelID: job.ChannelID,
			ActorID:   job.ActorID,
			To:        job.State,
			Result:    job.Result,
			ErrorKind: job.LastErrorKind,
			Timestamp: core.NowFormatted(),
		}
		writeSSE(w, ev)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.EventType == core.EventJobTerminal {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev *core.JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
}
