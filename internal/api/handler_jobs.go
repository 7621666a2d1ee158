package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/state"
)

// Maximum accepted request body, matching the queue's payload ceiling plus
// envelope headroom.
const maxRequestBody = 1 << 20

// Queue is the backend surface the HTTP layer drives.
type Queue interface {
	Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.Job, error)
	Info(ctx context.Context, jobID string) (*core.Job, error)
	Cancel(ctx context.Context, jobID string) (*core.Job, error)
	ListJobs(ctx context.Context, filters state.JobListFilters, limit, offset int) ([]*core.Job, int, error)
	ChannelInfo(ctx context.Context, channelID string) (*core.ChannelInfo, error)
	SetChannelPaused(ctx context.Context, channelID string, paused bool) (*core.ChannelInfo, error)
	Health(ctx context.Context) (*core.HealthResponse, error)
}

// JobHandler handles job-related HTTP endpoints.
type JobHandler struct {
	queue Queue
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(queue Queue) *JobHandler {
	return &JobHandler{queue: queue}
}

// Create handles POST /v1/jobs
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, &core.PipelineError{
			Kind:    core.ErrKindInvalidRequest,
			Message: "Failed to read request body.",
		})
		return
	}

	var req core.EnqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, &core.PipelineError{
			Kind:    core.ErrKindInvalidRequest,
			Message: "Invalid JSON in request body.",
		})
		return
	}

	job, err := h.queue.Enqueue(r.Context(), &req)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"job": job})
}

// Get handles GET /v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// Cancel handles DELETE /v1/jobs/{id}. Only queued jobs are cancellable;
// the queue reports anything else as a conflict.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// List handles GET /v1/jobs with optional state, channel_id and actor_id
// filters plus limit/offset pagination.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := state.JobListFilters{
		State:     q.Get("state"),
		ChannelID: q.Get("channel_id"),
		ActorID:   q.Get("actor_id"),
	}
	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	jobs, total, err := h.queue.ListJobs(r.Context(), filters, limit, offset)
	if err != nil {
		HandleError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
