package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/state"
)

// queueMock implements Queue for testing.
type queueMock struct {
	enqueueFn          func(ctx context.Context, req *core.EnqueueRequest) (*core.Job, error)
	infoFn             func(ctx context.Context, jobID string) (*core.Job, error)
	cancelFn           func(ctx context.Context, jobID string) (*core.Job, error)
	listJobsFn         func(ctx context.Context, filters state.JobListFilters, limit, offset int) ([]*core.Job, int, error)
	channelInfoFn      func(ctx context.Context, channelID string) (*core.ChannelInfo, error)
	setChannelPausedFn func(ctx context.Context, channelID string, paused bool) (*core.ChannelInfo, error)
	healthFn           func(ctx context.Context) (*core.HealthResponse, error)
}

func (m *queueMock) Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.Job, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, req)
	}
	return &core.Job{ID: "job-1", ChannelID: req.ChannelID, ActorID: req.ActorID, State: core.StateQueued}, nil
}
func (m *queueMock) Info(ctx context.Context, jobID string) (*core.Job, error) {
	if m.infoFn != nil {
		return m.infoFn(ctx, jobID)
	}
	return nil, core.NewNotFoundError("job", jobID)
}
func (m *queueMock) Cancel(ctx context.Context, jobID string) (*core.Job, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, jobID)
	}
	return nil, core.NewNotFoundError("job", jobID)
}
func (m *queueMock) ListJobs(ctx context.Context, filters state.JobListFilters, limit, offset int) ([]*core.Job, int, error) {
	if m.listJobsFn != nil {
		return m.listJobsFn(ctx, filters, limit, offset)
	}
	return nil, 0, nil
}
func (m *queueMock) ChannelInfo(ctx context.Context, channelID string) (*core.ChannelInfo, error) {
	if m.channelInfoFn != nil {
		return m.channelInfoFn(ctx, channelID)
	}
	return nil, core.NewNotFoundError("channel", channelID)
}
func (m *queueMock) SetChannelPaused(ctx context.Context, channelID string, paused bool) (*core.ChannelInfo, error) {
	if m.setChannelPausedFn != nil {
		return m.setChannelPausedFn(ctx, channelID, paused)
	}
	return nil, core.NewNotFoundError("channel", channelID)
}
func (m *queueMock) Health(ctx context.Context) (*core.HealthResponse, error) {
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return &core.HealthResponse{Status: "ok", Version: core.Version}, nil
}

// withURLParam installs a chi route context carrying one URL parameter.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestJobCreate_Created(t *testing.T) {
	queue := &queueMock{}
	h := NewJobHandler(queue)

	body, _ := json.Marshal(core.EnqueueRequest{
		ChannelID: "chan-1",
		ActorID:   "actor-1",
		Items:     []core.Item{{Author: "alice", Text: "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if loc := w.Header().Get("Location"); loc != "/v1/jobs/job-1" {
		t.Errorf("Location = %q, want %q", loc, "/v1/jobs/job-1")
	}

	var resp struct {
		Job *core.Job `json:"job"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job.ID != "job-1" || resp.Job.State != core.StateQueued {
		t.Errorf("job = %+v", resp.Job)
	}
}

func TestJobCreate_InvalidJSON(t *testing.T) {
	h := NewJobHandler(&queueMock{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestJobCreate_ValidationError(t *testing.T) {
	queue := &queueMock{
		enqueueFn: func(ctx context.Context, req *core.EnqueueRequest) (*core.Job, error) {
			return nil, core.NewValidationError("channel_id is required", nil)
		},
	}
	h := NewJobHandler(queue)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{}"))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Kind != core.ErrKindValidation {
		t.Errorf("error kind = %q, want %q", resp.Error.Kind, core.ErrKindValidation)
	}
}

func TestJobGet_NotFound(t *testing.T) {
	h := NewJobHandler(&queueMock{})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/nonexistent", nil), "id", "nonexistent")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobGet_Found(t *testing.T) {
	queue := &queueMock{
		infoFn: func(ctx context.Context, jobID string) (*core.Job, error) {
			return &core.Job{ID: jobID, ChannelID: "chan-1", State: core.StateCompleted,
				Result: &core.DigestResult{Summary: "a digest"}}, nil
		},
	}
	h := NewJobHandler(queue)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil), "id", "abc")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Job *core.Job `json:"job"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job.Result == nil || resp.Job.Result.Summary != "a digest" {
		t.Errorf("result = %+v", resp.Job.Result)
	}
}

func TestJobCancel_Conflict(t *testing.T) {
	queue := &queueMock{
		cancelFn: func(ctx context.Context, jobID string) (*core.Job, error) {
			return nil, core.NewConflictError("job is processing and cannot be cancelled", nil)
		},
	}
	h := NewJobHandler(queue)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/jobs/abc", nil), "id", "abc")
	w := httptest.NewRecorder()

	h.Cancel(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestJobCancel_OK(t *testing.T) {
	queue := &queueMock{
		cancelFn: func(ctx context.Context, jobID string) (*core.Job, error) {
			return &core.Job{ID: jobID, State: core.StateCancelled}, nil
		},
	}
	h := NewJobHandler(queue)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/v1/jobs/abc", nil), "id", "abc")
	w := httptest.NewRecorder()

	h.Cancel(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestJobList_FiltersAndPagination(t *testing.T) {
	var gotFilters state.JobListFilters
	var gotLimit, gotOffset int
	queue := &queueMock{
		listJobsFn: func(ctx context.Context, filters state.JobListFilters, limit, offset int) ([]*core.Job, int, error) {
			gotFilters, gotLimit, gotOffset = filters, limit, offset
			return []*core.Job{{ID: "job-1"}}, 7, nil
		},
	}
	h := NewJobHandler(queue)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?state=queued&channel_id=chan-1&limit=5&offset=2", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotFilters.State != core.StateQueued || gotFilters.ChannelID != "chan-1" {
		t.Errorf("filters = %+v", gotFilters)
	}
	if gotLimit != 5 || gotOffset != 2 {
		t.Errorf("limit/offset = %d/%d, want 5/2", gotLimit, gotOffset)
	}

	var resp struct {
		Jobs  []*core.Job `json:"jobs"`
		Total int         `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Total != 7 {
		t.Errorf("jobs=%d total=%d, want 1/7", len(resp.Jobs), resp.Total)
	}
}

func TestJobList_EmptyIsArrayNotNull(t *testing.T) {
	h := NewJobHandler(&queueMock{})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if !strings.Contains(w.Body.String(), `"jobs":[]`) {
		t.Errorf("body = %s, want empty jobs array", w.Body.String())
	}
}

func TestChannelStats_OK(t *testing.T) {
	queue := &queueMock{
		channelInfoFn: func(ctx context.Context, channelID string) (*core.ChannelInfo, error) {
			return &core.ChannelInfo{Name: channelID, Queued: 2, Processing: 1, Completed: 40}, nil
		},
	}
	h := NewChannelHandler(queue)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/channels/chan-1/stats", nil), "id", "chan-1")
	w := httptest.NewRecorder()

	h.Stats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Channel *core.ChannelInfo `json:"channel"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Channel.Queued != 2 || resp.Channel.Completed != 40 {
		t.Errorf("channel = %+v", resp.Channel)
	}
}

func TestChannelPause_SetsPaused(t *testing.T) {
	var gotPaused bool
	queue := &queueMock{
		setChannelPausedFn: func(ctx context.Context, channelID string, paused bool) (*core.ChannelInfo, error) {
			gotPaused = paused
			return &core.ChannelInfo{Name: channelID, Paused: paused}, nil
		},
	}
	h := NewChannelHandler(queue)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/v1/channels/chan-1/pause", nil), "id", "chan-1")
	w := httptest.NewRecorder()
	h.Pause(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !gotPaused {
		t.Error("expected paused=true")
	}

	req = withURLParam(httptest.NewRequest(http.MethodPost, "/v1/channels/chan-1/resume", nil), "id", "chan-1")
	w = httptest.NewRecorder()
	h.Resume(w, req)

	if gotPaused {
		t.Error("expected paused=false after resume")
	}
}

func TestHealth_DegradedIs503(t *testing.T) {
	queue := &queueMock{
		healthFn: func(ctx context.Context) (*core.HealthResponse, error) {
			return &core.HealthResponse{Status: "degraded"}, nil
		},
	}
	h := NewSystemHandler(queue)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_OK(t *testing.T) {
	h := NewSystemHandler(&queueMock{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
