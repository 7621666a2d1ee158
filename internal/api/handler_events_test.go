package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

type subscriberMock struct {
	ch chan *core.JobEvent
}

func (m *subscriberMock) SubscribeJob(jobID string) (<-chan *core.JobEvent, func(), error) {
	return m.ch, func() {}, nil
}
func (m *subscriberMock) SubscribeChannel(channelID string) (<-chan *core.JobEvent, func(), error) {
	return m.ch, func() {}, nil
}
func (m *subscriberMock) SubscribeTerminal() (<-chan *core.JobEvent, func(), error) {
	return m.ch, func() {}, nil
}
func (m *subscriberMock) SubscribeAll() (<-chan *core.JobEvent, func(), error) {
	return m.ch, func() {}, nil
}

func TestStreamJob_TerminalJobGetsSnapshotEvent(t *testing.T) {
	queue := &queueMock{
		infoFn: func(ctx context.Context, jobID string) (*core.Job, error) {
			return &core.Job{ID: jobID, ChannelID: "chan-1", State: core.StateCompleted,
				Result: &core.DigestResult{Summary: "done"}}, nil
		},
	}
	h := NewEventsHandler(queue, &subscriberMock{ch: make(chan *core.JobEvent)})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/events", nil), "id", "job-1")
	w := httptest.NewRecorder()

	h.StreamJob(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: "+core.EventJobTerminal) {
		t.Errorf("body = %q, want terminal event", body)
	}
	if !strings.Contains(body, `"summary":"done"`) {
		t.Errorf("body = %q, want result payload", body)
	}
}

func TestStreamJob_ClosesAfterTerminalEvent(t *testing.T) {
	queue := &queueMock{
		infoFn: func(ctx context.Context, jobID string) (*core.Job, error) {
			return &core.Job{ID: jobID, State: core.StateProcessing}, nil
		},
	}
	events := &subscriberMock{ch: make(chan *core.JobEvent, 2)}
	events.ch <- &core.JobEvent{EventType: core.EventJobStateChanged, JobID: "job-1",
		From: core.StateQueued, To: core.StateProcessing}
	events.ch <- &core.JobEvent{EventType: core.EventJobTerminal, JobID: "job-1",
		To: core.StateCompleted}

	h := NewEventsHandler(queue, events)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/events", nil), "id", "job-1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.StreamJob(w, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal event")
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: "+core.EventJobStateChanged) {
		t.Errorf("body = %q, want state change event", body)
	}
	if !strings.Contains(body, "event: "+core.EventJobTerminal) {
		t.Errorf("body = %q, want terminal event", body)
	}
}

func TestStreamJob_UnknownJobIs404(t *testing.T) {
	h := NewEventsHandler(&queueMock{}, &subscriberMock{ch: make(chan *core.JobEvent)})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/nope/events", nil), "id", "nope")
	w := httptest.NewRecorder()

	h.StreamJob(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
