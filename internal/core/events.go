package core

import "time"

// Event types published on the delivery broker.
const (
	EventJobStateChanged = "job.state_changed"
	EventJobTerminal     = "job.terminal"
)

// JobEvent is a real-time notification about a job. Terminal events carry
// the result (or error kind) the delivery collaborator presents to the user.
type JobEvent struct {
	EventType string        `json:"event"`
	JobID     string        `json:"job_id"`
	ChannelID string        `json:"channel_id"`
	ActorID   string        `json:"actor_id"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Result    *DigestResult `json:"result,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// NewStateChangedEvent creates a job.state_changed event.
func NewStateChangedEvent(job *Job, from, to string) *JobEvent {
	ev := &JobEvent{
		EventType: EventJobStateChanged,
		JobID:     job.ID,
		ChannelID: job.ChannelID,
		ActorID:   job.ActorID,
		From:      from,
		To:        to,
		Timestamp: FormatTime(time.Now()),
	}
	if IsTerminalState(to) {
		ev.EventType = EventJobTerminal
		ev.Result = job.Result
		ev.ErrorKind = job.LastErrorKind
	}
	return ev
}

// EventPublisher publishes job events to interested subscribers.
type EventPublisher interface {
	PublishJobEvent(event *JobEvent) error
	Close() error
}

// EventSubscriber subscribes to job events.
type EventSubscriber interface {
	// SubscribeJob subscribes to events for a specific job.
	SubscribeJob(jobID string) (<-chan *JobEvent, func(), error)
	// SubscribeChannel subscribes to events for all jobs in a channel.
	SubscribeChannel(channelID string) (<-chan *JobEvent, func(), error)
	// SubscribeTerminal subscribes to terminal job events only.
	SubscribeTerminal() (<-chan *JobEvent, func(), error)
	// SubscribeAll subscribes to all events.
	SubscribeAll() (<-chan *JobEvent, func(), error)
}
