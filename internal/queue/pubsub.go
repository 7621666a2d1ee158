package queue

import (
	"log/slog"
	"sync"

	"github.com/groupmind/digestd/internal/core"
)

// Subscriber feed buffers. A job or channel stream losing a state-change
// event costs a stale SSE frame; the terminal feed losing an event costs
// the user their digest notification, so it gets the deep buffer and the
// loud failure.
const (
	streamFeedBuffer   = 64
	terminalFeedBuffer = 256
)

// subscription is one subscriber feed with its filter.
type subscription struct {
	ch     chan *core.JobEvent
	filter func(*core.JobEvent) bool
}

// PubSubBroker implements core.EventPublisher and core.EventSubscriber
// using in-memory fan-out. SSE streams hang off the job and channel
// feeds; the delivery loop consumes the terminal feed.
type PubSubBroker struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
	done chan struct{}
}

// NewPubSubBroker creates a new in-memory PubSubBroker.
func NewPubSubBroker() *PubSubBroker {
	return &PubSubBroker{
		subs: make(map[*subscription]struct{}),
		done: make(chan struct{}),
	}
}

// PublishJobEvent publishes a job event to all matching subscribers.
func (b *PubSubBroker) PublishJobEvent(event *core.JobEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.filter == nil || sub.filter(event) {
			select {
			case sub.ch <- event:
			default:
				if event.EventType == core.EventJobTerminal {
					slog.Error("dropping terminal event, subscriber channel full",
						"job_id", event.JobID, "channel_id", event.ChannelID)
				} else {
					slog.Warn("dropping event, subscriber channel full",
						"job_id", event.JobID, "event", event.EventType)
				}
			}
		}
	}
	return nil
}

// SubscribeJob subscribes to events for a specific job.
func (b *PubSubBroker) SubscribeJob(jobID string) (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(func(e *core.JobEvent) bool {
		return e.JobID == jobID
	}, streamFeedBuffer)
}

// SubscribeChannel subscribes to events for all jobs of one channel.
func (b *PubSubBroker) SubscribeChannel(channelID string) (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(func(e *core.JobEvent) bool {
		return e.ChannelID == channelID
	}, streamFeedBuffer)
}

// SubscribeTerminal subscribes to terminal job events across all channels,
// the feed the delivery collaborator is notified from.
func (b *PubSubBroker) SubscribeTerminal() (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(func(e *core.JobEvent) bool {
		return e.EventType == core.EventJobTerminal
	}, terminalFeedBuffer)
}

// SubscribeAll subscribes to all events.
func (b *PubSubBroker) SubscribeAll() (<-chan *core.JobEvent, func(), error) {
	return b.subscribe(nil, streamFeedBuffer)
}

func (b *PubSubBroker) subscribe(filter func(*core.JobEvent) bool, buffer int) (<-chan *core.JobEvent, func(), error) {
	ch := make(chan *core.JobEvent, buffer)
	sub := &subscription{ch: ch, filter: filter}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(ch)
	}

	return ch, unsubscribe, nil
}

// Close shuts down the broker and removes all subscriptions.
func (b *PubSubBroker) Close() error {
	close(b.done)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscription]struct{})
	return nil
}
