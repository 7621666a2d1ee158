package queue

import (
	"testing"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

func TestPubSubBroker_ChannelFilter(t *testing.T) {
	broker := NewPubSubBroker()
	defer broker.Close()

	chanEvents, unsubChan, err := broker.SubscribeChannel("chan-1")
	if err != nil {
		t.Fatal(err)
	}
	defer unsubChan()

	allEvents, unsubAll, err := broker.SubscribeAll()
	if err != nil {
		t.Fatal(err)
	}
	defer unsubAll()

	broker.PublishJobEvent(&core.JobEvent{JobID: "a", ChannelID: "chan-1"})
	broker.PublishJobEvent(&core.JobEvent{JobID: "b", ChannelID: "chan-2"})

	select {
	case ev := <-chanEvents:
		if ev.JobID != "a" {
			t.Errorf("channel subscriber got %q, want a", ev.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("channel subscriber got nothing")
	}
	select {
	case ev := <-chanEvents:
		t.Errorf("channel subscriber got unexpected event %q", ev.JobID)
	default:
	}

	for _, want := range []string{"a", "b"} {
		select {
		case ev := <-allEvents:
			if ev.JobID != want {
				t.Errorf("all subscriber got %q, want %q", ev.JobID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("all subscriber missing event %q", want)
		}
	}
}

func TestPubSubBroker_TerminalFeedFiltersStateChanges(t *testing.T) {
	broker := NewPubSubBroker()
	defer broker.Close()

	terminal, unsubscribe, err := broker.SubscribeTerminal()
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	broker.PublishJobEvent(&core.JobEvent{
		EventType: core.EventJobStateChanged, JobID: "job-1", ChannelID: "chan-1",
	})
	broker.PublishJobEvent(&core.JobEvent{
		EventType: core.EventJobTerminal, JobID: "job-1", ChannelID: "chan-1", To: core.StateCompleted,
	})
	broker.PublishJobEvent(&core.JobEvent{
		EventType: core.EventJobTerminal, JobID: "job-2", ChannelID: "chan-2", To: core.StateExhausted,
	})

	for _, want := range []string{"job-1", "job-2"} {
		select {
		case ev := <-terminal:
			if ev.JobID != want || ev.EventType != core.EventJobTerminal {
				t.Errorf("terminal feed got %s %q, want %q", ev.EventType, ev.JobID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("terminal feed missing event for %q", want)
		}
	}
	select {
	case ev := <-terminal:
		t.Errorf("terminal feed got unexpected event %s %q", ev.EventType, ev.JobID)
	default:
	}
}

func TestPubSubBroker_UnsubscribeStopsDelivery(t *testing.T) {
	broker := NewPubSubBroker()
	defer broker.Close()

	events, unsubscribe, err := broker.SubscribeJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	unsubscribe()

	broker.PublishJobEvent(&core.JobEvent{JobID: "job-1"})

	if _, ok := <-events; ok {
		t.Error("expected closed channel after unsubscribe")
	}
}
