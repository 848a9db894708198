package bus_test

import (
	"testing"
	"time"

	"github.com/basket/crewctl/internal/bus"
)

func TestPublishDeliversToMatchingPrefix(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	b.Publish(bus.TopicTaskChanged, bus.TaskChangedEvent{TaskID: 1, Action: "task_claimed", Agent: "alice", NewStatus: "claimed"})

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.TaskChangedEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.TaskID != 1 || payload.Agent != "alice" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsNonMatchingPrefix(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("board.")
	defer b.Unsubscribe(sub)

	b.Publish(bus.TopicTaskChanged, nil)

	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(bus.TopicBoardRefresh, bus.BoardRefreshEvent{Latest: "2026-01-01 00:00:00"})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != bus.TopicBoardRefresh {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestSlowConsumerDoesNotBlockPublish(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(bus.TopicTaskChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}
