// Package bus fans board mutations out to in-process consumers: the SSE
// heartbeat, the WebSocket notifier and anything else watching the board.
package bus

import (
	"strings"
	"sync"
)

// subscriberBuffer is each subscription's channel depth. Streaming handlers
// drain quickly; a consumer that falls this far behind loses events rather
// than stalling the writer.
const subscriberBuffer = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Board event topics.
const (
	TopicTaskChanged   = "task.changed"
	TopicMessageSent   = "message.sent"
	TopicAgentChanged  = "agent.changed"
	TopicBoardRefresh  = "board.refresh"
	TopicScheduleFired = "schedule.fired"
)

// TaskChangedEvent is published after a task mutation commits.
type TaskChangedEvent struct {
	TaskID    int64  // task id
	Action    string // e.g. "task_claimed"
	Agent     string // acting agent
	NewStatus string // status after the mutation
}

// BoardRefreshEvent tells streaming consumers to re-fetch full state.
type BoardRefreshEvent struct {
	Latest string // MAX(tasks.updated_at) that triggered the signal
	TS     int64  // unix seconds at publish time
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, subscriberBuffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers. Delivery is
// non-blocking: a subscriber with a full buffer misses the event.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
