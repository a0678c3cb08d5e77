package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names an event stream
type Topic string

const (
	TopicIndexRecord     Topic = "search.index_record"
	TopicDeleteRecord    Topic = "search.delete_record"
	TopicVectorizeOne    Topic = "query_index.vectorize_one"
	TopicVectorizePurge  Topic = "query_index.vectorize_purge"
	TopicCoverageRefresh Topic = "query_index.coverage.refresh"
)

// Event is one published notification. Payload keys are event-specific;
// consumers ignore keys they do not know.
type Event struct {
	ID        string
	Topic     Topic
	Timestamp time.Time
	Payload   map[string]any
}

// subscription is one registered topic listener
type subscription struct {
	topics map[Topic]bool
	ch     chan *Event
}

// Bus distributes events to topic subscribers. Delivery is best-effort
// and non-persistent: a subscriber with a full buffer misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscription]bool
	eventCh chan *Event
	stopCh  chan struct{}
	stopped sync.Once
}

// NewBus creates a bus; call Start before publishing
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[*subscription]bool),
		eventCh: make(chan *Event, 100),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the distribution loop
func (b *Bus) Start() {
	go b.run()
}

// Stop stops distribution and closes subscriber channels
func (b *Bus) Stop() {
	b.stopped.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subs {
			close(sub.ch)
		}
		b.subs = make(map[*subscription]bool)
	})
}

// Subscribe returns a channel receiving events on the given topics.
// No topics means every topic.
func (b *Bus) Subscribe(topics ...Topic) <-chan *Event {
	sub := &subscription{
		topics: make(map[Topic]bool, len(topics)),
		ch:     make(chan *Event, 50),
	}
	for _, topic := range topics {
		sub.topics[topic] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = true
	return sub.ch
}

// Publish sends an event to all matching subscribers
func (b *Bus) Publish(topic Topic, payload map[string]any) {
	event := &Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[event.Topic] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// String helpers for payload access

// PayloadString returns the string value at key, or ""
func (e *Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
