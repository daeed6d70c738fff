// Package events provides the in-memory notification bus that carries task,
// approval and agent lifecycle events to subscribers (WebSocket clients, the
// event log).
package events

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusClosed = errors.New("event bus is closed")
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCreated       EventType = "task.created"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventTaskNeedsReview   EventType = "task.needs_review"
	EventTaskWaiting       EventType = "task.waiting"
	EventTaskInputReceived EventType = "task.input_received"
	EventTaskRequeued      EventType = "task.requeued"

	// Approvals
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"

	// Permission administration
	EventRuleAdded   EventType = "permission.rule_added"
	EventRuleRemoved EventType = "permission.rule_removed"

	// Worker
	EventAgentStatus EventType = "agent.status"

	// Action graph activity
	EventModelCall EventType = "model.call"
	EventToolCall  EventType = "tool.call"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceWorker     EventSource = "worker"
	SourceGateway    EventSource = "gateway"
	SourceApproval   EventSource = "approval"
	SourcePermission EventSource = "permission"
	SourceScheduler  EventSource = "scheduler"
	SourceGraph      EventSource = "graph"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Filter selects events by task and type. Zero fields match everything.
type Filter struct {
	TaskID string
	Types  []EventType
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

type subscription struct {
	filter  Filter
	handler Subscriber
}

// Bus is an in-memory event bus. Delivery is best effort: a full buffer drops
// the event rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	eventChan   chan Event
	ringBuffer  *RingBuffer
	closed      bool
	done        chan struct{}
	stopped     chan struct{}
}

// NewBus creates a new event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus{
		subscribers: make(map[int]*subscription),
		eventChan:   make(chan Event, bufferSize),
		ringBuffer:  NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case event := <-b.eventChan:
			b.ringBuffer.Add(event)
			b.notifySubscribers(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) notifySubscribers(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.filter.Matches(event) {
			go sub.handler(event)
		}
	}
}

// Publish sends an event to the bus without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.eventChan <- event:
	default:
		slog.Debug("event bus full, dropping event", "type", event.Type, "task_id", event.TaskID)
	}
}

// PublishAsync sends an event, waiting for buffer space until ctx is done.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for specific event types (all types when none
// are given). Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	return b.SubscribeFilter(handler, Filter{Types: eventTypes})
}

// SubscribeFilter registers a handler for the events f matches, e.g. the
// lifecycle of one task. Returns an unsubscribe function.
func (b *Bus) SubscribeFilter(handler Subscriber, f Filter) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	b.subscribers[id] = &subscription{filter: f, handler: handler}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// SubscribeChan returns a channel that receives events.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	var mu sync.Mutex
	closed := false

	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	}, eventTypes...)

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// History returns up to limit recent events from the ring buffer, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// HistoryFor returns up to limit recent events f matches, oldest first.
func (b *Bus) HistoryFor(f Filter, limit int) []Event {
	return b.ringBuffer.Find(f, limit)
}

// Close shuts down the event bus.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	<-b.stopped
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Get returns up to n of the most recent events, oldest first.
func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}

// Find returns up to n of the most recent events f matches, oldest first.
func (r *RingBuffer) Find(f Filter, n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for i := 1; i <= r.count && len(result) < n; i++ {
		e := r.events[(r.pos-i+r.size)%r.size]
		if f.Matches(e) {
			result = append(result, e)
		}
	}
	slices.Reverse(result)
	return result
}
