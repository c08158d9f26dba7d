// Package bus provides the message log shared by the engine's components.
// A Bus is constructed by the host and injected; there is no package-level
// instance.
package bus

import (
	"sync"
	"time"
)

// Kind classifies a message.
type Kind string

// Message kinds.
const (
	KindTx    Kind = "tx"
	KindRx    Kind = "rx"
	KindInfo  Kind = "info"
	KindWarn  Kind = "warn"
	KindError Kind = "error"
	KindDebug Kind = "debug"
)

// DefaultCapacity bounds the retained history when New is given zero.
const DefaultCapacity = 1000

// Message is one entry in the log.
type Message struct {
	Time    time.Time
	Kind    Kind
	Channel string
	CaseID  string
	Text    string
}

// Subscriber receives every published message on the publisher's goroutine.
type Subscriber func(Message)

// Bus is an in-process publish/subscribe message log with bounded history.
type Bus struct {
	mu       sync.RWMutex
	capacity int
	history  []Message
	subs     map[int]Subscriber
	nextID   int
	now      func() time.Time
}

// New returns a bus that retains at most capacity messages.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Bus{
		capacity: capacity,
		history:  make([]Message, 0, capacity),
		subs:     make(map[int]Subscriber),
		now:      time.Now,
	}
}

// Publish appends msg to the history and delivers it to subscribers. A zero
// Time is filled in.
func (b *Bus) Publish(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = b.now()
	}

	b.mu.Lock()
	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, msg)

	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s(msg)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Clear drops the retained history. Subscribers stay registered.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = b.history[:0]
}

// Messages returns a copy of the retained history, oldest first.
func (b *Bus) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Message, len(b.history))
	copy(out, b.history)

	return out
}
