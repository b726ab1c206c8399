// Package events carries notifications about executed commands to anything
// that wants to watch the arm: the WebSocket relay, the MQTT bridge and the
// CLI.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "events",
})

// Kinds of events.
const (
	KindCommand     = "command"
	KindCalibration = "calibration"
	KindLifecycle   = "lifecycle"
)

// Event is a single notification.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Command  string    `json:"command,omitempty"`
	Motor    string    `json:"motor,omitempty"`
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Position *int      `json:"position,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind misses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving every event published from now on,
// and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			logger.Debugf("subscriber %d is full, dropping %s event", id, e.Kind)
		}
	}
}

// Close ends all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
