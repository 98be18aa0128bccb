// Package events fans task progress out to connected clients.
package events

import (
	"sync"
	"time"

	"cv-adapter/internal/shared/metrics"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeProgress  Type = "task:progress"
	TypeItem      Type = "task:item"
	TypeCompleted Type = "task:completed"
	TypeFailed    Type = "task:failed"
	TypeCancelled Type = "task:cancelled"
	TypeSnapshot  Type = "snapshot"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Event is a single notification addressed to one user.
type Event struct {
	Type    Type           `json:"type"`
	TaskID  string         `json:"taskId,omitempty"`
	UserID  string         `json:"userId"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(e Event)
}

// Bus delivers events to in-process subscribers. Delivery is at-most-once: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	nextID uint64
	buffer int
}

// NewBus constructs a Bus with DefaultBuffer capacity per subscriber.
func NewBus() *Bus {
	return &Bus{subs: map[string]map[uint64]chan Event{}, buffer: DefaultBuffer}
}

// Publish sends e to every subscriber of e.UserID without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e.UserID] {
		select {
		case ch <- e:
		default:
			metrics.IncEventDropped()
		}
	}
}

// Subscribe registers a listener for userID. The returned cancel func closes the channel
// and is safe to call more than once.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = map[uint64]chan Event{}
	}
	b.subs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports how many listeners userID has.
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

var _ Publisher = (*Bus)(nil)
