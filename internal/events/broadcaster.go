// Package events provides an SSE broadcaster for live change notifications.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lanvault/lanvault/internal/metrics"
)

// Operation names carried in events.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
	OpMove   = "move"
	OpCopy   = "copy"
	OpMkdir  = "mkdir"
)

// Event describes one change inside the vault. Path is partition-relative.
type Event struct {
	Op        string `json:"op"`
	Partition string `json:"partition"`
	Path      string `json:"path"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`

	// owner scopes private-partition events to their user; never serialized.
	owner string
}

// Shared builds an event for the shared partition.
func Shared(op, path string, size int64) Event {
	return Event{Op: op, Partition: "shared", Path: path, Size: size}
}

// Private builds an event for one user's private partition. Only that
// user's subscriptions receive it.
func Private(op, owner, path string, size int64) Event {
	return Event{Op: op, Partition: "private", Path: path, Size: size, owner: owner}
}

type subscriber struct {
	ch   chan Event
	user string
}

// Broadcaster manages SSE subscribers and publishes events. Shared-partition
// events fan out to everyone; private-partition events only reach the
// owner's connections.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]*subscriber
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]*subscriber),
	}
}

// Subscribe registers a connection for the given user and returns its event
// channel. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(user string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = &subscriber{ch: ch, user: user}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all eligible subscribers. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if event.owner != "" && sub.user != event.owner {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Op)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
