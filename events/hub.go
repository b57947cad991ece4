// Package events implements the process-wide EventHub and the
// MetricsAggregator that subscribes to it (spec.md §4.6). Every actor in
// package crawl holds this package's Hub behind crawl.EventPublisher and
// publishes without knowing who, if anyone, is listening.
package events

import (
	"sync"

	"github.com/mattercertis/crawlcore/crawl"
)

// Hub is a lossy, bounded broadcast of crawl.AppEvent. Each subscriber gets
// its own fixed-capacity channel; a publish to a full subscriber drops that
// subscriber's oldest queued event and inserts the new one, so a slow
// dashboard falls behind on history rather than stalling the publisher
// (spec.md §4.6: "events are advisory").
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan crawl.AppEvent
	nextID      int
	capacity    int
}

// NewHub builds a Hub whose subscriber channels each hold capacity events
// before the ring starts overwriting. capacity <= 0 defaults to 128.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 128
	}
	return &Hub{subscribers: make(map[int]chan crawl.AppEvent), capacity: capacity}
}

// Publish implements crawl.EventPublisher. It never blocks.
func (h *Hub) Publish(e crawl.AppEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			// Ring is full: drop the oldest queued event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribe registers a new listener and returns its receive channel along
// with an unsubscribe func that must be called to release it.
func (h *Hub) Subscribe() (<-chan crawl.AppEvent, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan crawl.AppEvent, h.capacity)
	h.subscribers[id] = ch
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// SubscriberCount reports the number of live subscribers, mostly useful in
// tests and health checks.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
