package events

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far a slow consumer may lag before events
// are dropped for it.
const subscriberBuffer = 64

// StreamHub fans published events out to live subscribers. A subscriber
// that cannot keep up loses events rather than blocking the ledger.
type StreamHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[chan Event]struct{})}
}

func (h *StreamHub) Publish(_ context.Context, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a buffered event channel. The returned cancel
// function removes the subscription and closes the channel; it is safe to
// call more than once.
func (h *StreamHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscriptions.
func (h *StreamHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Multi delivers each event to every given publisher in order. Nil
// publishers are skipped.
func Multi(publishers ...Publisher) Publisher {
	kept := make(multiPublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return kept
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(ctx context.Context, event Event) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}
