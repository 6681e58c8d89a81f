package telemetry

import "sync"

// subscriberBuffer is the number of readings queued per subscriber before
// new readings are dropped for it.
const subscriberBuffer = 16

// Hub fans accepted readings out to subscribers. A subscriber that falls
// behind loses readings; it never blocks ingestion.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Reading]struct{}
}

// NewHub creates an empty [Hub].
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Reading]struct{})}
}

// Subscribe registers a subscriber. Call the returned cancel func exactly
// once; it closes the channel.
func (h *Hub) Subscribe() (<-chan Reading, func()) {
	ch := make(chan Reading, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers r to every subscriber with room in its buffer and
// returns how many received it.
func (h *Hub) Publish(r Reading) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.subs {
		select {
		case ch <- r:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
