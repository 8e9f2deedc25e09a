// Package hub fans accepted pixel deltas out to every subscribed
// connection. Publishing never blocks: a subscriber whose buffer is full
// loses the delta and is marked lagged, which the connection treats as
// non-fatal (the client recovers from the next snapshot).
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/metrics"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
)

// Subscriber is one bounded delta stream. Read from C until it is closed.
type Subscriber struct {
	ch     chan pixel.Pixel
	lagged atomic.Bool

	// C receives every delta published after Subscribe, minus any dropped
	// while the buffer was full.
	C <-chan pixel.Pixel
}

// Lagged reports whether at least one delta was dropped on this subscriber.
func (s *Subscriber) Lagged() bool {
	return s.lagged.Load()
}

// Hub is the single shared publisher endpoint.
type Hub struct {
	buffer  int
	metrics *metrics.Registry

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// New creates a hub whose subscribers each buffer up to size deltas.
// The metrics registry may be nil.
func New(size int, m *metrics.Registry) *Hub {
	return &Hub{
		buffer:  size,
		metrics: m,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber that sees every delta published
// from this moment on.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan pixel.Pixel, h.buffer)}
	s.C = s.ch

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish delivers p to every subscriber, dropping it on full buffers.
func (h *Hub) Publish(p pixel.Pixel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.DeltasPublished.Inc()
	}

	for s := range h.subs {
		select {
		case s.ch <- p:
		default:
			s.lagged.Store(true)
			if h.metrics != nil {
				h.metrics.DeltasDropped.Inc()
			}
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
