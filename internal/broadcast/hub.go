package broadcast

import (
	"log/slog"
	"sync"

	"github.com/pscheid92/syncpulse/internal/domain"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 256

// Outcome reports what happened to a published event.
type Outcome int

const (
	// Delivered means every subscriber buffered the event.
	Delivered Outcome = iota
	// BufferFull means at least one subscriber dropped the event.
	BufferFull
	// NoSubscribers means nobody was listening.
	NoSubscribers
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case BufferFull:
		return "buffer_full"
	case NoSubscribers:
		return "no_subscribers"
	default:
		return "unknown"
	}
}

// Metrics observes hub activity.
type Metrics interface {
	SetSubscribers(n int)
	ObservePublish(kind, outcome string)
	ObserveDrop()
}

// Hub multicasts events to every live Subscription.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
	metrics    Metrics
}

// NewHub creates a hub. bufferSize bounds each subscriber's backlog; 0 means
// unbounded, negative selects DefaultBufferSize. hubMetrics may be nil.
func NewHub(bufferSize int, hubMetrics Metrics) *Hub {
	if bufferSize < 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		metrics:    hubMetrics,
	}
}

// Publish offers ev to every subscriber without blocking.
func (h *Hub) Publish(ev domain.Event) Outcome {
	h.mu.RLock()
	outcome := NoSubscribers
	if len(h.subs) > 0 && !h.closed {
		outcome = Delivered
		for _, sub := range h.subs {
			if !sub.offer(ev) {
				outcome = BufferFull
				if h.metrics != nil {
					h.metrics.ObserveDrop()
				}
			}
		}
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.ObservePublish(ev.Kind, outcome.String())
	}
	if outcome == BufferFull {
		slog.Warn("Hub dropped event for slow subscriber", "event_kind", ev.Kind, "event_id", ev.ID)
	}
	return outcome
}

// Subscribe registers a new subscription. Its first event is always "connected".
// After Close the returned subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := newSubscription(h, h.bufferSize)
	sub.push(domain.NewEvent(domain.EventConnected, ""))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closeLocal()
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetSubscribers(count)
	}
	slog.Debug("Hub subscriber added", "subscription_id", sub.id, "subscribers", count)
	return sub
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close ends every subscription and rejects future ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeLocal()
	}
	if h.metrics != nil {
		h.metrics.SetSubscribers(0)
	}
	slog.Info("Hub closed", "disconnected_subscribers", len(subs))
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	if _, ok := h.subs[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetSubscribers(count)
	}
	slog.Debug("Hub subscriber removed", "subscription_id", id, "subscribers", count)
}
