package broadcast

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/pscheid92/syncpulse/internal/domain"
)

// Subscription is one consumer's independent view of the hub stream.
// It is not rewindable; call Hub.Subscribe again for a fresh stream.
type Subscription struct {
	id  uint64
	hub *Hub

	mu      sync.Mutex
	backlog *queue.Queue
	limit   int

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSubscription(hub *Hub, limit int) *Subscription {
	return &Subscription{
		hub:     hub,
		backlog: queue.New(),
		limit:   limit,
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// offer buffers ev unless the backlog is at its limit.
func (s *Subscription) offer(ev domain.Event) bool {
	s.mu.Lock()
	if s.limit > 0 && s.backlog.Length() >= s.limit {
		s.mu.Unlock()
		s.dropped.Add(1)
		return false
	}
	s.backlog.Add(ev)
	s.mu.Unlock()

	s.signal()
	return true
}

// push buffers ev regardless of the limit.
func (s *Subscription) push(ev domain.Event) {
	s.mu.Lock()
	s.backlog.Add(ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backlog.Length() == 0 {
		return domain.Event{}, false
	}
	return s.backlog.Remove().(domain.Event), true
}

// Next blocks until an event is available. It returns ctx.Err() when ctx is
// done and domain.ErrSubscriptionClosed once the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		select {
		case <-s.done:
			return domain.Event{}, domain.ErrSubscriptionClosed
		default:
		}

		if ev, ok := s.pop(); ok {
			return ev, nil
		}

		select {
		case <-s.ready:
		case <-s.done:
			return domain.Event{}, domain.ErrSubscriptionClosed
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

// All yields events until ctx is done, the subscription closes, or the caller
// stops iterating. Leaving the loop for any reason closes the subscription.
func (s *Subscription) All(ctx context.Context) iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		defer s.Close()
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Close unsubscribes and releases the backlog. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeLocal()
	s.hub.remove(s.id)
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many events this subscriber lost to a full buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Pending returns the number of buffered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.Length()
}

func (s *Subscription) closeLocal() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.backlog = queue.New()
		s.mu.Unlock()
	})
}
