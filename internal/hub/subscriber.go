package hub

import (
	"context"
	"sync"

	"github.com/tphakala/birdnet-relay/internal/clock"
)

// initialMessages is the most the hub queues during Register.
const initialMessages = 3

// Subscriber is one registered dashboard connection.
type Subscriber struct {
	ID string

	send chan []byte
	done chan struct{}
	// turn holds a single token. Whoever holds it may queue messages, so
	// snapshots reach the subscriber in the order its view changed. A new
	// subscriber starts without the token; Register releases it.
	turn chan struct{}

	closeOnce sync.Once

	mu         sync.RWMutex
	activeDate string // clock.Latest or a canonical date
}

func newSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{
		ID:         id,
		send:       make(chan []byte, max(buffer, initialMessages)),
		done:       make(chan struct{}),
		turn:       make(chan struct{}, 1),
		activeDate: clock.Latest,
	}
}

// Messages returns the outbound queue. The connection writer drains it.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Done is closed once the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// ActiveDate returns the stored date selector.
func (s *Subscriber) ActiveDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeDate
}

func (s *Subscriber) setActiveDate(selector string) {
	s.mu.Lock()
	s.activeDate = selector
	s.mu.Unlock()
}

// acquire takes the turn. It fails once the subscriber is gone or ctx ends.
func (s *Subscriber) acquire(ctx context.Context) bool {
	select {
	case <-s.turn:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// release hands the turn back. Only the holder may call it.
func (s *Subscriber) release() {
	s.turn <- struct{}{}
}

func (s *Subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
