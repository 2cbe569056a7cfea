// Package hub keeps the set of connected dashboards and pushes live events,
// refreshed snapshots and stats to them.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// DefaultSendTimeout bounds a single send when no timeout is configured.
const DefaultSendTimeout = 3 * time.Second

// Queries is what the hub needs to compose snapshots.
type Queries interface {
	SnapshotOf(ctx context.Context, date string) (protocol.Snapshot, error)
	Stats(ctx context.Context) (protocol.Stats, error)
	AvailableDates(ctx context.Context) (protocol.AvailableDates, error)
}

// Config holds the hub tunables.
type Config struct {
	SendTimeout time.Duration
	BufferSize  int
}

// Hub fans messages out to registered subscribers.
type Hub struct {
	queries Queries
	clock   *clock.Clock
	config  Config
	metrics *metrics.HubMetrics

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	stateMu  sync.RWMutex
	status   protocol.UpstreamStatus
	lastLive []byte // encoded liveCountUpdate, nil until the first one
}

// New creates a hub. metrics may be nil.
func New(queries Queries, clk *clock.Clock, config Config, m *metrics.HubMetrics) *Hub {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	return &Hub{
		queries:     queries,
		clock:       clk,
		config:      config,
		metrics:     m,
		subscribers: make(map[string]*Subscriber),
		status:      protocol.UpstreamStatus{Connected: false, Since: clk.Now().UTC()},
	}
}

// Register adds a subscriber following "latest" and queues its initial
// snapshot, the upstream status and the last live count. If the snapshot
// cannot be composed an error message is queued in its place and the
// subscriber stays registered.
//
// The subscriber is visible to broadcasts while the snapshot is composed, so
// no refresh is missed, but they queue behind the initial messages. A
// broadcast that cannot get its turn within the send timeout evicts the
// subscriber, and Register then fails.
func (h *Hub) Register(ctx context.Context, id string) (*Subscriber, error) {
	sub := newSubscriber(id, h.config.BufferSize)

	h.mu.Lock()
	if _, exists := h.subscribers[id]; exists {
		h.mu.Unlock()
		return nil, errors.Newf("subscriber %s already registered", id).
			Component("hub").
			Category(errors.CategoryConflict).
			Context("subscriber_id", id).
			Build()
	}
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	// Broadcasts wait for the turn, so the snapshot is always first.
	defer sub.release()

	if h.metrics != nil {
		h.metrics.IncrementRegistrations()
		h.metrics.SetSubscribers(count)
	}

	snapshot, err := h.snapshot(ctx, h.clock.Today())
	if err != nil {
		GetLogger().Warn("initial snapshot failed",
			logger.String("subscriber_id", id),
			logger.Error(err))
		h.queue(sub, protocol.TypeError, protocol.ErrorFor(err))
	} else {
		h.queue(sub, protocol.TypeInitialSnapshot, snapshot)
	}

	h.stateMu.RLock()
	status := h.status
	lastLive := h.lastLive
	h.stateMu.RUnlock()

	h.queue(sub, protocol.TypeUpstreamStatus, status)
	if lastLive != nil {
		sub.send <- lastLive
		h.countSent(protocol.TypeLiveCountUpdate)
	}

	if sub.closed() {
		return nil, errors.Newf("subscriber %s evicted during registration", id).
			Component("hub").
			Category(errors.CategoryBroadcast).
			Context("subscriber_id", id).
			Build()
	}

	GetLogger().Info("subscriber registered",
		logger.String("subscriber_id", id),
		logger.Int("subscribers", count))
	return sub, nil
}

// queue places a message on a fresh subscriber's buffer, which always has
// room for the initial messages.
func (h *Hub) queue(sub *Subscriber, msgType protocol.MessageType, payload any) {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		GetLogger().Error("failed to encode message",
			logger.String("type", string(msgType)),
			logger.Error(err))
		return
	}
	sub.send <- msg
	h.countSent(msgType)
}

// Unregister removes a subscriber and releases it. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	if h.metrics != nil {
		h.metrics.SetSubscribers(count)
	}
	GetLogger().Debug("subscriber unregistered",
		logger.String("subscriber_id", id),
		logger.Int("subscribers", count))
}

// Close unregisters every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if h.metrics != nil {
		h.metrics.SetSubscribers(0)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Status returns the last reported upstream status.
func (h *Hub) Status() protocol.UpstreamStatus {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.status
}

func (h *Hub) lookup(id string) (*Subscriber, error) {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return nil, errors.Newf("subscriber %s is not registered", id).
			Component("hub").
			Category(errors.CategoryNotFound).
			Context("subscriber_id", id).
			Build()
	}
	return sub, nil
}

// errGone reports a subscriber unregistered while a request was waiting.
func errGone(id string) error {
	return errors.Newf("subscriber %s is gone", id).
		Component("hub").
		Category(errors.CategoryNotFound).
		Context("subscriber_id", id).
		Build()
}

func (h *Hub) all() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) snapshot(ctx context.Context, date string) (protocol.Snapshot, error) {
	snapshot, err := h.queries.SnapshotOf(ctx, date)
	if h.metrics != nil {
		h.metrics.RecordSnapshot(err)
	}
	return snapshot, err
}

func (h *Hub) countSent(msgType protocol.MessageType) {
	if h.metrics != nil {
		h.metrics.IncrementMessagesSent(string(msgType))
	}
}

func (h *Hub) encode(msgType protocol.MessageType, payload any) ([]byte, error) {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		return nil, errors.New(fmt.Errorf("encode %s: %w", msgType, err)).
			Component("hub").
			Category(errors.CategoryBroadcast).
			Context("type", string(msgType)).
			Build()
	}
	return msg, nil
}
