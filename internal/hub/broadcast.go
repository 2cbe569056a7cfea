package hub

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

type outcome int

const (
	sent outcome = iota
	gone
	timedOut
)

// delivery is one message bound for one subscriber.
type delivery struct {
	sub     *Subscriber
	msg     []byte
	msgType protocol.MessageType

	// viewing, when set, is the date msg shows. If the subscriber follows
	// another date by the time its turn comes, fallback is sent instead.
	viewing      string
	fallback     []byte
	fallbackType protocol.MessageType
}

// deliver queues msg for sub. Waiting for the turn and for room in the
// queue share one send timeout.
func (h *Hub) deliver(ctx context.Context, d delivery) outcome {
	timer := time.NewTimer(h.config.SendTimeout)
	defer timer.Stop()

	select {
	case <-d.sub.turn:
	case <-d.sub.done:
		return gone
	case <-ctx.Done():
		return gone
	case <-timer.C:
		return timedOut
	}
	defer d.sub.release()

	msg, msgType := d.msg, d.msgType
	if d.viewing != "" && resolveActive(d.sub.ActiveDate(), h.clock.Today()) != d.viewing {
		msg, msgType = d.fallback, d.fallbackType
	}
	return h.enqueue(ctx, d.sub, msg, msgType, timer.C)
}

// enqueue waits for room in sub's queue. The caller holds the turn.
func (h *Hub) enqueue(ctx context.Context, sub *Subscriber, msg []byte, msgType protocol.MessageType, expired <-chan time.Time) outcome {
	select {
	case sub.send <- msg:
		h.countSent(msgType)
		return sent
	case <-sub.done:
		return gone
	case <-ctx.Done():
		return gone
	case <-expired:
		return timedOut
	}
}

// fanOut sends every delivery concurrently and returns once each one has
// completed or timed out. Subscribers that timed out are evicted.
func (h *Hub) fanOut(ctx context.Context, kind string, deliveries []delivery) {
	if len(deliveries) == 0 {
		return
	}
	start := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		blocked []string
	)
	for _, d := range deliveries {
		wg.Go(func() {
			if h.deliver(ctx, d) == timedOut {
				mu.Lock()
				blocked = append(blocked, d.sub.ID)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	for _, id := range blocked {
		h.evict(id)
	}
	if h.metrics != nil {
		h.metrics.ObserveBroadcast(kind, time.Since(start))
	}
}

func (h *Hub) evict(id string) {
	GetLogger().Warn("subscriber blocked, evicting",
		logger.String("subscriber_id", id),
		logger.Duration("send_timeout", h.config.SendTimeout))
	if h.metrics != nil {
		h.metrics.IncrementEvictions()
	}
	h.Unregister(id)
}

func (h *Hub) toAll(msgType protocol.MessageType, msg []byte) []delivery {
	subs := h.all()
	deliveries := make([]delivery, len(subs))
	for i, sub := range subs {
		deliveries[i] = delivery{sub: sub, msg: msg, msgType: msgType}
	}
	return deliveries
}

// BroadcastLive pushes a live message to every subscriber. The latest
// liveCountUpdate is kept for subscribers that register later.
func (h *Hub) BroadcastLive(ctx context.Context, msgType protocol.MessageType, payload any) error {
	msg, err := h.encode(msgType, payload)
	if err != nil {
		return err
	}
	if msgType == protocol.TypeLiveCountUpdate {
		h.stateMu.Lock()
		h.lastLive = msg
		h.stateMu.Unlock()
	}
	h.fanOut(ctx, string(msgType), h.toAll(msgType, msg))
	return nil
}

// BroadcastStatus pushes upstream connectivity to every subscriber and
// remembers it for late joiners.
func (h *Hub) BroadcastStatus(ctx context.Context, status protocol.UpstreamStatus) error {
	status.Since = status.Since.UTC()
	msg, err := h.encode(protocol.TypeUpstreamStatus, status)
	if err != nil {
		return err
	}
	h.stateMu.Lock()
	h.status = status
	h.stateMu.Unlock()

	h.fanOut(ctx, string(protocol.TypeUpstreamStatus), h.toAll(protocol.TypeUpstreamStatus, msg))
	return nil
}

// BroadcastRefresh pushes a refreshedSnapshot of affectedDate to every
// subscriber viewing that date, and a statsUpdate to everyone else. The
// snapshot is composed and encoded once. A subscriber that switched dates
// while the snapshot was composed gets the statsUpdate instead.
func (h *Hub) BroadcastRefresh(ctx context.Context, affectedDate string) error {
	subs := h.all()
	if len(subs) == 0 {
		return nil
	}

	today := h.clock.Today()
	var matching, others []*Subscriber
	for _, sub := range subs {
		if resolveActive(sub.ActiveDate(), today) == affectedDate {
			matching = append(matching, sub)
		} else {
			others = append(others, sub)
		}
	}

	var (
		refreshed []byte
		stats     protocol.Stats
	)
	if len(matching) > 0 {
		snapshot, err := h.snapshot(ctx, affectedDate)
		if err != nil {
			return err
		}
		if refreshed, err = h.encode(protocol.TypeRefreshedSnapshot, snapshot); err != nil {
			return err
		}
		stats = snapshot.Stats
	} else {
		var err error
		if stats, err = h.queries.Stats(ctx); err != nil {
			return err
		}
	}

	update, err := h.encode(protocol.TypeStatsUpdate, protocol.StatsUpdate{Stats: stats})
	if err != nil {
		return err
	}

	deliveries := make([]delivery, 0, len(subs))
	for _, sub := range matching {
		deliveries = append(deliveries, delivery{
			sub:          sub,
			msg:          refreshed,
			msgType:      protocol.TypeRefreshedSnapshot,
			viewing:      affectedDate,
			fallback:     update,
			fallbackType: protocol.TypeStatsUpdate,
		})
	}
	for _, sub := range others {
		deliveries = append(deliveries, delivery{sub: sub, msg: update, msgType: protocol.TypeStatsUpdate})
	}

	h.fanOut(ctx, "refresh", deliveries)
	return nil
}

// resolveActive maps a stored selector to a date without re-validating it.
func resolveActive(selector, today string) string {
	if selector == clock.Latest {
		return today
	}
	return selector
}
