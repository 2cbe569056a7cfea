package hub

import (
	"context"
	"time"

	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// Request outcomes recorded in metrics.
const (
	requestOK     = "ok"
	requestFailed = "error"
)

// SetActiveDate switches the date a subscriber follows and pushes a
// refreshedSnapshot to that subscriber only. An invalid selector leaves the
// current date unchanged.
func (h *Hub) SetActiveDate(ctx context.Context, id, selector string) error {
	return h.replySnapshot(ctx, id, selector, protocol.TypeRefreshedSnapshot)
}

// RequestSnapshot is SetActiveDate answered with a snapshotResult.
func (h *Hub) RequestSnapshot(ctx context.Context, id, selector string) error {
	return h.replySnapshot(ctx, id, selector, protocol.TypeSnapshotResult)
}

// replySnapshot holds the subscriber's turn from composing the snapshot to
// queueing it, so a refresh of the previous date cannot land after it. The
// active date only changes once the snapshot is in hand.
func (h *Hub) replySnapshot(ctx context.Context, id, selector string, msgType protocol.MessageType) (err error) {
	defer func() { h.recordRequest(protocol.TypeRequestSnapshot, err) }()

	sub, err := h.lookup(id)
	if err != nil {
		return err
	}
	normalized, err := h.clock.NormalizeSelector(selector)
	if err != nil {
		return err
	}

	if !sub.acquire(ctx) {
		return errGone(id)
	}
	start := time.Now()
	result, err := h.composeReply(ctx, sub, normalized, msgType)
	sub.release()
	if err != nil {
		return err
	}

	if result == timedOut {
		h.evict(id)
	}
	if h.metrics != nil {
		h.metrics.ObserveBroadcast(string(msgType), time.Since(start))
	}
	return nil
}

// composeReply runs with the turn held.
func (h *Hub) composeReply(ctx context.Context, sub *Subscriber, selector string, msgType protocol.MessageType) (outcome, error) {
	snapshot, err := h.snapshot(ctx, resolveActive(selector, h.clock.Today()))
	if err != nil {
		return gone, err
	}
	msg, err := h.encode(msgType, snapshot)
	if err != nil {
		return gone, err
	}
	sub.setActiveDate(selector)

	timer := time.NewTimer(h.config.SendTimeout)
	defer timer.Stop()
	return h.enqueue(ctx, sub, msg, msgType, timer.C), nil
}

// RequestAvailableDates answers one subscriber with the available dates.
func (h *Hub) RequestAvailableDates(ctx context.Context, id string) (err error) {
	defer func() { h.recordRequest(protocol.TypeRequestAvailableDates, err) }()

	sub, err := h.lookup(id)
	if err != nil {
		return err
	}
	dates, err := h.queries.AvailableDates(ctx)
	if err != nil {
		return err
	}
	msg, err := h.encode(protocol.TypeAvailableDatesResult, dates)
	if err != nil {
		return err
	}
	h.fanOut(ctx, string(protocol.TypeAvailableDatesResult),
		[]delivery{{sub: sub, msg: msg, msgType: protocol.TypeAvailableDatesResult}})
	return nil
}

// SendError reports a failed request to one subscriber. The connection stays open.
func (h *Hub) SendError(ctx context.Context, id string, cause error) {
	sub, err := h.lookup(id)
	if err != nil {
		return
	}
	msg, err := h.encode(protocol.TypeError, protocol.ErrorFor(cause))
	if err != nil {
		return
	}
	GetLogger().Debug("request failed",
		logger.String("subscriber_id", id),
		logger.Error(cause))
	h.fanOut(ctx, string(protocol.TypeError), []delivery{{sub: sub, msg: msg, msgType: protocol.TypeError}})
}

func (h *Hub) recordRequest(msgType protocol.MessageType, err error) {
	if h.metrics == nil {
		return
	}
	status := requestOK
	if err != nil {
		status = requestFailed
	}
	h.metrics.RecordRequest(string(msgType), status)
}
