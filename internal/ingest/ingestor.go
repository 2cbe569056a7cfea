package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// Appender persists detections.
type Appender interface {
	Append(ctx context.Context, e *datastore.DetectionEvent) error
}

// Broadcaster is the part of the hub the ingestor pushes to.
type Broadcaster interface {
	BroadcastLive(ctx context.Context, msgType protocol.MessageType, payload any) error
	BroadcastRefresh(ctx context.Context, affectedDate string) error
	BroadcastStatus(ctx context.Context, status protocol.UpstreamStatus) error
}

// Ingestor connects a Source to the store and the hub. Messages are
// dispatched by a single pipeline goroutine in arrival order.
type Ingestor struct {
	source  Source
	store   Appender
	hub     Broadcaster
	clock   *clock.Clock
	metrics *metrics.IngestMetrics

	queue     chan Message
	frameSeq  uint64 // owned by the pipeline goroutine
	liveCount atomic.Pointer[LiveCount]
}

// New creates an Ingestor. m may be nil.
func New(source Source, store Appender, hub Broadcaster, clk *clock.Clock, queueSize int, m *metrics.IngestMetrics) *Ingestor {
	return &Ingestor{
		source:  source,
		store:   store,
		hub:     hub,
		clock:   clk,
		metrics: m,
		queue:   make(chan Message, max(queueSize, 1)),
	}
}

// Run reads from the source and dispatches events until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return i.source.Run(gctx, i)
	})
	g.Go(func() error {
		i.pipeline(gctx)
		return nil
	})
	return g.Wait()
}

// HandleMessage implements Handler. Frames are dropped when the queue is
// full; every other event waits for room.
func (i *Ingestor) HandleMessage(ctx context.Context, msg Message) {
	if i.metrics != nil {
		i.metrics.ObserveMessageSize(len(msg.Payload))
	}

	kind, _ := KindOf(msg.Name)
	if kind == KindFrame {
		select {
		case i.queue <- msg:
		default:
			if i.metrics != nil {
				i.metrics.IncrementQueueOverflows()
			}
			GetLogger().Debug("frame dropped, pipeline queue full")
		}
		return
	}

	select {
	case i.queue <- msg:
	case <-ctx.Done():
	}
}

// HandleStatus implements Handler.
func (i *Ingestor) HandleStatus(ctx context.Context, connected bool, err error) {
	if i.metrics != nil {
		i.metrics.UpdateConnectionStatus(i.source.Name(), connected)
	}
	status := protocol.UpstreamStatus{Connected: connected, Since: i.clock.Now().UTC()}
	if err != nil {
		status.LastError = err.Error()
	}
	if err := i.hub.BroadcastStatus(ctx, status); err != nil {
		GetLogger().Error("failed to broadcast upstream status", logger.Error(err))
	}
}

// LiveCount returns the most recent live count, if any arrived.
func (i *Ingestor) LiveCount() (LiveCount, bool) {
	lc := i.liveCount.Load()
	if lc == nil {
		return LiveCount{}, false
	}
	return *lc, true
}

func (i *Ingestor) pipeline(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-i.queue:
			i.process(ctx, msg)
		}
	}
}

// process decodes and dispatches one message. No failure here is fatal.
func (i *Ingestor) process(ctx context.Context, msg Message) {
	event, err := Decode(msg, i.clock)
	if err != nil {
		if i.metrics != nil {
			kind, ok := KindOf(msg.Name)
			if !ok {
				kind = "unknown"
			}
			i.metrics.IncrementValidationFailures(string(kind))
		}
		GetLogger().Warn("dropping invalid upstream event",
			logger.String("event", msg.Name),
			logger.Error(err))
		return
	}
	if i.metrics != nil {
		i.metrics.IncrementMessagesReceived(string(event.Kind()))
	}

	switch e := event.(type) {
	case Frame:
		i.handleFrame(ctx, e)
	case LiveCount:
		i.liveCount.Store(&e)
		i.broadcast(ctx, protocol.TypeLiveCountUpdate, protocol.LiveCountUpdate{Count: e.Count, ObservedAt: e.ObservedAt})
	case DetectionLogged:
		i.handleDetection(ctx, e)
	}
}

func (i *Ingestor) handleFrame(ctx context.Context, f Frame) {
	if f.ImageBase64 == "" {
		if i.metrics != nil {
			i.metrics.IncrementFramesDropped()
		}
		GetLogger().Debug("empty frame dropped")
		return
	}
	i.frameSeq++
	i.broadcast(ctx, protocol.TypeFrameUpdate, protocol.FrameUpdate{ImageBase64: f.ImageBase64, Seq: i.frameSeq})
}

func (i *Ingestor) handleDetection(ctx context.Context, d DetectionLogged) {
	row := &datastore.DetectionEvent{
		Birds:           d.Count,
		OccurredAt:      d.OccurredAt,
		DurationSeconds: d.DurationSeconds,
		ObservationDate: i.clock.DateOf(d.OccurredAt),
	}

	start := time.Now()
	if err := i.store.Append(ctx, row); err != nil {
		reason := "database"
		if errors.IsStoreUnavailable(err) {
			reason = "store_unavailable"
		}
		if i.metrics != nil {
			i.metrics.IncrementDetectionsDropped(reason)
		}
		GetLogger().Error("detection dropped, append failed",
			logger.String("reason", reason),
			logger.Int("birds", d.Count),
			logger.Error(err))
		return
	}

	GetLogger().Info("detection logged",
		logger.Uint64("id", uint64(row.ID)),
		logger.Int("birds", row.Birds),
		logger.Time("occurred_at", row.OccurredAt),
		logger.Float64("duration_seconds", row.DurationSeconds),
		logger.String("observation_date", row.ObservationDate),
		logger.Duration("append_time", time.Since(start)))

	i.broadcast(ctx, protocol.TypeDetectionLogged, protocol.DetectionLogged{Event: row.ToProtocol()})
	if err := i.hub.BroadcastRefresh(ctx, row.ObservationDate); err != nil {
		GetLogger().Warn("refresh broadcast failed",
			logger.String("observation_date", row.ObservationDate),
			logger.Error(err))
	}
}

func (i *Ingestor) broadcast(ctx context.Context, msgType protocol.MessageType, payload any) {
	if err := i.hub.BroadcastLive(ctx, msgType, payload); err != nil {
		GetLogger().Error("broadcast failed",
			logger.String("type", string(msgType)),
			logger.Error(err))
	}
}
