package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
)

// Keepalive defaults for a producer connection
const (
	defaultPongWait  = 60 * time.Second
	pingWriteTimeout = 10 * time.Second
)

// WebsocketSource dials the producer and reads {"event","data"} text messages.
type WebsocketSource struct {
	settings  *conf.WebsocketSettings
	reconnect *conf.ReconnectSettings
	metrics   *metrics.IngestMetrics
	dialer    *websocket.Dialer

	pongWait     time.Duration
	pingInterval time.Duration
}

// NewWebsocketSource creates a websocket source.
func NewWebsocketSource(settings *conf.WebsocketSettings, reconnect *conf.ReconnectSettings, m *metrics.IngestMetrics) *WebsocketSource {
	pongWait := settings.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	pingInterval := settings.PingInterval
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = (pongWait * 9) / 10
	}
	return &WebsocketSource{
		settings:  settings,
		reconnect: reconnect,
		metrics:   m,
		dialer: &websocket.Dialer{
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		pongWait:     pongWait,
		pingInterval: pingInterval,
	}
}

// Name implements Source.
func (s *WebsocketSource) Name() string {
	return conf.TransportWebsocket
}

// Run implements Source.
func (s *WebsocketSource) Run(ctx context.Context, h Handler) error {
	backoff := NewBackoff(s.reconnect.InitialDelay, s.reconnect.MaxDelay)
	log := GetLogger().With(logger.String("transport", s.Name()), logger.String("url", s.settings.URL))

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.settings.URL, nil)
		if err == nil {
			backoff.Reset()
			log.Info("connected to upstream")
			h.HandleStatus(ctx, true, nil)
			err = s.read(ctx, conn, h)
		}

		if ctx.Err() != nil {
			return nil
		}
		err = connectionError(s.Name(), err)
		if s.metrics != nil {
			s.metrics.IncrementErrors(s.Name())
		}
		h.HandleStatus(ctx, false, err)

		delay := backoff.Next()
		log.Warn("upstream connection failed, retrying",
			logger.Error(err),
			logger.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if s.metrics != nil {
			s.metrics.IncrementReconnectAttempts(s.Name())
		}
	}
}

// read consumes messages until the connection fails or ctx is cancelled.
// A producer that neither answers pings nor sends anything within pongWait
// is treated as gone, which catches half-open connections.
func (s *WebsocketSource) read(ctx context.Context, conn *websocket.Conn, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	extend := func() error { return conn.SetReadDeadline(time.Now().Add(s.pongWait)) }
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() { s.ping(conn, done) })
	defer wg.Wait()
	defer close(done)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = extend()
		if msgType != websocket.TextMessage {
			continue
		}

		arrival := time.Now()
		name, payload, err := ParseEnvelope(raw)
		if err != nil {
			GetLogger().Warn("dropping malformed upstream message", logger.Error(err))
			if s.metrics != nil {
				s.metrics.IncrementValidationFailures("envelope")
			}
			continue
		}
		h.HandleMessage(ctx, Message{Name: name, Payload: payload, Arrival: arrival})
	}
}

// ping sends keepalive pings until done is closed or a write fails.
func (s *WebsocketSource) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout)); err != nil {
				return
			}
		}
	}
}
