package ingest

import (
	"context"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
)

// Handler receives what a Source reads from the upstream.
type Handler interface {
	// HandleMessage may block until ctx is done.
	HandleMessage(ctx context.Context, msg Message)
	HandleStatus(ctx context.Context, connected bool, err error)
}

// Source is one upstream transport. Run keeps a single logical connection
// alive, reconnecting with backoff, until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}

// NewSource builds the transport selected by upstream.transport. m may be nil.
func NewSource(settings *conf.Settings, m *metrics.IngestMetrics) (Source, error) {
	upstream := settings.Upstream
	switch upstream.Transport {
	case conf.TransportMQTT:
		return NewMQTTSource(&upstream.MQTT, &upstream.Reconnect, settings.Main.Name, m), nil
	case conf.TransportWebsocket:
		return NewWebsocketSource(&upstream.Websocket, &upstream.Reconnect, m), nil
	default:
		return nil, errors.Newf("unsupported upstream transport %q", upstream.Transport).
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Context("transport", upstream.Transport).
			Build()
	}
}

// connectionError tags a transport failure for logging and metrics.
func connectionError(transport string, err error) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryUpstream).
		Context("transport", transport).
		Build()
}
