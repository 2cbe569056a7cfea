// Package serve provides the command that runs the relay.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-relay/internal/aggregator"
	"github.com/tphakala/birdnet-relay/internal/api"
	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/hub"
	"github.com/tphakala/birdnet-relay/internal/ingest"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
	"github.com/tphakala/birdnet-relay/internal/query"
)

const sentryFlushTimeout = 2 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long:  "Connect to the upstream detector, persist detections and serve dashboard subscribers until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings)
		},
	}
}

// Run wires every component and blocks until ctx is cancelled or one of
// them fails.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	if settings.Sentry.Enabled {
		if err := initSentry(settings); err != nil {
			return err
		}
		defer sentry.Flush(sentryFlushTimeout)
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	clk, err := clock.New(settings.Main.Timezone)
	if err != nil {
		return err
	}

	store, err := datastore.New(settings)
	if err != nil {
		return err
	}
	if instrumented, ok := store.(interface {
		SetMetrics(*metrics.DatastoreMetrics)
	}); ok {
		instrumented.SetMetrics(m.Datastore)
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close event store", logger.Error(err))
		}
	}()

	router := query.NewRouter(store, aggregator.New(store, clk, settings.Query.StatsCacheTTL), clk, &settings.Query)
	h := hub.New(router, clk, hub.Config{
		SendTimeout: settings.WebServer.SendTimeout,
		BufferSize:  settings.WebServer.SubscriberBuffer,
	}, m.Hub)
	defer h.Close()

	source, err := ingest.NewSource(settings, m.Ingest)
	if err != nil {
		return err
	}
	ingestor := ingest.New(source, store, h, clk, settings.Upstream.QueueSize, m.Ingest)

	// Everything that can fail is built before the first goroutine starts.
	var endpoint *observability.Endpoint
	if settings.Telemetry.Enabled {
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
	}
	var server *api.Server
	if settings.WebServer.Enabled {
		server = api.New(settings, router, h, store)
	}

	log.Info("starting relay",
		logger.String("name", settings.Main.Name),
		logger.String("transport", source.Name()),
		logger.String("timezone", clk.Location().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingestor.Run(gctx)
	})

	if server != nil {
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	if endpoint != nil {
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", logger.Error(err))
		return err
	}
	log.Info("relay stopped")
	return nil
}

// initSentry configures the sentry client and installs it as the error reporter.
func initSentry(settings *conf.Settings) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		ServerName:       settings.Main.Name,
		AttachStacktrace: true,
	}); err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	return nil
}
