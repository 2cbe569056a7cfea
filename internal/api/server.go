package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/hub"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/query"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// Server is the HTTP server for the query interface and subscriber channel.
type Server struct {
	echo       *echo.Echo
	controller *Controller
	hub        *hub.Hub
	settings   *conf.WebServerSettings
}

// New creates the server and registers its routes.
func New(settings *conf.Settings, router *query.Router, h *hub.Hub, store Pinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = settings.WebServer.Debug

	return &Server{
		echo:       e,
		controller: NewController(e, router, h, store, &settings.WebServer),
		hub:        h,
		settings:   &settings.WebServer,
	}
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Run listens on the configured port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.settings.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully:
// stop accepting requests, release every subscriber, wait for their
// connections to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("HTTP server listening", logger.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.hub.Close()
	s.controller.Wait()
	<-errCh

	if err != nil {
		GetLogger().Error("HTTP server shutdown failed", logger.Error(err))
		return err
	}
	GetLogger().Info("HTTP server stopped")
	return nil
}
