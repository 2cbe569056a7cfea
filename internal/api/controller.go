// Package api serves the query interface and the subscriber websocket
// under /api/v1.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/hub"
	"github.com/tphakala/birdnet-relay/internal/query"
)

// Pinger checks store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller manages the API routes and their dependencies.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	router   *query.Router
	hub      *hub.Hub
	store    Pinger
	settings *conf.WebServerSettings
	upgrader websocket.Upgrader

	// connections tracks websocket handlers so shutdown can wait for them
	connections sync.WaitGroup
}

// NewController registers the /api/v1 routes on e.
func NewController(e *echo.Echo, router *query.Router, h *hub.Hub, store Pinger, settings *conf.WebServerSettings) *Controller {
	c := &Controller{
		Echo:     e,
		router:   router,
		hub:      h,
		store:    store,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(settings.AllowedOrigins),
		},
	}

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())
	c.Group.Use(corsMiddleware(settings.AllowedOrigins))
	c.Group.Use(middleware.BodyLimit("64K"))
	c.Group.Use(c.LoggingMiddleware())
	if settings.RateLimit.Enabled {
		c.Group.Use(rateLimiter(&settings.RateLimit))
	}

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/history", c.GetHistory)
	c.Group.GET("/stats", c.GetStats)
	c.Group.GET("/available-dates", c.GetAvailableDates)
	c.Group.GET("/snapshot", c.GetSnapshot)
	c.Group.GET("/ws", c.HandleWebsocket)
}

// Wait blocks until every websocket handler has returned.
func (c *Controller) Wait() {
	c.connections.Wait()
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
