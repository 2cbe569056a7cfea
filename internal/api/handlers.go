package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                  `json:"status"`
	Upstream    protocol.UpstreamStatus `json:"upstream"`
	Subscribers int                     `json:"subscribers"`
}

// writeJSON encodes with json.Marshal so bodies match the websocket payloads byte for byte.
func writeJSON(ctx echo.Context, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ctx.Blob(status, echo.MIMEApplicationJSONCharsetUTF8, body)
}

// HealthCheck reports store reachability, upstream status and subscriber count.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	resp := HealthResponse{
		Status:      "ok",
		Upstream:    c.hub.Status(),
		Subscribers: c.hub.Count(),
	}
	status := http.StatusOK
	if err := c.store.Ping(ctx.Request().Context()); err != nil {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	return writeJSON(ctx, status, resp)
}

// GetHistory handles GET /history?date=&limit=
func (c *Controller) GetHistory(ctx echo.Context) error {
	limit, err := c.router.ParseLimit(ctx.QueryParam("limit"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid limit")
	}
	history, err := c.router.History(ctx.Request().Context(), ctx.QueryParam("date"), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get history")
	}
	return writeJSON(ctx, http.StatusOK, history)
}

// GetStats handles GET /stats
func (c *Controller) GetStats(ctx echo.Context) error {
	stats, err := c.router.Stats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get stats")
	}
	return writeJSON(ctx, http.StatusOK, stats)
}

// GetAvailableDates handles GET /available-dates
func (c *Controller) GetAvailableDates(ctx echo.Context) error {
	dates, err := c.router.AvailableDates(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get available dates")
	}
	return writeJSON(ctx, http.StatusOK, dates)
}

// GetSnapshot handles GET /snapshot?date=
func (c *Controller) GetSnapshot(ctx echo.Context) error {
	snapshot, err := c.router.Snapshot(ctx.Request().Context(), ctx.QueryParam("date"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get snapshot")
	}
	return writeJSON(ctx, http.StatusOK, snapshot)
}
