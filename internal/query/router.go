// Package query answers date-scoped history, stats and available-dates
// requests. The HTTP API and the subscription hub both go through a Router,
// so the two surfaces return the same payloads for the same parameters.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// Store is the read side of the event store.
type Store interface {
	History(ctx context.Context, date string, limit int) ([]datastore.DetectionEvent, error)
	AvailableDates(ctx context.Context) ([]string, error)
}

// StatsSource computes the global stats.
type StatsSource interface {
	Compute(ctx context.Context) (protocol.Stats, error)
}

// Router resolves query parameters and reads from the store.
type Router struct {
	store        Store
	stats        StatsSource
	clock        *clock.Clock
	defaultLimit int
	maxLimit     int
}

// NewRouter creates a Router using the query limits from settings.
func NewRouter(store Store, stats StatsSource, clk *clock.Clock, settings *conf.QuerySettings) *Router {
	return &Router{
		store:        store,
		stats:        stats,
		clock:        clk,
		defaultLimit: settings.DefaultLimit,
		maxLimit:     settings.MaxLimit,
	}
}

// ResolveDate maps "" or "latest" to today and validates anything else.
func (r *Router) ResolveDate(selector string) (string, error) {
	return r.clock.Resolve(selector)
}

// DefaultLimit returns the history limit applied when none is given.
func (r *Router) DefaultLimit() int {
	return r.defaultLimit
}

// ParseLimit parses a textual limit. An empty value yields the default.
func (r *Router) ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(fmt.Errorf("invalid limit %q: not an integer", raw)).
			Component("query").
			Category(errors.CategoryInvalidArgument).
			Context("limit", raw).
			Build()
	}
	if err := r.checkLimit(limit); err != nil {
		return 0, err
	}
	return limit, nil
}

func (r *Router) checkLimit(limit int) error {
	if limit < 1 || limit > r.maxLimit {
		return errors.New(fmt.Errorf("invalid limit %d: must be between 1 and %d", limit, r.maxLimit)).
			Component("query").
			Category(errors.CategoryInvalidArgument).
			Context("limit", limit).
			Context("max_limit", r.maxLimit).
			Build()
	}
	return nil
}

// History returns up to limit events of the selected date, newest first.
func (r *Router) History(ctx context.Context, selector string, limit int) (protocol.History, error) {
	date, err := r.ResolveDate(selector)
	if err != nil {
		return protocol.History{}, err
	}
	if err := r.checkLimit(limit); err != nil {
		return protocol.History{}, err
	}

	events, err := r.store.History(ctx, date, limit)
	if err != nil {
		return protocol.History{}, err
	}
	return protocol.History{Date: date, Events: datastore.EventsToProtocol(events)}.Normalize(), nil
}

// Stats returns the global stats.
func (r *Router) Stats(ctx context.Context) (protocol.Stats, error) {
	return r.stats.Compute(ctx)
}

// AvailableDates returns every date that has at least one event, newest first.
// Today is listed as soon as it has an event.
func (r *Router) AvailableDates(ctx context.Context) (protocol.AvailableDates, error) {
	dates, err := r.store.AvailableDates(ctx)
	if err != nil {
		return protocol.AvailableDates{}, err
	}
	return protocol.AvailableDates{Dates: dates}.Normalize(), nil
}

// Snapshot returns every event of the selected date together with the stats.
func (r *Router) Snapshot(ctx context.Context, selector string) (protocol.Snapshot, error) {
	date, err := r.ResolveDate(selector)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	return r.SnapshotOf(ctx, date)
}

// SnapshotOf builds the snapshot of an already resolved date.
func (r *Router) SnapshotOf(ctx context.Context, date string) (protocol.Snapshot, error) {
	events, err := r.store.History(ctx, date, 0)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	stats, err := r.stats.Compute(ctx)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	return protocol.Snapshot{
		Date:    date,
		History: datastore.EventsToProtocol(events),
		Stats:   stats,
	}.Normalize(), nil
}
