// Package aggregator computes the global statistics shown on every dashboard.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// Store is the subset of the event store the aggregator reads.
type Store interface {
	Summary(ctx context.Context, date string) (datastore.Summary, error)
	Revision() uint64
}

// Aggregator derives Stats from the event store.
type Aggregator struct {
	store Store
	clock *clock.Clock
	cache *cache.Cache // nil when caching is disabled
}

// New returns an Aggregator. A ttl of zero disables caching.
func New(store Store, clk *clock.Clock, ttl time.Duration) *Aggregator {
	a := &Aggregator{store: store, clock: clk}
	if ttl > 0 {
		// No janitor goroutine; expired entries are pruned on write.
		a.cache = cache.New(ttl, 0)
	}
	return a
}

// Compute returns the current stats. Today is resolved at call time, so the
// today_* counters roll over at midnight without a scheduled job.
func (a *Aggregator) Compute(ctx context.Context) (protocol.Stats, error) {
	today := a.clock.Today()
	revision := a.store.Revision()
	key := cacheKey(today, revision)

	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			return cached.(protocol.Stats), nil
		}
	}

	summary, err := a.store.Summary(ctx, today)
	if err != nil {
		return protocol.Stats{}, err
	}

	stats := protocol.Stats{
		TotalDetections: summary.All.Detections,
		TotalBirds:      summary.All.Birds,
		TodayDetections: summary.Day.Detections,
		TodayBirds:      summary.Day.Birds,
	}

	// An append that landed while computing may or may not be included, so
	// only cache when the revision did not move.
	if a.cache != nil && a.store.Revision() == revision {
		a.cache.DeleteExpired()
		a.cache.SetDefault(key, stats)
	}
	return stats, nil
}

func cacheKey(date string, revision uint64) string {
	return fmt.Sprintf("%s#%d", date, revision)
}
