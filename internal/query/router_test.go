package query

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/aggregator"
	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

type fixture struct {
	store  datastore.Interface
	clock  *clock.Clock
	router *Router
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "relay.db")
	settings.Query = conf.QuerySettings{DefaultLimit: 50, MaxLimit: 1000, StatsCacheTTL: 2 * time.Second}

	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewWithNow(time.UTC, func() time.Time { return now })
	agg := aggregator.New(store, clk, settings.Query.StatsCacheTTL)
	return &fixture{store: store, clock: clk, router: NewRouter(store, agg, clk, &settings.Query)}
}

func (f *fixture) append(t *testing.T, at time.Time, birds int) {
	t.Helper()
	require.NoError(t, f.store.Append(context.Background(), &datastore.DetectionEvent{
		Birds:           birds,
		OccurredAt:      at,
		DurationSeconds: 2,
		ObservationDate: f.clock.DateOf(at),
	}))
}

func TestEmptyStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	dates, err := f.router.AvailableDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, dates.Dates)

	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Stats{}, stats)

	history, err := f.router.History(ctx, "latest", 50)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", history.Date)

	encoded, err := json.Marshal(history)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-05-01","events":[]}`, string(encoded))
}

func TestTwoDetectionsScenario(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	f.append(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), 3)
	f.append(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), 2)

	history, err := f.router.History(ctx, "2024-05-01", 50)
	require.NoError(t, err)
	require.Len(t, history.Events, 2)
	assert.Equal(t, 2, history.Events[0].Count, "10:05 event comes first")
	assert.Equal(t, 3, history.Events[1].Count)

	stats, err := f.router.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Stats{TotalDetections: 2, TotalBirds: 5, TodayDetections: 2, TodayBirds: 5}, stats)

	dates, err := f.router.AvailableDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01"}, dates.Dates, "today is listed once it has events")
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		f.append(t, base.Add(time.Duration(i)*time.Minute), 1)
	}
	f.append(t, base.Add(-24*time.Hour), 9)

	history, err := f.router.History(context.Background(), "2024-05-01", 3)
	require.NoError(t, err)
	require.Len(t, history.Events, 3)
	for i := 1; i < len(history.Events); i++ {
		assert.False(t, history.Events[i].OccurredAt.After(history.Events[i-1].OccurredAt))
	}
	for _, e := range history.Events {
		assert.Equal(t, "2024-05-01", e.ObservationDate)
	}
}

func TestHistoryRejectsBadArguments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	tests := []struct {
		name     string
		selector string
		limit    int
	}{
		{"day first date", "01-05-2024", 10},
		{"slashes", "2024/05/01", 10},
		{"zero limit", "latest", 0},
		{"negative limit", "latest", -1},
		{"limit over max", "latest", 1001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.History(ctx, tt.selector, tt.limit)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Now())

	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 50, false},
		{" 25 ", 25, false},
		{"1000", 1000, false},
		{"0", 0, true},
		{"1001", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := f.router.ParseLimit(tt.raw)
		if tt.wantErr {
			assert.True(t, errors.IsInvalidArgument(err), "raw %q", tt.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestSnapshotIsUncappedAndStable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 60 {
		f.append(t, base.Add(time.Duration(i)*time.Minute), 1)
	}

	ctx := context.Background()
	first, err := f.router.Snapshot(ctx, "latest")
	require.NoError(t, err)
	assert.Len(t, first.History, 60)
	assert.Equal(t, int64(60), first.Stats.TodayDetections)

	second, err := f.router.Snapshot(ctx, "2024-05-01")
	require.NoError(t, err)

	a, err := protocol.Encode(protocol.TypeSnapshotResult, first)
	require.NoError(t, err)
	b, err := protocol.Encode(protocol.TypeSnapshotResult, second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSnapshotOfPastDateKeepsGlobalStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	f.append(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), 4)
	f.append(t, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), 1)

	snapshot, err := f.router.Snapshot(context.Background(), "2024-05-01")
	require.NoError(t, err)
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, 4, snapshot.History[0].Count)
	assert.Equal(t, protocol.Stats{TotalDetections: 2, TotalBirds: 5, TodayDetections: 1, TodayBirds: 1}, snapshot.Stats)
}

func TestStoreUnavailablePropagates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Now())
	require.NoError(t, f.store.Close())

	_, err := f.router.History(context.Background(), "latest", 10)
	assert.True(t, errors.IsStoreUnavailable(err))
	_, err = f.router.Snapshot(context.Background(), "latest")
	assert.True(t, errors.IsStoreUnavailable(err))
}
