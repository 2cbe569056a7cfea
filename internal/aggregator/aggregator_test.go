package aggregator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

type mockStore struct {
	mock.Mock
	revision atomic.Uint64
}

func (m *mockStore) Summary(ctx context.Context, date string) (datastore.Summary, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(datastore.Summary), args.Error(1)
}

func (m *mockStore) Revision() uint64 {
	return m.revision.Load()
}

func summary(total, totalBirds, day, dayBirds int64) datastore.Summary {
	return datastore.Summary{
		All: datastore.Totals{Detections: total, Birds: totalBirds},
		Day: datastore.Totals{Detections: day, Birds: dayBirds},
	}
}

func fixedClock(now time.Time) *clock.Clock {
	return clock.NewWithNow(time.UTC, func() time.Time { return now })
}

func TestComputeUsesToday(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("Summary", mock.Anything, "2024-05-01").Return(summary(5, 12, 2, 5), nil)

	a := New(store, fixedClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), 0)
	stats, err := a.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, protocol.Stats{TotalDetections: 5, TotalBirds: 12, TodayDetections: 2, TodayBirds: 5}, stats)
	store.AssertExpectations(t)
}

func TestCacheServesUntilRevisionChanges(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("Summary", mock.Anything, "2024-05-01").Return(summary(1, 1, 1, 1), nil).Once()

	a := New(store, fixedClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), time.Minute)
	first, err := a.Compute(context.Background())
	require.NoError(t, err)

	second, err := a.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	store.AssertNumberOfCalls(t, "Summary", 1)

	// an append bumps the revision, the next compute must go to the store
	store.revision.Add(1)
	store.On("Summary", mock.Anything, "2024-05-01").Return(summary(2, 4, 2, 4), nil).Once()

	third, err := a.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.TotalDetections)
	store.AssertNumberOfCalls(t, "Summary", 2)
}

func TestCacheKeyFollowsMidnight(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)
	clk := clock.NewWithNow(time.UTC, func() time.Time { return now })

	store := &mockStore{}
	store.On("Summary", mock.Anything, "2024-05-01").Return(summary(3, 3, 3, 3), nil)
	store.On("Summary", mock.Anything, "2024-05-02").Return(summary(3, 3, 0, 0), nil)

	a := New(store, clk, time.Hour)
	before, err := a.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), before.TodayDetections)

	now = now.Add(2 * time.Second)
	after, err := a.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.TodayDetections)
	assert.Equal(t, int64(3), after.TotalDetections)
}

// revisionBumpingStore simulates an append landing mid-compute.
type revisionBumpingStore struct {
	mockStore
}

func (s *revisionBumpingStore) Summary(ctx context.Context, date string) (datastore.Summary, error) {
	s.revision.Add(1)
	return s.mockStore.Summary(ctx, date)
}

func TestNoCachingWhenAppendRacesCompute(t *testing.T) {
	t.Parallel()

	store := &revisionBumpingStore{}
	store.On("Summary", mock.Anything, mock.Anything).Return(summary(1, 1, 0, 0), nil)

	a := New(store, fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), time.Hour)
	_, err := a.Compute(context.Background())
	require.NoError(t, err)
	_, err = a.Compute(context.Background())
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "Summary", 2)
}

func TestComputePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("Summary", mock.Anything, mock.Anything).Return(datastore.Summary{}, errors.StoreUnavailable(errors.NewStd("closed")))

	a := New(store, fixedClock(time.Now()), time.Minute)
	_, err := a.Compute(context.Background())
	assert.True(t, errors.IsStoreUnavailable(err))
}

func TestTodayNeverExceedsTotalUnderAppends(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "relay.db")
	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := New(store, fixedClock(now), 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Go(func() {
		for i := range 50 {
			assert.NoError(t, store.Append(ctx, &datastore.DetectionEvent{
				Birds:           2,
				OccurredAt:      now.Add(time.Duration(i) * time.Second),
				ObservationDate: "2024-05-01",
			}))
		}
	})
	wg.Go(func() {
		for range 50 {
			stats, err := a.Compute(ctx)
			if !assert.NoError(t, err) {
				return
			}
			assert.LessOrEqual(t, stats.TodayDetections, stats.TotalDetections)
			assert.LessOrEqual(t, stats.TodayBirds, stats.TotalBirds)
		}
	})
	wg.Wait()

	stats, err := a.Compute(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Stats{TotalDetections: 50, TotalBirds: 100, TodayDetections: 50, TodayBirds: 100}, stats)
}
