package datastore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/errors"
)

func detection(date string, at time.Time, birds int) *DetectionEvent {
	return &DetectionEvent{
		Birds:           birds,
		OccurredAt:      at,
		DurationSeconds: 1.5,
		ObservationDate: date,
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store Interface) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		dates, err := store.AvailableDates(ctx)
		require.NoError(t, err)
		assert.Empty(t, dates)

		totals, err := store.Totals(ctx)
		require.NoError(t, err)
		assert.Equal(t, Totals{}, totals)

		events, err := store.History(ctx, "2024-05-01", 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	first := detection("2024-05-01", day.Add(10*time.Hour), 3)
	second := detection("2024-05-01", day.Add(10*time.Hour+5*time.Minute), 2)
	// same instant as second, later id wins the tie
	third := detection("2024-05-01", day.Add(10*time.Hour+5*time.Minute), 1)
	other := detection("2024-04-30", day.Add(-2*time.Hour), 4)

	t.Run("append assigns ids and bumps revision", func(t *testing.T) {
		before := store.Revision()
		for _, e := range []*DetectionEvent{first, second, third, other} {
			require.NoError(t, store.Append(ctx, e))
			assert.NotZero(t, e.ID)
		}
		assert.Equal(t, before+4, store.Revision())
		assert.Less(t, first.ID, second.ID)
		assert.Less(t, second.ID, third.ID)
	})

	t.Run("history is date scoped and newest first", func(t *testing.T) {
		events, err := store.History(ctx, "2024-05-01", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)

		assert.Equal(t, third.ID, events[0].ID)
		assert.Equal(t, second.ID, events[1].ID)
		assert.Equal(t, first.ID, events[2].ID)
		assert.True(t, events[2].OccurredAt.Equal(first.OccurredAt))
		assert.InDelta(t, 1.5, events[0].DurationSeconds, 1e-9)
		for _, e := range events {
			assert.Equal(t, "2024-05-01", e.ObservationDate)
		}

		limited, err := store.History(ctx, "2024-05-01", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, third.ID, limited[0].ID)
	})

	t.Run("totals law", func(t *testing.T) {
		totals, err := store.Totals(ctx)
		require.NoError(t, err)
		assert.Equal(t, Totals{Detections: 4, Birds: 10}, totals)

		day1, err := store.DailyTotals(ctx, "2024-05-01")
		require.NoError(t, err)
		day2, err := store.DailyTotals(ctx, "2024-04-30")
		require.NoError(t, err)

		assert.Equal(t, Totals{Detections: 3, Birds: 6}, day1)
		assert.Equal(t, totals.Detections, day1.Detections+day2.Detections)
		assert.Equal(t, totals.Birds, day1.Birds+day2.Birds)

		none, err := store.DailyTotals(ctx, "1999-01-01")
		require.NoError(t, err)
		assert.Equal(t, Totals{}, none)

		summary, err := store.Summary(ctx, "2024-05-01")
		require.NoError(t, err)
		assert.Equal(t, Summary{All: totals, Day: day1}, summary)

		summary, err = store.Summary(ctx, "1999-01-01")
		require.NoError(t, err)
		assert.Equal(t, Summary{All: totals}, summary)
	})

	t.Run("available dates descending", func(t *testing.T) {
		dates, err := store.AvailableDates(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-05-01", "2024-04-30"}, dates)
	})

	t.Run("invalid event rejected", func(t *testing.T) {
		before := store.Revision()
		err := store.Append(ctx, detection("2024-05-01", day, -1))
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.Equal(t, before, store.Revision())
	})

	t.Run("concurrent appends", func(t *testing.T) {
		before := store.Revision()
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Go(func() {
				e := detection("2024-05-02", day.Add(24*time.Hour+time.Duration(i)*time.Second), 1)
				assert.NoError(t, store.Append(ctx, e))
			})
			wg.Go(func() {
				summary, err := store.Summary(ctx, "2024-05-02")
				if assert.NoError(t, err) {
					assert.LessOrEqual(t, summary.Day.Detections, summary.All.Detections)
					assert.LessOrEqual(t, summary.Day.Birds, summary.All.Birds)
				}
			})
		}
		wg.Wait()

		assert.Equal(t, before+10, store.Revision())
		daily, err := store.DailyTotals(ctx, "2024-05-02")
		require.NoError(t, err)
		assert.Equal(t, int64(10), daily.Detections)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
