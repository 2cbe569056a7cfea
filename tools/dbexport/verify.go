package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/tphakala/birdnet-relay/internal/datastore"
)

// Verifier compares the source and target stores after an export.
type Verifier struct {
	source datastore.Interface
	target datastore.Interface
	out    io.Writer
}

// NewVerifier creates a new Verifier.
func NewVerifier(source, target datastore.Interface, out io.Writer) *Verifier {
	return &Verifier{source: source, target: target, out: out}
}

// Verify checks totals, dates and every event of every date.
func (v *Verifier) Verify(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := v.verifyTotals(ctx); err != nil {
		return fmt.Errorf("totals verification failed: %w", err)
	}

	dates, err := v.verifyDates(ctx)
	if err != nil {
		return fmt.Errorf("dates verification failed: %w", err)
	}

	for _, date := range dates {
		if err := v.verifyDate(ctx, date); err != nil {
			return fmt.Errorf("date %s: %w", date, err)
		}
	}
	fmt.Fprintf(v.out, "  %d dates verified\n", len(dates))
	return nil
}

func (v *Verifier) verifyTotals(ctx context.Context) error {
	src, err := v.source.Totals(ctx)
	if err != nil {
		return err
	}
	dst, err := v.target.Totals(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(v.out, "%-12s %12s %12s\n", "", "Source", "Target")
	fmt.Fprintf(v.out, "%-12s %12d %12d\n", "detections", src.Detections, dst.Detections)
	fmt.Fprintf(v.out, "%-12s %12d %12d\n", "birds", src.Birds, dst.Birds)

	if src != dst {
		return fmt.Errorf("totals do not match")
	}
	return nil
}

func (v *Verifier) verifyDates(ctx context.Context) ([]string, error) {
	src, err := v.source.AvailableDates(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := v.target.AvailableDates(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(src, dst) {
		return nil, fmt.Errorf("available dates differ: %d in source, %d in target", len(src), len(dst))
	}
	return src, nil
}

// verifyDate compares the full history of one date, event by event.
func (v *Verifier) verifyDate(ctx context.Context, date string) error {
	src, err := v.source.History(ctx, date, 0)
	if err != nil {
		return err
	}
	dst, err := v.target.History(ctx, date, 0)
	if err != nil {
		return err
	}
	if len(src) != len(dst) {
		return fmt.Errorf("event count mismatch (%d vs %d)", len(src), len(dst))
	}

	for i := range src {
		s, d := &src[i], &dst[i]
		switch {
		case s.ID != d.ID:
			return fmt.Errorf("position %d: ID mismatch (%d vs %d)", i, s.ID, d.ID)
		case s.Birds != d.Birds:
			return fmt.Errorf("event ID %d: birds mismatch (%d vs %d)", s.ID, s.Birds, d.Birds)
		case !s.OccurredAt.Equal(d.OccurredAt):
			return fmt.Errorf("event ID %d: occurred_at mismatch (%s vs %s)", s.ID, s.OccurredAt, d.OccurredAt)
		case s.DurationSeconds != d.DurationSeconds:
			return fmt.Errorf("event ID %d: duration mismatch (%g vs %g)", s.ID, s.DurationSeconds, d.DurationSeconds)
		}
	}
	return nil
}
