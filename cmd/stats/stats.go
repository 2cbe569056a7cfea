// Package stats provides read-only commands that query the configured event store.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-relay/internal/aggregator"
	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/query"
)

const queryTimeout = 30 * time.Second

// Command creates the stats command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print detection and bird totals from the event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouter(cmd.Context(), settings, func(ctx context.Context, r *query.Router) error {
				stats, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

// DatesCommand creates the dates command.
func DatesCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "Print the observation dates that have detections, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouter(cmd.Context(), settings, func(ctx context.Context, r *query.Router) error {
				dates, err := r.AvailableDates(ctx)
				if err != nil {
					return err
				}
				for _, date := range dates.Dates {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), date); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// withRouter opens the store, runs fn against a query router and closes the store.
func withRouter(parent context.Context, settings *conf.Settings, fn func(context.Context, *query.Router) error) error {
	clk, err := clock.New(settings.Main.Timezone)
	if err != nil {
		return err
	}
	store, err := datastore.New(settings)
	if err != nil {
		return err
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, queryTimeout)
	defer cancel()

	return fn(ctx, query.NewRouter(store, aggregator.New(store, clk, 0), clk, &settings.Query))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
