// Package scheduler re-hydrates a configured symbol set at every
// 15-minute boundary, always through the hydration queue.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"trade-signalv1/internal/hydration"
	"trade-signalv1/internal/symbols"
)

const boundary = 15 * time.Minute

// AutoBackfill enqueues hydration tasks on a fixed cadence.
type AutoBackfill struct {
	Queue   *hydration.Queue
	Symbols []string
	Months  int
	Log     *slog.Logger
}

// Run blocks until ctx is cancelled, firing at each 15-minute wall
// clock boundary.
func (a *AutoBackfill) Run(ctx context.Context) {
	a.Log.Info("auto-backfill started", slog.Int("symbols", len(a.Symbols)))
	for {
		next := time.Now().Truncate(boundary).Add(boundary)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		for _, sym := range a.Symbols {
			for _, tf := range symbols.Intervals() {
				a.Queue.Enqueue(sym, tf, a.Months)
			}
		}
		a.Log.Info("auto-backfill cycle enqueued", slog.Int("symbols", len(a.Symbols)))
	}
}
