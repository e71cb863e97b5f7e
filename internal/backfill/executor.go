// Package backfill brings a (symbol, timeframe) candle store up to
// date from the exchange and emits the cleaned variant.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/exchange"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

const (
	batchBars = 1000
	// monthMS approximates one month as 30.5 days.
	monthMS = int64(30.5 * 24 * 60 * 60 * 1000)

	defaultThrottle   = 60 * time.Millisecond
	defaultRetryDelay = 200 * time.Millisecond
	// maxRetries is how many times a failed fetch for the same cursor
	// is retried; the next consecutive failure ends the backfill.
	maxRetries = 5
)

// Executor runs backfills against a fetcher and a candle store.
type Executor struct {
	Store   *candlestore.Store
	Fetcher exchange.KlineFetcher
	Log     *slog.Logger

	// Throttle is the pause between batches; RetryDelay the pause
	// before retrying a failed batch. Both are overridable in tests.
	Throttle   time.Duration
	RetryDelay time.Duration

	// Now is overridable in tests; defaults to wall clock ms.
	Now func() int64
}

// New creates an Executor.
func New(store *candlestore.Store, fetcher exchange.KlineFetcher, log *slog.Logger) *Executor {
	return &Executor{
		Store:      store,
		Fetcher:    fetcher,
		Log:        log,
		Throttle:   defaultThrottle,
		RetryDelay: defaultRetryDelay,
		Now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Run fetches the last `months` months of candles for (symbol, tf),
// merges them into the raw store, trims to the window and rewrites the
// clean variant. months is clamped to [1, 36]. Failures never leave a
// partially written store: both variants are rewritten in one pass
// through a temp file only after the fetch loop completes.
func (e *Executor) Run(ctx context.Context, symbol, interval string, months int) model.BackfillStats {
	symbol = strings.ToUpper(symbol)
	canon := symbols.CanonicalInterval(interval)
	stats := model.BackfillStats{
		Symbol:            symbol,
		Interval:          interval,
		CanonicalInterval: canon,
		Months:            clampMonths(months),
	}
	if canon == "" {
		stats.Error = model.ErrInvalidInterval.Error()
		return stats
	}
	stats.Interval = canon

	nowMS := e.Now()
	sinceMS := nowMS - int64(stats.Months)*monthMS

	merged, _, err := e.Store.Read(symbol, canon)
	if err != nil {
		stats.Error = err.Error()
		return stats
	}

	fetched, skipped, err := e.fetchWindow(ctx, symbol, canon, sinceMS, nowMS, merged)
	stats.FetchedRows = fetched
	stats.SkippedRows = skipped
	if err != nil {
		stats.Error = err.Error()
		return stats
	}

	// Trim to [since, inf) so invariant 3 holds after every run.
	for ts := range merged {
		if ts < sinceMS {
			delete(merged, ts)
		}
	}

	if err := e.Store.Write(symbol, canon, merged); err != nil {
		stats.Error = err.Error()
		return stats
	}
	if err := e.Store.WriteClean(symbol, canon, merged); err != nil {
		stats.Error = err.Error()
		return stats
	}

	stats.OK = true
	stats.Rows = len(merged)
	return stats
}

// FillRange fetches one explicit [from, to] window into the existing
// store without trimming. Used by the pipeline gap refill step.
func (e *Executor) FillRange(ctx context.Context, symbol, interval string, from, to int64) model.BackfillStats {
	symbol = strings.ToUpper(symbol)
	canon := symbols.CanonicalInterval(interval)
	stats := model.BackfillStats{Symbol: symbol, Interval: canon, CanonicalInterval: canon}
	if canon == "" {
		stats.Error = model.ErrInvalidInterval.Error()
		return stats
	}

	merged, _, err := e.Store.Read(symbol, canon)
	if err != nil {
		stats.Error = err.Error()
		return stats
	}
	// The cursor loop is exclusive at the end; pad by one frame so a
	// single-bar range still fetches.
	fetched, skipped, err := e.fetchWindow(ctx, symbol, canon, from, to+symbols.FrameMS(canon), merged)
	stats.FetchedRows = fetched
	stats.SkippedRows = skipped
	if err != nil {
		stats.Error = err.Error()
		return stats
	}
	if err := e.Store.Write(symbol, canon, merged); err != nil {
		stats.Error = err.Error()
		return stats
	}
	if err := e.Store.WriteClean(symbol, canon, merged); err != nil {
		stats.Error = err.Error()
		return stats
	}
	stats.OK = true
	stats.Rows = len(merged)
	return stats
}

// fetchWindow walks the cursor forward over [sinceMS, endMS], merging
// parsed rows into merged. Returns fetched and skipped row counts.
func (e *Executor) fetchWindow(ctx context.Context, symbol, canon string, sinceMS, endMS int64, merged map[int64]string) (int, int, error) {
	frame := symbols.FrameMS(canon)
	cursor := sinceMS
	fetched, skipped := 0, 0
	failures := 0

	for cursor < endMS {
		if err := ctx.Err(); err != nil {
			return fetched, skipped, err
		}

		batchEnd := cursor + frame*batchBars
		if batchEnd > endMS {
			batchEnd = endMS
		}

		rows, err := e.Fetcher.Fetch(ctx, symbol, canon, cursor, batchEnd, batchBars)
		if err != nil {
			failures++
			if failures > maxRetries {
				return fetched, skipped, fmt.Errorf("fetch %s %s at cursor %d: %w", symbol, canon, cursor, err)
			}
			e.Log.Warn("backfill fetch retry",
				slog.String("symbol", symbol), slog.String("interval", canon),
				slog.Int64("cursor", cursor), slog.Int("attempt", failures), slog.String("err", err.Error()))
			sleep(ctx, e.RetryDelay)
			continue
		}
		failures = 0

		bars := parseBatch(rows, &skipped)
		// The exchange may return either order; canonical is ascending.
		sort.Slice(bars, func(i, j int) bool { return bars[i].ts < bars[j].ts })

		var lastTS int64
		progressed := false
		for _, b := range bars {
			if b.ts < cursor || b.ts > batchEnd {
				continue
			}
			merged[b.ts] = b.line
			fetched++
			progressed = true
			lastTS = b.ts
		}

		if progressed {
			cursor = lastTS + frame
		} else {
			// Avoid livelock on repeated empty windows.
			cursor += frame
		}

		sleep(ctx, e.Throttle)
	}
	return fetched, skipped, nil
}

type bar struct {
	ts   int64
	line string
}

// parseBatch keeps rows that are 7-tuples with a parseable timestamp;
// malformed rows are counted and discarded.
func parseBatch(rows [][]string, skipped *int) []bar {
	out := make([]bar, 0, len(rows))
	for _, r := range rows {
		if len(r) != 7 {
			*skipped++
			continue
		}
		ts, ok := candlestore.ParseTS(r[0])
		if !ok {
			*skipped++
			continue
		}
		out = append(out, bar{ts: ts, line: strings.Join(r, ",")})
	}
	return out
}

func clampMonths(months int) int {
	if months < 1 {
		return 1
	}
	if months > 36 {
		return 36
	}
	return months
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
