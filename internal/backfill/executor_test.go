package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"testing"

	"trade-signalv1/internal/candlestore"
)

// fakeFetcher serves a fixed candle series and can fail on demand.
type fakeFetcher struct {
	bars     map[int64][]string // ts -> 7-field row
	failures int                // consecutive failures to inject
	calls    int
	reversed bool // serve newest-first, as the live exchange sometimes does
	badRows  int  // malformed rows to prepend per batch
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol, interval string, start, end int64, limit int) ([][]string, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("upstream unavailable")
	}
	var out [][]string
	for i := 0; i < f.badRows; i++ {
		out = append(out, []string{"not-a-ts", "1", "2", "3", "4", "5", "6"})
	}
	for ts, row := range f.bars {
		if ts >= start && ts <= end && len(out) < limit {
			out = append(out, row)
		}
	}
	if f.reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func seriesBars(base int64, frame int64, n int) map[int64][]string {
	bars := make(map[int64][]string, n)
	for i := 0; i < n; i++ {
		ts := base + int64(i)*frame
		px := fmt.Sprintf("%d", 100+i)
		bars[ts] = []string{strconv.FormatInt(ts, 10), px, px, px, px, "10", "1000"}
	}
	return bars
}

func newTestExecutor(t *testing.T, f *fakeFetcher, nowMS int64) *Executor {
	t.Helper()
	store, err := candlestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := New(store, f, slog.Default())
	e.Now = func() int64 { return nowMS }
	e.Throttle = 0
	e.RetryDelay = 0
	return e
}

func TestRunHappyPath(t *testing.T) {
	const frame = int64(900_000)
	now := int64(1_700_100_000_000)
	since := now - monthMS
	base := since - (since % frame) + frame
	f := &fakeFetcher{bars: seriesBars(base, frame, 500), reversed: true, badRows: 2}

	e := newTestExecutor(t, f, now)
	stats := e.Run(context.Background(), "btcusdt", "15", 1)

	if !stats.OK {
		t.Fatalf("stats not ok: %+v", stats)
	}
	if stats.Rows != 500 || stats.FetchedRows != 500 {
		t.Errorf("rows=%d fetched=%d, want 500/500", stats.Rows, stats.FetchedRows)
	}
	if stats.SkippedRows == 0 {
		t.Error("expected skipped malformed rows to be counted")
	}
	if stats.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", stats.Symbol)
	}

	// Store must be strictly ascending, within window, 6-col clean.
	m, usedClean, err := e.Store.LoadOHLCV("BTCUSDT", "15")
	if err != nil {
		t.Fatalf("LoadOHLCV: %v", err)
	}
	if !usedClean {
		t.Error("clean variant not written")
	}
	for i := 1; i < len(m); i++ {
		if m[i][0] <= m[i-1][0] {
			t.Fatalf("timestamps not strictly ascending at %d", i)
		}
	}
	if int64(m[0][0]) < since {
		t.Errorf("retained ts %d before window start %d", int64(m[0][0]), since)
	}
}

func TestRunTrimsOldRows(t *testing.T) {
	const frame = int64(900_000)
	now := int64(1_700_100_000_000)
	f := &fakeFetcher{bars: map[int64][]string{}}
	e := newTestExecutor(t, f, now)

	// Pre-seed the store with a row far outside the window.
	old := map[int64]string{1_000: "1000,1,1,1,1,1,1"}
	if err := e.Store.Write("BTCUSDT", "15", old); err != nil {
		t.Fatal(err)
	}
	stats := e.Run(context.Background(), "BTCUSDT", "15", 1)
	if !stats.OK {
		t.Fatalf("stats: %+v", stats)
	}
	data, _, err := e.Store.Read("BTCUSDT", "15")
	if err != nil {
		t.Fatal(err)
	}
	if _, kept := data[1_000]; kept {
		t.Error("row outside window survived trim")
	}
	_ = frame
}

func TestRunRetriesThenFails(t *testing.T) {
	now := int64(1_700_100_000_000)
	f := &fakeFetcher{bars: map[int64][]string{}, failures: 100}
	e := newTestExecutor(t, f, now)

	stats := e.Run(context.Background(), "BTCUSDT", "15", 1)
	if stats.OK {
		t.Fatal("expected failure after retry budget")
	}
	if stats.Error == "" {
		t.Error("error string not populated")
	}
	if f.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", f.calls, maxRetries+1)
	}
}

func TestRunRecoversWithinRetryBudget(t *testing.T) {
	now := int64(1_700_100_000_000)
	f := &fakeFetcher{bars: map[int64][]string{}, failures: 3}
	e := newTestExecutor(t, f, now)

	stats := e.Run(context.Background(), "BTCUSDT", "15", 1)
	if !stats.OK {
		t.Fatalf("expected recovery, got %+v", stats)
	}
}

func TestRunInvalidInterval(t *testing.T) {
	e := newTestExecutor(t, &fakeFetcher{}, 1_700_100_000_000)
	stats := e.Run(context.Background(), "BTCUSDT", "7", 1)
	if stats.OK || stats.Error != "invalid_interval" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMonthsClamping(t *testing.T) {
	if clampMonths(0) != 1 || clampMonths(-4) != 1 {
		t.Error("low clamp broken")
	}
	if clampMonths(100) != 36 {
		t.Error("high clamp broken")
	}
	if clampMonths(6) != 6 {
		t.Error("identity broken")
	}
}

func TestFillRangeClosesGap(t *testing.T) {
	const frame = int64(900_000)
	base := int64(1_700_000_100_000)
	base -= base % frame
	f := &fakeFetcher{bars: seriesBars(base, frame, 10)}
	e := newTestExecutor(t, f, base+20*frame)

	// Seed a store missing bars 3..6.
	seed := make(map[int64]string)
	for i := 0; i < 10; i++ {
		if i >= 3 && i <= 6 {
			continue
		}
		ts := base + int64(i)*frame
		seed[ts] = fmt.Sprintf("%d,1,1,1,1,1,1", ts)
	}
	if err := e.Store.Write("BTCUSDT", "15", seed); err != nil {
		t.Fatal(err)
	}

	stats := e.FillRange(context.Background(), "BTCUSDT", "15", base+3*frame, base+6*frame)
	if !stats.OK {
		t.Fatalf("FillRange: %+v", stats)
	}
	gapped, err := candlestore.HasGaps15m(e.Store.CleanPath("BTCUSDT", "15"))
	if err != nil {
		t.Fatal(err)
	}
	if gapped {
		t.Error("gap not closed")
	}
}
