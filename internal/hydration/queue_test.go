package hydration

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trade-signalv1/internal/model"
)

func okExecutor(rows int, delay time.Duration) Executor {
	return func(_ context.Context, symbol, interval string, months int) model.BackfillStats {
		if delay > 0 {
			time.Sleep(delay)
		}
		return model.BackfillStats{
			OK: true, Symbol: symbol, Interval: interval, Months: months,
			Rows: rows, FetchedRows: rows,
		}
	}
}

func TestFIFOOrderAndMetrics(t *testing.T) {
	var mu sync.Mutex
	var started []string

	exec := func(_ context.Context, symbol, interval string, months int) model.BackfillStats {
		mu.Lock()
		started = append(started, symbol)
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return model.BackfillStats{OK: true, Symbol: symbol, Interval: interval, Months: months, Rows: 10}
	}

	q := New(context.Background(), exec, slog.Default())
	defer q.Stop()

	symbols := []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT", "EEEUSDT"}
	for _, s := range symbols {
		q.Enqueue(s, "15", 1)
	}

	q.WaitForIdle()

	mu.Lock()
	defer mu.Unlock()
	if len(started) != 5 {
		t.Fatalf("started %d tasks, want 5", len(started))
	}
	for i, s := range symbols {
		if started[i] != s {
			t.Errorf("start order[%d] = %s, want %s", i, started[i], s)
		}
	}

	m := q.Metrics()
	if m.SucceededTotal != 5 || m.FailedTotal != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.QueueLength != 0 || m.Running != 0 {
		t.Errorf("queue not drained: %+v", m)
	}

	// started_at must be monotone across enqueue order.
	snaps := q.Snapshot("", "")
	for i := 1; i < len(snaps); i++ {
		if snaps[i].StartedAt < snaps[i-1].StartedAt {
			t.Errorf("started_at not monotone: %d < %d", snaps[i].StartedAt, snaps[i-1].StartedAt)
		}
	}
}

func TestInvalidIntervalFailsFast(t *testing.T) {
	q := New(context.Background(), okExecutor(1, 0), slog.Default())
	defer q.Stop()

	id := q.Enqueue("BTCUSDT", "7", 1)
	snap, ok := q.Task(id)
	if !ok {
		t.Fatal("task not recorded")
	}
	if snap.State != model.TaskFailed || snap.Error != "invalid_interval" {
		t.Errorf("snap = %+v", snap)
	}
	if m := q.Metrics(); m.FailedTotal != 1 || m.EnqueuedTotal != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestTerminalStateImmutable(t *testing.T) {
	q := New(context.Background(), okExecutor(7, 0), slog.Default())
	defer q.Stop()

	id := q.Enqueue("BTCUSDT", "15", 2)
	q.WaitForIdle()

	first, _ := q.Task(id)
	if first.State != model.TaskDone {
		t.Fatalf("state = %s", first.State)
	}
	// More work on other tasks must not disturb the terminal record.
	q.Enqueue("ETHUSDT", "60", 1)
	q.WaitForIdle()

	second, _ := q.Task(id)
	if second != first {
		t.Errorf("terminal task mutated: %+v vs %+v", second, first)
	}
}

func TestExecutorPanicFailsTask(t *testing.T) {
	exec := func(_ context.Context, _, _ string, _ int) model.BackfillStats {
		panic("boom")
	}
	q := New(context.Background(), exec, slog.Default())
	defer q.Stop()

	id := q.Enqueue("BTCUSDT", "15", 1)
	q.WaitForIdle()

	snap, _ := q.Task(id)
	if snap.State != model.TaskFailed {
		t.Errorf("state = %s, want failed", snap.State)
	}
}

func TestSnapshotFilters(t *testing.T) {
	q := New(context.Background(), okExecutor(1, 0), slog.Default())
	defer q.Stop()

	q.Enqueue("BTCUSDT", "15", 1)
	q.Enqueue("BTCUSDT", "60", 1)
	q.Enqueue("ETHUSDT", "15", 1)
	q.WaitForIdle()

	if got := len(q.Snapshot("BTCUSDT", "")); got != 2 {
		t.Errorf("BTCUSDT tasks = %d, want 2", got)
	}
	if got := len(q.Snapshot("BTCUSDT", "60")); got != 1 {
		t.Errorf("BTCUSDT/60 tasks = %d, want 1", got)
	}
	if got := len(q.Snapshot("", "")); got != 3 {
		t.Errorf("all tasks = %d, want 3", got)
	}
}

func TestOnTerminalObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []model.TaskSnapshot

	q := New(context.Background(), okExecutor(3, 0), slog.Default())
	q.OnTerminal = func(s model.TaskSnapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	defer q.Stop()

	q.Enqueue("BTCUSDT", "15", 1)
	q.Enqueue("BTCUSDT", "bogus", 1)
	q.WaitForIdle()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observed %d terminal tasks, want 2", len(seen))
	}
}
