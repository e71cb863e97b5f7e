// Package hydration serializes per-symbol backfill work through a
// single-worker FIFO queue with per-task state tracking.
package hydration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

// Executor performs the actual backfill for one task.
type Executor func(ctx context.Context, symbol, interval string, months int) model.BackfillStats

type task struct {
	id         uint64
	symbol     string
	interval   string
	months     int
	state      string
	err        string
	enqueuedAt int64
	startedAt  int64
	finishedAt int64
	backfill   model.BackfillStats
}

// Queue is the hydration queue: O(1) enqueue, one worker goroutine,
// tasks execute serially in enqueue order.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond // signals the worker
	idle  *sync.Cond // signals WaitForIdle
	queue []*task
	tasks map[uint64]*task
	stop  bool

	executor Executor
	running  int

	nextID         atomic.Uint64
	enqueuedTotal  atomic.Uint64
	succeededTotal atomic.Uint64
	failedTotal    atomic.Uint64

	// OnTerminal, when set, observes every terminal task snapshot.
	OnTerminal func(model.TaskSnapshot)

	log  *slog.Logger
	ctx  context.Context
	done chan struct{}
}

// New creates a Queue and starts its worker.
func New(ctx context.Context, exec Executor, log *slog.Logger) *Queue {
	q := &Queue{
		tasks:    make(map[uint64]*task),
		executor: exec,
		log:      log,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// SetExecutor replaces the backfill function. Tests use this to stub
// out the network.
func (q *Queue) SetExecutor(exec Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executor = exec
}

// Enqueue adds a task and returns its id. An unresolvable interval
// fails the task immediately with error "invalid_interval"; it never
// reaches the worker.
func (q *Queue) Enqueue(symbol, interval string, months int) uint64 {
	if months < 1 {
		months = 1
	}
	if months > 36 {
		months = 36
	}
	t := &task{
		id:         q.nextID.Add(1),
		symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		months:     months,
		state:      model.TaskQueued,
		enqueuedAt: nowMS(),
	}
	canon := symbols.CanonicalInterval(interval)
	if canon != "" {
		t.interval = canon
	} else {
		t.interval = interval
	}
	t.backfill = model.BackfillStats{
		Symbol:            t.symbol,
		Interval:          t.interval,
		CanonicalInterval: canon,
		Months:            t.months,
	}

	q.mu.Lock()
	q.tasks[t.id] = t
	if canon == "" {
		t.state = model.TaskFailed
		t.err = model.ErrInvalidInterval.Error()
		t.backfill.Error = t.err
		t.finishedAt = t.enqueuedAt
		q.failedTotal.Add(1)
		snap := snapshotLocked(t)
		q.mu.Unlock()
		q.notifyTerminal(snap)
		return t.id
	}
	q.queue = append(q.queue, t)
	q.mu.Unlock()

	q.enqueuedTotal.Add(1)
	q.cond.Signal()
	return t.id
}

// WaitForIdle blocks until the queue is empty and no task is running.
// Used exclusively by tests.
func (q *Queue) WaitForIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) > 0 || q.running > 0 {
		q.idle.Wait()
	}
}

// Stop signals the worker to exit after the in-flight task (if any)
// finishes. Queued tasks remain queued and are discarded with the
// process.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stop = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
}

// Task returns the snapshot for one task id.
func (q *Queue) Task(id uint64) (model.TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return model.TaskSnapshot{}, false
	}
	return snapshotLocked(t), true
}

// Snapshot returns all task snapshots, oldest first. Empty symbol
// matches every symbol; empty interval matches every interval.
func (q *Queue) Snapshot(symbol, interval string) []model.TaskSnapshot {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	canon := ""
	if interval != "" {
		canon = symbols.CanonicalInterval(interval)
	}

	q.mu.Lock()
	out := make([]model.TaskSnapshot, 0, len(q.tasks))
	for _, t := range q.tasks {
		if symbol != "" && t.symbol != symbol {
			continue
		}
		if canon != "" && t.interval != canon {
			continue
		}
		out = append(out, snapshotLocked(t))
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt == out[j].EnqueuedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt < out[j].EnqueuedAt
	})
	return out
}

// Metrics returns the queue counters. enqueued_total moves when a task
// enters the queue (fail-fast invalid intervals are not counted);
// succeeded_total and failed_total move on terminal transitions only;
// running and queue_length are instantaneous.
func (q *Queue) Metrics() model.QueueMetrics {
	q.mu.Lock()
	running := q.running
	qlen := len(q.queue)
	q.mu.Unlock()
	return model.QueueMetrics{
		EnqueuedTotal:  q.enqueuedTotal.Load(),
		Running:        uint64(running),
		SucceededTotal: q.succeededTotal.Load(),
		FailedTotal:    q.failedTotal.Load(),
		QueueLength:    uint64(qlen),
	}
}

func (q *Queue) worker() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.stop && len(q.queue) == 0 {
			q.cond.Wait()
		}
		if q.stop {
			q.mu.Unlock()
			q.idle.Broadcast()
			return
		}
		t := q.queue[0]
		q.queue = q.queue[1:]
		t.state = model.TaskRunning
		t.startedAt = nowMS()
		q.running++
		exec := q.executor
		q.mu.Unlock()

		q.log.Info("hydration task start",
			slog.Uint64("task_id", t.id), slog.String("symbol", t.symbol),
			slog.String("interval", t.interval), slog.Int("months", t.months))

		stats := q.run(exec, t)

		q.mu.Lock()
		t.finishedAt = nowMS()
		t.backfill = stats
		t.backfill.Symbol = t.symbol
		t.backfill.Interval = t.interval
		t.backfill.CanonicalInterval = symbols.CanonicalInterval(t.interval)
		t.backfill.Months = t.months
		if stats.OK {
			t.state = model.TaskDone
			t.err = ""
			q.succeededTotal.Add(1)
		} else {
			t.state = model.TaskFailed
			t.err = stats.Error
			if t.err == "" {
				t.err = "backfill_failed"
			}
			q.failedTotal.Add(1)
		}
		q.running--
		snap := snapshotLocked(t)
		if len(q.queue) == 0 && q.running == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()

		q.notifyTerminal(snap)

		if snap.State == model.TaskDone {
			q.log.Info("hydration task done",
				slog.Uint64("task_id", snap.ID), slog.Int("rows", snap.Backfill.Rows),
				slog.Int("skipped", snap.Backfill.SkippedRows))
		} else {
			q.log.Warn("hydration task failed",
				slog.Uint64("task_id", snap.ID), slog.String("error", snap.Error))
		}
	}
}

// run guards the executor: a panic becomes a failed stats record, never
// a dead worker.
func (q *Queue) run(exec Executor, t *task) (stats model.BackfillStats) {
	defer func() {
		if r := recover(); r != nil {
			stats = model.BackfillStats{
				Symbol:   t.symbol,
				Interval: t.interval,
				Months:   t.months,
				Error:    fmt.Sprintf("backfill panic: %v", r),
			}
		}
	}()
	return exec(q.ctx, t.symbol, t.interval, t.months)
}

func (q *Queue) notifyTerminal(snap model.TaskSnapshot) {
	if q.OnTerminal != nil {
		q.OnTerminal(snap)
	}
}

func snapshotLocked(t *task) model.TaskSnapshot {
	return model.TaskSnapshot{
		ID:         t.id,
		Symbol:     t.symbol,
		Interval:   t.interval,
		Months:     t.months,
		State:      t.state,
		Error:      t.err,
		EnqueuedAt: t.enqueuedAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		Backfill:   t.backfill,
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }
