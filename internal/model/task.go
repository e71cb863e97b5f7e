package model

// Task states for the hydration queue. Terminal states are immutable.
const (
	TaskQueued  = "queued"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// BackfillStats summarizes one backfill run.
type BackfillStats struct {
	OK                bool   `json:"ok"`
	Symbol            string `json:"symbol"`
	Interval          string `json:"interval"`
	CanonicalInterval string `json:"canonical_interval"`
	Months            int    `json:"months"`
	Rows              int    `json:"rows"`
	FetchedRows       int    `json:"fetched_rows"`
	SkippedRows       int    `json:"skipped_rows"`
	Error             string `json:"error,omitempty"`
}

// TaskSnapshot is an immutable copy of a hydration task's state.
type TaskSnapshot struct {
	ID         uint64        `json:"task_id"`
	Symbol     string        `json:"symbol"`
	Interval   string        `json:"interval"`
	Months     int           `json:"months"`
	State      string        `json:"state"`
	Error      string        `json:"error,omitempty"`
	EnqueuedAt int64         `json:"enqueued_at"`
	StartedAt  int64         `json:"started_at,omitempty"`
	FinishedAt int64         `json:"finished_at,omitempty"`
	Backfill   BackfillStats `json:"backfill"`
}

// QueueMetrics carries the hydration queue counters.
type QueueMetrics struct {
	EnqueuedTotal  uint64 `json:"enqueued_total"`
	Running        uint64 `json:"running"`
	SucceededTotal uint64 `json:"succeeded_total"`
	FailedTotal    uint64 `json:"failed_total"`
	QueueLength    uint64 `json:"queue_length"`
}
