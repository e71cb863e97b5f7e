// Package journal persists terminal hydration tasks and training runs
// to a local SQLite database for post-hoc inspection.
package journal

import (
	"database/sql"
	"fmt"
	"log"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/trainer"

	_ "github.com/mattn/go-sqlite3"
)

// Journal is a single-writer SQLite journal. A nil *Journal is a
// no-op, so callers can wire it unconditionally.
type Journal struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB {
	if j == nil {
		return nil
	}
	return j.db
}

// New opens (or creates) the journal database with WAL mode and the
// schema in place.
func New(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	// Single writer keeps SQLite happy under concurrent callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened database at %s", path)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS hydration_tasks (
			task_id      INTEGER NOT NULL,
			symbol       TEXT    NOT NULL,
			interval     TEXT    NOT NULL,
			months       INTEGER NOT NULL,
			state        TEXT    NOT NULL,
			error        TEXT,
			enqueued_at  INTEGER NOT NULL,
			started_at   INTEGER,
			finished_at  INTEGER,
			rows         INTEGER,
			fetched_rows INTEGER,
			skipped_rows INTEGER,
			PRIMARY KEY (task_id)
		);

		CREATE TABLE IF NOT EXISTS train_runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			episodes   INTEGER NOT NULL,
			tp         REAL    NOT NULL,
			sl         REAL    NOT NULL,
			ma_len     INTEGER NOT NULL,
			best_thr   REAL    NOT NULL,
			accuracy   REAL,
			sharpe     REAL,
			model_path TEXT,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// RecordTask upserts one terminal task snapshot.
func (j *Journal) RecordTask(snap model.TaskSnapshot) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO hydration_tasks
		(task_id, symbol, interval, months, state, error, enqueued_at, started_at, finished_at, rows, fetched_rows, skipped_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Symbol, snap.Interval, snap.Months, snap.State, snap.Error,
		snap.EnqueuedAt, snap.StartedAt, snap.FinishedAt,
		snap.Backfill.Rows, snap.Backfill.FetchedRows, snap.Backfill.SkippedRows,
	)
	if err != nil {
		log.Printf("[journal] task insert failed: %v", err)
	}
}

// RecordTrain appends one completed training run.
func (j *Journal) RecordTrain(symbol, interval string, episodes int, tp, sl float64, maLen int, res *trainer.Result, createdAt int64) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(`
		INSERT INTO train_runs
		(symbol, interval, episodes, tp, sl, ma_len, best_thr, accuracy, sharpe, model_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		symbol, interval, episodes, tp, sl, maLen,
		res.BestThr, res.Metrics.Accuracy, res.Metrics.Sharpe, res.ModelPath, createdAt,
	)
	if err != nil {
		log.Printf("[journal] train insert failed: %v", err)
	}
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
