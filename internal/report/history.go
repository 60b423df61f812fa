package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/snonux/transbench/internal/dispatch"
)

// RunInfo describes a benchmark run for the history database
type RunInfo struct {
	RunID     string
	Model     string
	BaseURL   string
	StartedAt time.Time
	Seed      int64
	Workers   int
	Settings  map[string]any // stored as JSON
}

// RunSummary is a recorded run with its result counts
type RunSummary struct {
	RunID          string
	Model          string
	StartedAt      time.Time
	Elapsed        time.Duration
	Cancelled      bool
	BudgetExceeded bool
	Total          int
	Succeeded      int
}

// History appends runs to a SQLite database
type History struct {
	db   *sql.DB
	path string
}

// OpenHistory opens or creates the history database at path
func OpenHistory(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &WriteError{Path: dir, Op: "create directory", Err: err}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &WriteError{Path: path, Op: "open history", Err: err}
	}

	h := &History{db: db, path: path}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, &WriteError{Path: path, Op: "initialise history", Err: err}
	}
	return h, nil
}

// Path returns the database file
func (h *History) Path() string {
	return h.path
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id text PRIMARY KEY,
			model text NOT NULL,
			base_url text NOT NULL,
			started_at integer NOT NULL,
			elapsed_ms integer NOT NULL,
			seed integer NOT NULL,
			workers integer NOT NULL,
			cancelled integer NOT NULL,
			budget_exceeded integer NOT NULL,
			settings text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id text NOT NULL REFERENCES runs(id),
			task text NOT NULL,
			idx integer NOT NULL,
			line_no integer NOT NULL,
			source_text text NOT NULL,
			translated_text text NOT NULL,
			error_kind text NOT NULL,
			error text NOT NULL,
			attempts integer NOT NULL,
			latency_ms integer NOT NULL,
			PRIMARY KEY (run_id, task, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_results_task ON results (task)`,
	}

	for _, query := range queries {
		if _, err := h.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Record stores the run and all of its results in one transaction
func (h *History) Record(ctx context.Context, run RunInfo, outcome *dispatch.Outcome) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return &WriteError{Path: h.path, Op: "encode settings", Err: err}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Path: h.path, Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,                       // id
		run.Model,                       // model
		run.BaseURL,                     // base_url
		run.StartedAt.Unix(),            // started_at
		outcome.Elapsed.Milliseconds(),  // elapsed_ms
		run.Seed,                        // seed
		run.Workers,                     // workers
		boolInt(outcome.Cancelled),      // cancelled
		boolInt(outcome.BudgetExceeded), // budget_exceeded
		string(settings),                // settings
	)
	if err != nil {
		return &WriteError{Path: h.path, Op: "insert run", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &WriteError{Path: h.path, Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	for _, task := range outcome.Tasks {
		for i, res := range outcome.Results[task] {
			kind := ""
			if res.Err != nil {
				kind = string(res.Err.Kind)
			}
			_, err := stmt.ExecContext(ctx,
				run.RunID,                  // run_id
				task.String(),              // task
				i+1,                        // idx, as in the CSV files
				res.Item.LineNo,            // line_no
				res.Item.Source,            // source_text
				res.Text,                   // translated_text
				kind,                       // error_kind
				res.ErrorString(),          // error
				res.Attempts,               // attempts
				res.Latency.Milliseconds(), // latency_ms
			)
			if err != nil {
				return &WriteError{Path: h.path, Op: "insert result", Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Path: h.path, Op: "commit", Err: err}
	}
	return nil
}

// Runs returns all recorded runs, oldest first
func (h *History) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT r.id, r.model, r.started_at, r.elapsed_ms, r.cancelled, r.budget_exceeded,
			COUNT(s.idx), COALESCE(SUM(CASE WHEN s.error_kind = '' THEN 1 ELSE 0 END), 0)
		FROM runs r LEFT JOIN results s ON s.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			s                        RunSummary
			started, elapsed         int64
			cancelled, budgetReached int
		)
		if err := rows.Scan(&s.RunID, &s.Model, &started, &elapsed, &cancelled, &budgetReached, &s.Total, &s.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.StartedAt = time.Unix(started, 0)
		s.Elapsed = time.Duration(elapsed) * time.Millisecond
		s.Cancelled = cancelled != 0
		s.BudgetExceeded = budgetReached != 0
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// ListRuns prints the recorded runs to out
func (h *History) ListRuns(ctx context.Context, out io.Writer) error {
	runs, err := h.Runs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Runs recorded in %s:\n", h.path)
	if len(runs) == 0 {
		fmt.Fprintln(out, "  No runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(out, "  %s  %-20s  %s  %d/%d succeeded  %s",
			run.RunID, run.Model, run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Succeeded, run.Total, run.Elapsed.Round(time.Millisecond))
		switch {
		case run.Cancelled:
			fmt.Fprint(out, "  (interrupted)")
		case run.BudgetExceeded:
			fmt.Fprint(out, "  (budget exhausted)")
		}
		fmt.Fprintln(out)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
