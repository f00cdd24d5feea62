package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunCounts are the per-batch tallies written when a run finishes.
type RunCounts struct {
	Inserted   int
	Updated    int
	Skipped    int
	Failed     int
	Malformed  int
	Unresolved int
	Attempts   int
}

// StartIngestRun opens a ledger row for one batch and returns its id.
func (p *Pool) StartIngestRun(ctx context.Context, source string, startedAt time.Time) (int64, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, fmt.Errorf("source is required")
	}

	const q = `
INSERT INTO market.ingest_runs (source, status, started_at)
VALUES ($1, 'running', $2)
RETURNING run_id
`
	var runID int64
	if err := p.QueryRow(ctx, q, source, startedAt.UTC()).Scan(&runID); err != nil {
		return 0, fmt.Errorf("insert ingest run: %w", err)
	}
	return runID, nil
}

// FinishIngestRun closes a ledger row with its final status and counts. A
// non-empty errMessage is stored alongside a failed status.
func (p *Pool) FinishIngestRun(ctx context.Context, runID int64, status string, counts RunCounts, errMessage string, finishedAt time.Time) error {
	switch status {
	case RunStatusCompleted, RunStatusFailed:
	default:
		return fmt.Errorf("invalid final run status %q", status)
	}

	var message *string
	if trimmed := strings.TrimSpace(errMessage); trimmed != "" {
		message = &trimmed
	}

	const q = `
UPDATE market.ingest_runs
SET status = $2::market.ingest_run_status,
	items_inserted = $3,
	items_updated = $4,
	items_skipped = $5,
	items_failed = $6,
	malformed = $7,
	unresolved = $8,
	attempts = $9,
	error_message = $10,
	finished_at = $11
WHERE run_id = $1
`
	tag, err := p.Exec(ctx, q,
		runID,
		status,
		counts.Inserted,
		counts.Updated,
		counts.Skipped,
		counts.Failed,
		counts.Malformed,
		counts.Unresolved,
		counts.Attempts,
		message,
		finishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("finish ingest run %d: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish ingest run %d: run does not exist", runID)
	}
	return nil
}
