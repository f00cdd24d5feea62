package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/globaltime"
	"horse.fit/marketpulse/internal/reconcile"
)

const (
	defaultQueueSize   = 2
	maxRunErrorLength  = 4000
	invalidBatchSource = "invalid-batch"
)

// Source yields batches until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (reconcile.Batch, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, batch reconcile.Batch) (reconcile.Result, error)
}

// RunRecorder keeps one ledger row per reconciled batch. *db.Pool satisfies it.
type RunRecorder interface {
	StartIngestRun(ctx context.Context, source string, startedAt time.Time) (int64, error)
	FinishIngestRun(ctx context.Context, runID int64, status string, counts db.RunCounts, errMessage string, finishedAt time.Time) error
}

type Options struct {
	// QueueSize bounds how many fetched batches may wait for reconciliation.
	QueueSize int
	// StopOnError ends the run at the first batch that fails to load or commit.
	StopOnError bool
	// Recorder is optional.
	Recorder RunRecorder
}

// Summary aggregates a whole run.
type Summary struct {
	Batches        int              `json:"batches"`
	FailedBatches  int              `json:"failed_batches"`
	InvalidBatches int              `json:"invalid_batches"`
	Totals         reconcile.Result `json:"totals"`
}

type loaded struct {
	batch reconcile.Batch
	err   error
}

// Run reads batches from src on one goroutine and reconciles them in order on
// another, with at most QueueSize batches buffered in between. Batches that
// fail to load or commit are logged and counted; with StopOnError the first
// such failure cancels the run and is returned.
func Run(ctx context.Context, src Source, engine Reconciler, logger zerolog.Logger, opts Options) (Summary, error) {
	if src == nil {
		return Summary{}, fmt.Errorf("source is required")
	}
	if engine == nil {
		return Summary{}, fmt.Errorf("reconciler is required")
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan loaded, queueSize)

	g.Go(func() error {
		defer close(queue)
		for {
			b, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			select {
			case queue <- loaded{batch: b, err: err}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var summary Summary
	g.Go(func() error {
		for item := range queue {
			if err := gctx.Err(); err != nil {
				return err
			}
			if item.err != nil {
				summary.InvalidBatches++
				logger.Error().Err(item.err).Msg("batch could not be loaded")
				if opts.StopOnError {
					return fmt.Errorf("load batch: %w", item.err)
				}
				continue
			}

			res, err := reconcileOne(gctx, engine, opts.Recorder, item.batch, logger)
			summary.Batches++
			summary.Totals.Add(res)
			if err != nil {
				summary.FailedBatches++
				if opts.StopOnError {
					return err
				}
			}
		}
		return nil
	})

	err := g.Wait()
	return summary, err
}

func reconcileOne(ctx context.Context, engine Reconciler, recorder RunRecorder, b reconcile.Batch, logger zerolog.Logger) (reconcile.Result, error) {
	source := b.Source
	if source == "" {
		source = invalidBatchSource
	}
	logger = logger.With().Str("source", source).Logger()

	var runID int64
	if recorder != nil {
		id, err := recorder.StartIngestRun(ctx, source, globaltime.UTC())
		if err != nil {
			logger.Warn().Err(err).Msg("could not open ingest run; continuing without ledger row")
		} else {
			runID = id
		}
	}

	res, reconcileErr := engine.Reconcile(ctx, b)
	if reconcileErr != nil {
		logger.Error().Err(reconcileErr).Int("failed", res.Failed).Msg("batch failed")
	}

	if recorder != nil && runID != 0 {
		status := db.RunStatusCompleted
		message := ""
		if reconcileErr != nil {
			status = db.RunStatusFailed
			message = truncate(reconcileErr.Error(), maxRunErrorLength)
		}
		counts := db.RunCounts{
			Inserted:   res.Inserted,
			Updated:    res.Updated,
			Skipped:    res.Skipped,
			Failed:     res.Failed,
			Malformed:  res.Malformed,
			Unresolved: res.Unresolved,
			Attempts:   res.Attempts,
		}
		if err := recorder.FinishIngestRun(ctx, runID, status, counts, message, globaltime.UTC()); err != nil {
			logger.Warn().Err(err).Int64("run_id", runID).Msg("could not close ingest run")
		}
	}

	return res, reconcileErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
