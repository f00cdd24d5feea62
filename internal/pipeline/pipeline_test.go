package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/reconcile"
)

type sliceSource struct {
	items []loaded
	next  int
}

func (s *sliceSource) Next(ctx context.Context) (reconcile.Batch, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.Batch{}, err
	}
	if s.next >= len(s.items) {
		return reconcile.Batch{}, io.EOF
	}
	item := s.items[s.next]
	s.next++
	return item.batch, item.err
}

type stubReconciler struct {
	mu     sync.Mutex
	seen   []string
	failOn map[string]bool
}

func (r *stubReconciler) Reconcile(_ context.Context, b reconcile.Batch) (reconcile.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, b.Source)
	if r.failOn[b.Source] {
		return reconcile.Result{Failed: len(b.Posts), Attempts: 1}, fmt.Errorf("commit: %w", reconcile.ErrStoreUnavailable)
	}
	return reconcile.Result{Inserted: len(b.Posts), Attempts: 1}, nil
}

type finishedRun struct {
	id      int64
	status  string
	counts  db.RunCounts
	message string
}

type stubRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []finishedRun
}

func (r *stubRecorder) StartIngestRun(_ context.Context, source string, _ time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, source)
	return int64(len(r.started)), nil
}

func (r *stubRecorder) FinishIngestRun(_ context.Context, runID int64, status string, counts db.RunCounts, errMessage string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, finishedRun{id: runID, status: status, counts: counts, message: errMessage})
	return nil
}

func batchOf(source string, posts int) loaded {
	b := reconcile.Batch{Source: source}
	for i := 0; i < posts; i++ {
		b.Posts = append(b.Posts, reconcile.PostRecord{ID: fmt.Sprintf("%s-%d", source, i)})
	}
	return loaded{batch: b}
}

func TestRun_ReconcilesInOrderAndRecordsRuns(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: []loaded{batchOf("a", 2), batchOf("b", 1), batchOf("c", 3)}}
	engine := &stubReconciler{}
	recorder := &stubRecorder{}

	summary, err := Run(context.Background(), src, engine, zerolog.Nop(), Options{QueueSize: 1, Recorder: recorder})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Batches != 3 || summary.Totals.Inserted != 6 || summary.Totals.Attempts != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if fmt.Sprint(engine.seen) != "[a b c]" {
		t.Fatalf("expected batches in source order, got %v", engine.seen)
	}
	if len(recorder.finished) != 3 {
		t.Fatalf("expected 3 finished runs, got %d", len(recorder.finished))
	}
	for _, run := range recorder.finished {
		if run.status != db.RunStatusCompleted {
			t.Fatalf("expected completed runs, got %+v", run)
		}
	}
	if recorder.finished[2].counts.Inserted != 3 {
		t.Fatalf("expected counts recorded per batch, got %+v", recorder.finished[2])
	}
}

func TestRun_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: []loaded{
		batchOf("a", 1),
		{err: errors.New("schema validation failed")},
		batchOf("b", 2),
		batchOf("c", 1),
	}}
	engine := &stubReconciler{failOn: map[string]bool{"b": true}}
	recorder := &stubRecorder{}

	summary, err := Run(context.Background(), src, engine, zerolog.Nop(), Options{Recorder: recorder})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Batches != 3 || summary.FailedBatches != 1 || summary.InvalidBatches != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Totals.Inserted != 2 || summary.Totals.Failed != 2 {
		t.Fatalf("unexpected totals: %+v", summary.Totals)
	}

	var failed *finishedRun
	for i := range recorder.finished {
		if recorder.finished[i].status == db.RunStatusFailed {
			failed = &recorder.finished[i]
		}
	}
	if failed == nil || failed.message == "" || failed.counts.Failed != 2 {
		t.Fatalf("expected failed run with message and counts, got %+v", recorder.finished)
	}
}

func TestRun_StopOnError(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: []loaded{batchOf("a", 1), batchOf("b", 1), batchOf("c", 1)}}
	engine := &stubReconciler{failOn: map[string]bool{"b": true}}

	summary, err := Run(context.Background(), src, engine, zerolog.Nop(), Options{StopOnError: true})
	if !errors.Is(err, reconcile.ErrStoreUnavailable) {
		t.Fatalf("expected store failure to stop the run, got %v", err)
	}
	if summary.Batches != 2 {
		t.Fatalf("expected run to stop after the failing batch, got %+v", summary)
	}
	for _, source := range engine.seen {
		if source == "c" {
			t.Fatalf("batch after the failure must not be reconciled")
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &sliceSource{items: []loaded{batchOf("a", 1)}}
	_, err := Run(ctx, src, &stubReconciler{}, zerolog.Nop(), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := Run(context.Background(), nil, &stubReconciler{}, zerolog.Nop(), Options{}); err == nil {
		t.Fatalf("expected missing source to fail")
	}
	if _, err := Run(context.Background(), &sliceSource{}, nil, zerolog.Nop(), Options{}); err == nil {
		t.Fatalf("expected missing reconciler to fail")
	}
}
