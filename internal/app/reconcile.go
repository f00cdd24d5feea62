package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/marketpulse/internal/batch"
	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/config"
	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/globaltime"
	"horse.fit/marketpulse/internal/logging"
	"horse.fit/marketpulse/internal/pipeline"
	"horse.fit/marketpulse/internal/reconcile"
)

func runReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "", "Directory containing batch .json files; ignored when paths are given")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	dryRun := fs.Bool("dry-run", false, "Reconcile into an in-memory store without touching the database")
	stopOnError := fs.Bool("stop-on-error", false, "Stop at the first batch that fails to load or commit")
	detectLanguage := fs.Bool("detect-language", true, "Detect the language of stored items")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	paths := fs.Args()
	if trimmed := strings.TrimSpace(*dir); len(paths) == 0 && trimmed != "" {
		paths = []string{trimmed}
	}
	files, err := batch.CollectFiles(paths, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reconcile setup failed: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	var (
		cfg      *config.Config
		logger   zerolog.Logger
		store    reconcile.Store
		recorder pipeline.RunRecorder
	)
	if *dryRun {
		loadEnv(envLoader)
		cfg, err = config.LoadOffline()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		logger, err = logging.New(cfg.Environment, cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			return 1
		}
		store = reconcile.NewMemoryStore()
	} else {
		var pool *db.Pool
		pool, cfg, logger, err = connectPool(ctx, envLoader)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer pool.Close()
		store = db.NewItemStore(pool, globaltime.UTC)
		recorder = pool
	}

	engine, err := buildEngine(cfg, store, logger, engineOptions{detectLanguage: *detectLanguage})
	if err != nil {
		logger.Error().Err(err).Msg("reconcile setup failed")
		fmt.Fprintf(os.Stderr, "Reconcile setup failed: %v\n", err)
		return 1
	}

	summary, runErr := reconcileFiles(ctx, files, engine, logger, pipeline.Options{
		QueueSize:   cfg.IngestQueueSize,
		StopOnError: *stopOnError,
		Recorder:    recorder,
	})
	if err := printReconcileSummary(os.Stdout, outputFormat, summary, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print summary: %v\n", err)
		return 1
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("reconcile run failed")
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", runErr)
		return 1
	}
	if summary.FailedBatches > 0 || summary.InvalidBatches > 0 {
		return 1
	}
	return 0
}

func reconcileFiles(ctx context.Context, files []string, engine pipeline.Reconciler, logger zerolog.Logger, opts pipeline.Options) (pipeline.Summary, error) {
	return pipeline.Run(ctx, batch.NewFileSource(files), engine, logging.Component(logger, "pipeline"), opts)
}

func printReconcileSummary(w io.Writer, format string, summary pipeline.Summary, dryRun bool) error {
	if format == outputFormatJSON {
		return printJSON(w, map[string]any{
			"dry_run": dryRun,
			"summary": summary,
		})
	}

	t := summary.Totals
	rows := [][]string{
		{"batches", fmt.Sprintf("%d", summary.Batches)},
		{"failed_batches", fmt.Sprintf("%d", summary.FailedBatches)},
		{"invalid_batches", fmt.Sprintf("%d", summary.InvalidBatches)},
		{"inserted", fmt.Sprintf("%d", t.Inserted)},
		{"updated", fmt.Sprintf("%d", t.Updated)},
		{"children_inserted", fmt.Sprintf("%d", t.ChildrenInserted)},
		{"children_updated", fmt.Sprintf("%d", t.ChildrenUpdated)},
		{"skipped", fmt.Sprintf("%d", t.Skipped)},
		{"malformed", fmt.Sprintf("%d", t.Malformed)},
		{"unresolved", fmt.Sprintf("%d", t.Unresolved)},
		{"failed", fmt.Sprintf("%d", t.Failed)},
		{"score_failures", fmt.Sprintf("%d", t.ScoreFailures)},
		{"dry_run", fmt.Sprintf("%t", dryRun)},
	}
	return writeTable(w, []string{"metric", "value"}, rows)
}

// signalContext is cancelled on SIGINT or SIGTERM, or after timeout when it
// is positive.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, timeout)
	return timed, func() {
		cancel()
		stop()
	}
}
