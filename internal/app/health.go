package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"horse.fit/marketpulse/internal/catalog"
	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/config"
	"horse.fit/marketpulse/internal/sentiment"
)

type healthReport struct {
	Database    string `json:"database"`
	Instruments int    `json:"instruments"`
	Lexicon     string `json:"lexicon"`
}

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Database connect, migrate and ping timeout")
	offline := fs.Bool("offline", false, "Check catalog and lexicon only, without the database")
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

	var report healthReport
	var cfg *config.Config
	if *offline {
		loadEnv(envLoader)
		if cfg, err = config.LoadOffline(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		report.Database = "skipped"
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		pool, loadedCfg, logger, err := connectPool(ctx, envLoader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			return 1
		}
		defer pool.Close()
		cfg = loadedCfg

		if err := pool.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("health ping failed")
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			return 1
		}
		logger.Info().Dur("timeout", *timeout).Msg("database health check passed")
		report.Database = "ok"
	}

	if err := checkTaggingInputs(cfg, &report); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	if err := writeHealth(os.Stdout, outputFormat, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func checkTaggingInputs(cfg *config.Config, report *healthReport) error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if _, err := sentiment.Load(cfg.SentimentLexiconPath); err != nil {
		return fmt.Errorf("load sentiment lexicon: %w", err)
	}
	report.Instruments = cat.Len()
	report.Lexicon = "built-in"
	if cfg.SentimentLexiconPath != "" {
		report.Lexicon = cfg.SentimentLexiconPath
	}
	return nil
}

func writeHealth(w io.Writer, format string, report healthReport) error {
	if format == outputFormatJSON {
		return printJSON(w, report)
	}
	return writeTable(w, []string{"check", "status"}, [][]string{
		{"database", report.Database},
		{"instruments", fmt.Sprintf("%d", report.Instruments)},
		{"lexicon", report.Lexicon},
	})
}
