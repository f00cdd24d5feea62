package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/marketpulse/internal/catalog"
	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/config"
	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/langdetect"
	"horse.fit/marketpulse/internal/logging"
	"horse.fit/marketpulse/internal/reconcile"
	"horse.fit/marketpulse/internal/sentiment"
	"horse.fit/marketpulse/internal/tagging"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func loadEnv(envLoader *cli.EnvLoader) {
	if envLoader == nil {
		return
	}
	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func truncateForTable(value string, maxLen int) string {
	trimmed := strings.Join(strings.Fields(value), " ")
	if maxLen <= 0 {
		return trimmed
	}
	if utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}

	runes := []rune(trimmed)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func pointerStringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func formatUTCTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// connectPool loads the environment, config and logger, then opens the
// database within ctx.
func connectPool(ctx context.Context, envLoader *cli.EnvLoader) (*db.Pool, *config.Config, zerolog.Logger, error) {
	loadEnv(envLoader)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, nil, logger, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, cfg, logger, nil
}

type engineOptions struct {
	detectLanguage bool
}

// buildEngine wires the catalog, lexicon and tagging policy around store.
func buildEngine(cfg *config.Config, store reconcile.Store, logger zerolog.Logger, opts engineOptions) (*reconcile.Engine, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	analyzer, err := sentiment.Load(cfg.SentimentLexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load sentiment lexicon: %w", err)
	}
	policy, err := tagging.NewPolicy(cat, analyzer)
	if err != nil {
		return nil, fmt.Errorf("build tagging policy: %w", err)
	}

	engineOpts := reconcile.EngineOptions{}
	if opts.detectLanguage {
		engineOpts.DetectLanguage = langdetect.DetectISO6391
	}
	engine, err := reconcile.NewEngine(store, policy, logging.Component(logger, "reconcile"), engineOpts)
	if err != nil {
		return nil, fmt.Errorf("build reconcile engine: %w", err)
	}

	logger.Debug().
		Int("instruments", cat.Len()).
		Bool("language_detection", opts.detectLanguage).
		Msg("reconcile engine ready")
	return engine, nil
}
