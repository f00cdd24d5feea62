package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/globaltime"
)

const reviewBodyWidth = 80

func runReview(args []string) int {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	limit := fs.Int("limit", 20, "Number of recent scored items to show")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "review does not accept positional arguments")
		return 2
	}
	if *limit < 1 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	pool, _, _, err := connectPool(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	items, err := pool.ListRecentScored(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list recent items: %v\n", err)
		return 1
	}
	dayStart, dayEnd := globaltime.DayBounds(globaltime.UTC())
	stats, err := pool.QueryIngestStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query ingest stats: %v\n", err)
		return 1
	}

	if err := writeReview(os.Stdout, outputFormat, items, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write review: %v\n", err)
		return 1
	}
	return 0
}

func writeReview(w io.Writer, format string, items []db.RecentItem, stats *db.IngestStats) error {
	if format == outputFormatJSON {
		return printJSON(w, map[string]any{
			"items": items,
			"stats": stats,
		})
	}

	itemRows := make([][]string, 0, len(items))
	for _, item := range items {
		itemRows = append(itemRows, []string{
			item.ID,
			item.Kind,
			item.SourceChannel,
			pointerStringOrEmpty(item.InstrumentSymbol),
			item.Region,
			strconv.FormatFloat(item.SentimentScore, 'f', 3, 64),
			formatUTCTimestamp(item.IngestedAt),
			truncateForTable(item.BodyText, reviewBodyWidth),
		})
	}
	if err := writeTable(w, []string{"id", "kind", "channel", "symbol", "region", "sentiment", "ingested_at", "body"}, itemRows); err != nil {
		return err
	}
	if stats == nil {
		return nil
	}

	fmt.Fprintln(w)
	channelRows := make([][]string, 0, len(stats.Channels)+1)
	for _, row := range stats.Channels {
		channelRows = append(channelRows, []string{
			row.Channel,
			fmt.Sprintf("%d", row.Posts),
			fmt.Sprintf("%d", row.Comments),
			fmt.Sprintf("%d", row.Tagged),
		})
	}
	channelRows = append(channelRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Posts),
		fmt.Sprintf("%d", stats.Totals.Comments),
		fmt.Sprintf("%d", stats.Totals.Tagged),
	})
	if err := writeTable(w, []string{"channel", "posts", "comments", "tagged"}, channelRows); err != nil {
		return err
	}

	fmt.Fprintln(w)
	throughputRows := [][]string{
		{"day", stats.Day},
		{"items_ingested_today", fmt.Sprintf("%d", stats.Throughput.ItemsIngestedToday)},
		{"runs_today", fmt.Sprintf("%d", stats.Throughput.RunsToday)},
		{"failed_runs_today", fmt.Sprintf("%d", stats.Throughput.FailedRunsToday)},
		{"unscored_tagged", fmt.Sprintf("%d", stats.Throughput.UnscoredTagged)},
	}
	return writeTable(w, []string{"metric", "value"}, throughputRows)
}
