package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/marketpulse/internal/cli"
)

func runQuotes(args []string) int {
	fs := flag.NewFlagSet("quotes", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	staleAfter := fs.Duration("stale-after", 0, "Refresh quotes older than this; defaults to QUOTE_STALE_AFTER")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	pool, cfg, logger, err := connectPool(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	refresher, err := newQuoteRefresher(cfg, pool, *staleAfter, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Quote refresh setup failed: %v\n", err)
		return 1
	}

	res, err := refresher.RefreshAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("quote refresh failed")
		fmt.Fprintf(os.Stderr, "Quote refresh failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"quotes symbols=%d updated=%d fresh=%d failed=%d\n",
		res.Symbols,
		res.Updated,
		res.Fresh,
		res.Failed,
	)
	if err != nil {
		return 1
	}
	return 0
}
