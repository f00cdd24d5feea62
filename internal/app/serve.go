package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/config"
	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/httpapi"
	"horse.fit/marketpulse/internal/logging"
	"horse.fit/marketpulse/internal/quotes"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	quoteInterval := fs.Duration("quote-interval", 0, "Refresh stale quotes in the background at this interval; 0 disables")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}
	if *quoteInterval < 0 {
		fmt.Fprintln(os.Stderr, "--quote-interval must not be negative")
		return 2
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	pool, cfg, logger, err := connectPool(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	srv := httpapi.NewServer(pool, logging.Component(logger, "httpapi"), httpapi.Options{
		Host:            *host,
		Port:            *port,
		AllowedOrigins:  cfg.CORSAllowedOriginsList(),
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if *quoteInterval > 0 {
		refresher, err := newQuoteRefresher(cfg, pool, 0, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("background quote refresh disabled")
		} else {
			g.Go(func() error {
				refreshQuotesEvery(gctx, refresher, *quoteInterval, logger)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}

// newQuoteRefresher builds a Finnhub-backed refresher. A zero staleAfter uses
// the configured window.
func newQuoteRefresher(cfg *config.Config, pool *db.Pool, staleAfter time.Duration, logger zerolog.Logger) (*quotes.Refresher, error) {
	if strings.TrimSpace(cfg.FinnhubAPIKey) == "" {
		return nil, fmt.Errorf("FINNHUB_API_KEY is required for quotes")
	}
	client, err := quotes.NewClient(quotes.ClientOptions{
		APIKey:  cfg.FinnhubAPIKey,
		BaseURL: cfg.FinnhubBaseURL,
		Limiter: quotes.NewLimiter(cfg.FinnhubRequestsPerSecond),
	})
	if err != nil {
		return nil, fmt.Errorf("build quote client: %w", err)
	}
	if staleAfter <= 0 {
		staleAfter = cfg.QuoteStaleAfter
	}
	return quotes.NewRefresher(pool, client, staleAfter, logging.Component(logger, "quotes"))
}

// refreshQuotesEvery runs one refresh immediately and then on every tick
// until ctx ends. Failed rounds are logged and retried on the next tick.
func refreshQuotesEvery(ctx context.Context, refresher *quotes.Refresher, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := refresher.RefreshAll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("background quote refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
