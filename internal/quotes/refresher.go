package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/globaltime"
)

const DefaultStaleAfter = 4 * time.Hour

// Store is the part of the database the refresher needs. *db.Pool satisfies it.
type Store interface {
	ListMentionedSymbols(ctx context.Context) ([]string, error)
	QuoteTimestamps(ctx context.Context) (map[string]time.Time, error)
	UpsertQuote(ctx context.Context, quote db.Quote) error
}

// Fetcher is the market data API. *Client satisfies it.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Profile(ctx context.Context, symbol string) (Profile, error)
	BasicFinancials(ctx context.Context, symbol string) (Financials, error)
}

type RefreshResult struct {
	Symbols int `json:"symbols"`
	Updated int `json:"updated"`
	Fresh   int `json:"fresh"`
	Failed  int `json:"failed"`
}

// Refresher keeps stored quotes current for every symbol that has been
// mentioned at least once.
type Refresher struct {
	store      Store
	fetcher    Fetcher
	staleAfter time.Duration
	logger     zerolog.Logger
}

func NewRefresher(store Store, fetcher Fetcher, staleAfter time.Duration, logger zerolog.Logger) (*Refresher, error) {
	if store == nil {
		return nil, fmt.Errorf("quote store is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("quote fetcher is required")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Refresher{
		store:      store,
		fetcher:    fetcher,
		staleAfter: staleAfter,
		logger:     logger,
	}, nil
}

// RefreshAll fetches quotes for stale or missing symbols. A symbol that fails
// is logged and counted; only store listing errors and cancellation abort.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshResult, error) {
	symbols, err := r.store.ListMentionedSymbols(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("list mentioned symbols: %w", err)
	}
	updatedAt, err := r.store.QuoteTimestamps(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load quote timestamps: %w", err)
	}

	res := RefreshResult{Symbols: len(symbols)}
	for _, raw := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if last, ok := updatedAt[symbol]; ok && globaltime.Since(last) < r.staleAfter {
			res.Fresh++
			continue
		}

		if err := r.refreshOne(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			r.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote refresh failed")
			continue
		}
		res.Updated++
	}

	r.logger.Info().
		Int("symbols", res.Symbols).
		Int("updated", res.Updated).
		Int("fresh", res.Fresh).
		Int("failed", res.Failed).
		Msg("quote refresh finished")
	return res, nil
}

func (r *Refresher) refreshOne(ctx context.Context, symbol string) error {
	profile, err := r.fetcher.Profile(ctx, symbol)
	if err != nil && !errors.Is(err, ErrNoData) {
		return fmt.Errorf("fetch profile: %w", err)
	}
	quote, err := r.fetcher.Quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch quote: %w", err)
	}
	financials, err := r.fetcher.BasicFinancials(ctx, symbol)
	if err != nil {
		r.logger.Debug().Err(err).Str("symbol", symbol).Msg("basic financials unavailable")
		financials = Financials{}
	}

	current := quote.Current
	stored := db.Quote{
		Symbol:             symbol,
		Name:               profile.Name,
		CurrentPrice:       &current,
		PriceChange:        optional(quote.Change),
		PricePercentChange: optional(quote.PercentChange),
		DayHigh:            optional(quote.High),
		DayLow:             optional(quote.Low),
		PERatio:            optional(financials.PERatio),
		MarketCap:          optional(profile.MarketCap),
		LastUpdated:        globaltime.UTC(),
	}
	if err := r.store.UpsertQuote(ctx, stored); err != nil {
		return fmt.Errorf("store quote: %w", err)
	}
	return nil
}

func optional(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
