package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the stored price snapshot for one instrument.
type Quote struct {
	Symbol             string           `json:"symbol"`
	Name               string           `json:"name"`
	CurrentPrice       *decimal.Decimal `json:"current_price"`
	PriceChange        *decimal.Decimal `json:"price_change"`
	PricePercentChange *decimal.Decimal `json:"price_percent_change"`
	DayHigh            *decimal.Decimal `json:"day_high"`
	DayLow             *decimal.Decimal `json:"day_low"`
	PERatio            *decimal.Decimal `json:"pe_ratio"`
	MarketCap          *decimal.Decimal `json:"market_cap"`
	LastUpdated        time.Time        `json:"last_updated"`
}

// GetQuote returns found=false when no quote is stored for symbol.
func (p *Pool) GetQuote(ctx context.Context, symbol string) (Quote, bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, false, fmt.Errorf("symbol is required")
	}

	const q = `
SELECT
	symbol,
	name,
	current_price,
	price_change,
	price_percent_change,
	day_high,
	day_low,
	pe_ratio,
	market_cap,
	last_updated
FROM market.instrument_quotes
WHERE symbol = $1
`
	var quote Quote
	var current, change, percent, dayHigh, dayLow, pe, marketCap decimal.NullDecimal
	err := p.QueryRow(ctx, q, symbol).Scan(
		&quote.Symbol,
		&quote.Name,
		&current,
		&change,
		&percent,
		&dayHigh,
		&dayLow,
		&pe,
		&marketCap,
		&quote.LastUpdated,
	)
	if err != nil {
		if IsNoRows(err) {
			return Quote{}, false, nil
		}
		return Quote{}, false, fmt.Errorf("query quote %s: %w", symbol, err)
	}
	quote.CurrentPrice = decimalPtr(current)
	quote.PriceChange = decimalPtr(change)
	quote.PricePercentChange = decimalPtr(percent)
	quote.DayHigh = decimalPtr(dayHigh)
	quote.DayLow = decimalPtr(dayLow)
	quote.PERatio = decimalPtr(pe)
	quote.MarketCap = decimalPtr(marketCap)
	quote.LastUpdated = quote.LastUpdated.UTC()
	return quote, true, nil
}

// QuoteTimestamps maps each stored symbol to its last refresh time.
func (p *Pool) QuoteTimestamps(ctx context.Context) (map[string]time.Time, error) {
	const q = `
SELECT symbol, last_updated
FROM market.instrument_quotes
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query quote timestamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time, 64)
	for rows.Next() {
		var (
			symbol  string
			updated time.Time
		)
		if err := rows.Scan(&symbol, &updated); err != nil {
			return nil, fmt.Errorf("scan quote timestamp: %w", err)
		}
		out[symbol] = updated.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote timestamps: %w", err)
	}
	return out, nil
}

// UpsertQuote writes a quote snapshot, replacing any previous one for the symbol.
func (p *Pool) UpsertQuote(ctx context.Context, quote Quote) error {
	symbol := strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	const q = `
INSERT INTO market.instrument_quotes (
	symbol,
	name,
	current_price,
	price_change,
	price_percent_change,
	day_high,
	day_low,
	pe_ratio,
	market_cap,
	last_updated
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (symbol)
DO UPDATE SET
	name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE market.instrument_quotes.name END,
	current_price = EXCLUDED.current_price,
	price_change = EXCLUDED.price_change,
	price_percent_change = EXCLUDED.price_percent_change,
	day_high = EXCLUDED.day_high,
	day_low = EXCLUDED.day_low,
	pe_ratio = COALESCE(EXCLUDED.pe_ratio, market.instrument_quotes.pe_ratio),
	market_cap = COALESCE(EXCLUDED.market_cap, market.instrument_quotes.market_cap),
	last_updated = EXCLUDED.last_updated
`
	if _, err := p.Exec(ctx, q,
		symbol,
		strings.TrimSpace(quote.Name),
		nullDecimal(quote.CurrentPrice),
		nullDecimal(quote.PriceChange),
		nullDecimal(quote.PricePercentChange),
		nullDecimal(quote.DayHigh),
		nullDecimal(quote.DayLow),
		nullDecimal(quote.PERatio),
		nullDecimal(quote.MarketCap),
		quote.LastUpdated.UTC(),
	); err != nil {
		return fmt.Errorf("upsert quote %s: %w", symbol, err)
	}
	return nil
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
