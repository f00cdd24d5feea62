package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SortByMentions  = "mentions"
	SortBySentiment = "sentiment"
	OrderAsc        = "asc"
	OrderDesc       = "desc"
)

// ReportOptions filters and orders the per-instrument report.
type ReportOptions struct {
	Channels []string
	SortBy   string
	Order    string
}

// Normalize lower-cases options, applies defaults and rejects unknown values.
func (o ReportOptions) Normalize() (ReportOptions, error) {
	out := ReportOptions{
		SortBy: strings.ToLower(strings.TrimSpace(o.SortBy)),
		Order:  strings.ToLower(strings.TrimSpace(o.Order)),
	}
	if out.SortBy == "" {
		out.SortBy = SortByMentions
	}
	if out.Order == "" {
		out.Order = OrderDesc
	}
	switch out.SortBy {
	case SortByMentions, SortBySentiment:
	default:
		return ReportOptions{}, fmt.Errorf("sort_by must be %q or %q", SortByMentions, SortBySentiment)
	}
	switch out.Order {
	case OrderAsc, OrderDesc:
	default:
		return ReportOptions{}, fmt.Errorf("order must be %q or %q", OrderAsc, OrderDesc)
	}

	seen := make(map[string]struct{}, len(o.Channels))
	for _, channel := range o.Channels {
		trimmed := strings.TrimSpace(channel)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out.Channels = append(out.Channels, trimmed)
	}
	return out, nil
}

// ReportRow is one (instrument, region) group with its quote, if any.
type ReportRow struct {
	Symbol             string           `json:"symbol"`
	Region             string           `json:"region"`
	Mentions           int64            `json:"mentions"`
	AvgSentiment       *float64         `json:"avg_sentiment"`
	Name               *string          `json:"name"`
	CurrentPrice       *decimal.Decimal `json:"current_price"`
	PriceChange        *decimal.Decimal `json:"price_change"`
	PricePercentChange *decimal.Decimal `json:"price_percent_change"`
	DayHigh            *decimal.Decimal `json:"day_high"`
	DayLow             *decimal.Decimal `json:"day_low"`
}

// RecentItem is a scored item for review listings.
type RecentItem struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	SourceChannel    string    `json:"source_channel"`
	InstrumentSymbol *string   `json:"instrument_symbol"`
	Region           string    `json:"region"`
	SentimentScore   float64   `json:"sentiment_score"`
	BodyText         string    `json:"body_text"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// ListChannels returns the distinct source channels of top-level items.
func (p *Pool) ListChannels(ctx context.Context) ([]string, error) {
	const q = `
SELECT DISTINCT source_channel
FROM market.discussion_items
WHERE kind = 'post'
  AND source_channel <> ''
ORDER BY source_channel
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	channels := make([]string, 0, 16)
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return channels, nil
}

// QueryReport aggregates mentions and average sentiment per instrument and
// region. A channel filter keeps items whose thread started in one of the
// channels.
func (p *Pool) QueryReport(ctx context.Context, opts ReportOptions) ([]ReportRow, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(opts.Channels))
	channelFilter := ""
	if len(opts.Channels) > 0 {
		for _, channel := range opts.Channels {
			args = append(args, channel)
		}
		channelFilter = `
  AND i.root_id IN (
	SELECT r.id
	FROM market.discussion_items r
	WHERE r.kind = 'post'
	  AND r.source_channel IN (` + placeholders(1, len(opts.Channels)) + `)
  )`
	}

	orderColumn := "mentions"
	if opts.SortBy == SortBySentiment {
		orderColumn = "avg_sentiment"
	}
	direction := "DESC"
	if opts.Order == OrderAsc {
		direction = "ASC"
	}

	q := `
WITH grouped AS (
	SELECT
		i.instrument_symbol AS symbol,
		i.region,
		COUNT(*)::BIGINT AS mentions,
		AVG(i.sentiment_score) AS avg_sentiment
	FROM market.discussion_items i
	WHERE i.instrument_symbol IS NOT NULL` + channelFilter + `
	GROUP BY i.instrument_symbol, i.region
)
SELECT
	g.symbol,
	g.region,
	g.mentions,
	g.avg_sentiment,
	q.name,
	q.current_price,
	q.price_change,
	q.price_percent_change,
	q.day_high,
	q.day_low
FROM grouped g
LEFT JOIN market.instrument_quotes q
	ON q.symbol = g.symbol
ORDER BY ` + orderColumn + ` ` + direction + ` NULLS LAST, g.symbol, g.region
`

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	defer rows.Close()

	out := make([]ReportRow, 0, 64)
	for rows.Next() {
		var (
			row                                       ReportRow
			current, change, percent, dayHigh, dayLow decimal.NullDecimal
		)
		if err := rows.Scan(
			&row.Symbol,
			&row.Region,
			&row.Mentions,
			&row.AvgSentiment,
			&row.Name,
			&current,
			&change,
			&percent,
			&dayHigh,
			&dayLow,
		); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		row.CurrentPrice = decimalPtr(current)
		row.PriceChange = decimalPtr(change)
		row.PricePercentChange = decimalPtr(percent)
		row.DayHigh = decimalPtr(dayHigh)
		row.DayLow = decimalPtr(dayLow)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return out, nil
}

// ListRecentScored returns the most recently ingested items that carry a
// sentiment score.
func (p *Pool) ListRecentScored(ctx context.Context, limit int) ([]RecentItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	id,
	kind::text,
	source_channel,
	instrument_symbol,
	region,
	sentiment_score,
	body_text,
	ingested_at
FROM market.discussion_items
WHERE sentiment_score IS NOT NULL
ORDER BY ingested_at DESC, id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent items: %w", err)
	}
	defer rows.Close()

	items := make([]RecentItem, 0, limit)
	for rows.Next() {
		var item RecentItem
		if err := rows.Scan(
			&item.ID,
			&item.Kind,
			&item.SourceChannel,
			&item.InstrumentSymbol,
			&item.Region,
			&item.SentimentScore,
			&item.BodyText,
			&item.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recent item: %w", err)
		}
		item.IngestedAt = item.IngestedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent items: %w", err)
	}
	return items, nil
}

// ListMentionedSymbols returns the distinct instrument symbols present in
// stored items.
func (p *Pool) ListMentionedSymbols(ctx context.Context) ([]string, error) {
	const q = `
SELECT DISTINCT instrument_symbol
FROM market.discussion_items
WHERE instrument_symbol IS NOT NULL
ORDER BY instrument_symbol
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query mentioned symbols: %w", err)
	}
	defer rows.Close()

	symbols := make([]string, 0, 64)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbol rows: %w", err)
	}
	return symbols, nil
}

func decimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}
