package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscussionItem maps market.discussion_items. Posts and comments share the
// table; root_id names the post a comment belongs to.
type DiscussionItem struct {
	ID               string    `gorm:"column:id;type:text;primaryKey"`
	ParentID         *string   `gorm:"column:parent_id;type:text"`
	RootID           string    `gorm:"column:root_id;type:text;not null"`
	Kind             string    `gorm:"column:kind;type:market.item_kind;not null"`
	SourceChannel    string    `gorm:"column:source_channel;type:text;not null;default:''"`
	Author           string    `gorm:"column:author;type:text;not null;default:''"`
	Title            string    `gorm:"column:title;type:text;not null;default:''"`
	URL              string    `gorm:"column:url;type:text;not null;default:''"`
	BodyText         string    `gorm:"column:body_text;type:text;not null"`
	EngagementScore  int       `gorm:"column:engagement_score;type:integer;not null;default:0"`
	ReplyCount       *int      `gorm:"column:reply_count;type:integer"`
	InstrumentSymbol *string   `gorm:"column:instrument_symbol;type:text"`
	Region           string    `gorm:"column:region;type:text;not null;default:''"`
	SentimentScore   *float64  `gorm:"column:sentiment_score;type:double precision"`
	Language         string    `gorm:"column:language;type:text;not null;default:''"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null"`
	IngestedAt       time.Time `gorm:"column:ingested_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (DiscussionItem) TableName() string { return "market.discussion_items" }

// InstrumentQuote maps market.instrument_quotes.
type InstrumentQuote struct {
	Symbol             string              `gorm:"column:symbol;type:text;primaryKey"`
	Name               string              `gorm:"column:name;type:text;not null;default:''"`
	CurrentPrice       decimal.NullDecimal `gorm:"column:current_price;type:numeric(18,4)"`
	PriceChange        decimal.NullDecimal `gorm:"column:price_change;type:numeric(18,4)"`
	PricePercentChange decimal.NullDecimal `gorm:"column:price_percent_change;type:numeric(12,4)"`
	DayHigh            decimal.NullDecimal `gorm:"column:day_high;type:numeric(18,4)"`
	DayLow             decimal.NullDecimal `gorm:"column:day_low;type:numeric(18,4)"`
	PERatio            decimal.NullDecimal `gorm:"column:pe_ratio;type:numeric(12,4)"`
	MarketCap          decimal.NullDecimal `gorm:"column:market_cap;type:numeric(24,2)"`
	LastUpdated        time.Time           `gorm:"column:last_updated;type:timestamptz;not null;default:now()"`
}

func (InstrumentQuote) TableName() string { return "market.instrument_quotes" }

// IngestRun maps market.ingest_runs.
type IngestRun struct {
	RunID         int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	Source        string     `gorm:"column:source;type:text;not null"`
	Status        string     `gorm:"column:status;type:market.ingest_run_status;not null;default:running"`
	ItemsInserted int        `gorm:"column:items_inserted;type:integer;not null;default:0"`
	ItemsUpdated  int        `gorm:"column:items_updated;type:integer;not null;default:0"`
	ItemsSkipped  int        `gorm:"column:items_skipped;type:integer;not null;default:0"`
	ItemsFailed   int        `gorm:"column:items_failed;type:integer;not null;default:0"`
	Malformed     int        `gorm:"column:malformed;type:integer;not null;default:0"`
	Unresolved    int        `gorm:"column:unresolved;type:integer;not null;default:0"`
	Attempts      int        `gorm:"column:attempts;type:integer;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

func (IngestRun) TableName() string { return "market.ingest_runs" }

func autoMigrateModels() []any {
	return []any{
		&DiscussionItem{},
		&InstrumentQuote{},
		&IngestRun{},
	}
}
