package db

import (
	"context"
	"fmt"
	"time"
)

// StatsChannelCount stores per-channel item counts.
type StatsChannelCount struct {
	Channel  string `json:"channel"`
	Posts    int64  `json:"posts"`
	Comments int64  `json:"comments"`
	Tagged   int64  `json:"tagged"`
}

// StatsTotals stores totals across channels.
type StatsTotals struct {
	Posts    int64 `json:"posts"`
	Comments int64 `json:"comments"`
	Tagged   int64 `json:"tagged"`
}

// IngestThroughput stores daily counters.
type IngestThroughput struct {
	ItemsIngestedToday int64 `json:"items_ingested_today"`
	RunsToday          int64 `json:"runs_today"`
	FailedRunsToday    int64 `json:"failed_runs_today"`
	UnscoredTagged     int64 `json:"unscored_tagged"`
}

// IngestStats is the read model printed by the review command.
type IngestStats struct {
	Day        string              `json:"day"`
	Channels   []StatsChannelCount `json:"channels"`
	Totals     StatsTotals         `json:"totals"`
	Throughput IngestThroughput    `json:"throughput"`
}

// QueryIngestStats returns per-channel counts plus the given day's throughput.
// Comments are attributed to the channel of their thread.
func (p *Pool) QueryIngestStats(ctx context.Context, dayStart, dayEnd time.Time) (*IngestStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &IngestStats{
		Day:      startUTC.Format("2006-01-02"),
		Channels: make([]StatsChannelCount, 0, 16),
	}

	const countsQuery = `
SELECT
	r.source_channel AS channel,
	COUNT(*) FILTER (WHERE i.kind = 'post')::BIGINT AS posts,
	COUNT(*) FILTER (WHERE i.kind = 'comment')::BIGINT AS comments,
	COUNT(*) FILTER (WHERE i.instrument_symbol IS NOT NULL)::BIGINT AS tagged
FROM market.discussion_items i
JOIN market.discussion_items r
	ON r.id = i.root_id
GROUP BY r.source_channel
ORDER BY 1
`

	rows, err := p.Query(ctx, countsQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats channel counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsChannelCount
		if err := rows.Scan(&row.Channel, &row.Posts, &row.Comments, &row.Tagged); err != nil {
			return nil, fmt.Errorf("scan stats channel row: %w", err)
		}
		stats.Channels = append(stats.Channels, row)
		stats.Totals.Posts += row.Posts
		stats.Totals.Comments += row.Comments
		stats.Totals.Tagged += row.Tagged
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats channel rows: %w", err)
	}

	const throughputQuery = `
SELECT
	(SELECT COUNT(*) FROM market.discussion_items i WHERE i.ingested_at >= $1 AND i.ingested_at < $2) AS items_ingested_today,
	(SELECT COUNT(*) FROM market.ingest_runs r WHERE r.started_at >= $1 AND r.started_at < $2) AS runs_today,
	(SELECT COUNT(*) FROM market.ingest_runs r WHERE r.started_at >= $1 AND r.started_at < $2 AND r.status = 'failed') AS failed_runs_today,
	(SELECT COUNT(*) FROM market.discussion_items i WHERE i.instrument_symbol IS NOT NULL AND i.sentiment_score IS NULL) AS unscored_tagged
`

	if err := p.QueryRow(ctx, throughputQuery, startUTC, endUTC).Scan(
		&stats.Throughput.ItemsIngestedToday,
		&stats.Throughput.RunsToday,
		&stats.Throughput.FailedRunsToday,
		&stats.Throughput.UnscoredTagged,
	); err != nil {
		return nil, fmt.Errorf("query stats throughput: %w", err)
	}

	return stats, nil
}
