package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"horse.fit/marketpulse/internal/reconcile"
)

// ItemStore is the Postgres implementation of reconcile.Store. Each InTx call
// runs in its own database transaction.
type ItemStore struct {
	pool *Pool
	now  func() time.Time
}

func NewItemStore(pool *Pool, now func() time.Time) *ItemStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ItemStore{pool: pool, now: now}
}

func (s *ItemStore) InTx(ctx context.Context, fn func(ctx context.Context, tx reconcile.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &itemTx{tx: tx, now: s.now().UTC()}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	committed = true
	return nil
}

// classify maps unique violations onto reconcile.ErrDuplicateKey.
func classify(op string, err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, reconcile.ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type itemTx struct {
	tx  Tx
	now time.Time
}

const itemColumns = `
	id,
	parent_id,
	root_id,
	kind::text,
	source_channel,
	author,
	title,
	url,
	body_text,
	engagement_score,
	reply_count,
	instrument_symbol,
	region,
	sentiment_score,
	language,
	created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (reconcile.Item, error) {
	var (
		item reconcile.Item
		kind string
	)
	if err := row.Scan(
		&item.ID,
		&item.ParentID,
		&item.RootID,
		&kind,
		&item.SourceChannel,
		&item.Author,
		&item.Title,
		&item.URL,
		&item.BodyText,
		&item.EngagementScore,
		&item.ReplyCount,
		&item.InstrumentSymbol,
		&item.Region,
		&item.SentimentScore,
		&item.Language,
		&item.CreatedAt,
	); err != nil {
		return reconcile.Item{}, err
	}
	item.Kind = reconcile.ItemKind(kind)
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (t *itemTx) GetItem(ctx context.Context, id string) (reconcile.Item, bool, error) {
	q := `SELECT` + itemColumns + `
FROM market.discussion_items
WHERE id = $1
`
	item, err := scanItem(t.tx.QueryRow(ctx, q, id))
	if err != nil {
		if IsNoRows(err) {
			return reconcile.Item{}, false, nil
		}
		return reconcile.Item{}, false, fmt.Errorf("query item %s: %w", id, err)
	}
	return item, true, nil
}

func (t *itemTx) ListThread(ctx context.Context, rootID string) ([]reconcile.Item, error) {
	q := `SELECT` + itemColumns + `
FROM market.discussion_items
WHERE root_id = $1
  AND kind = 'comment'
ORDER BY id
`
	rows, err := t.tx.Query(ctx, q, rootID)
	if err != nil {
		return nil, fmt.Errorf("query thread %s: %w", rootID, err)
	}
	defer rows.Close()

	items := make([]reconcile.Item, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return items, nil
}

func (t *itemTx) ExistingIDs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	q := `
SELECT id, root_id
FROM market.discussion_items
WHERE id IN (` + placeholders(1, len(ids)) + `)
`
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, rootID string
		if err := rows.Scan(&id, &rootID); err != nil {
			return nil, fmt.Errorf("scan existing id: %w", err)
		}
		out[id] = rootID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing ids: %w", err)
	}
	return out, nil
}

func (t *itemTx) InsertItem(ctx context.Context, item reconcile.Item) error {
	if item.ID == "" {
		return errors.New("item id is required")
	}

	const q = `
INSERT INTO market.discussion_items (
	id,
	parent_id,
	root_id,
	kind,
	source_channel,
	author,
	title,
	url,
	body_text,
	engagement_score,
	reply_count,
	instrument_symbol,
	region,
	sentiment_score,
	language,
	created_at,
	ingested_at,
	updated_at
) VALUES (
	$1, $2, $3, $4::market.item_kind, $5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14, $15, $16, $17, $17
)
`
	if _, err := t.tx.Exec(ctx, q,
		item.ID,
		item.ParentID,
		item.RootID,
		string(item.Kind),
		item.SourceChannel,
		item.Author,
		item.Title,
		item.URL,
		item.BodyText,
		item.EngagementScore,
		item.ReplyCount,
		item.InstrumentSymbol,
		item.Region,
		item.SentimentScore,
		item.Language,
		item.CreatedAt.UTC(),
		t.now,
	); err != nil {
		return classify("insert item "+item.ID, err)
	}
	return nil
}

// UpdateEngagement touches mutable metrics only; tagging columns are never
// written after insert.
func (t *itemTx) UpdateEngagement(ctx context.Context, id string, engagementScore int, replyCount *int) error {
	const q = `
UPDATE market.discussion_items
SET engagement_score = $2,
	reply_count = COALESCE($3, reply_count),
	updated_at = $4
WHERE id = $1
`
	tag, err := t.tx.Exec(ctx, q, id, engagementScore, replyCount, t.now)
	if err != nil {
		return fmt.Errorf("update engagement for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update engagement for %s: item does not exist", id)
	}
	return nil
}

// placeholders renders n positional parameters starting at $start.
func placeholders(start, n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, "$"+strconv.Itoa(start+i))
	}
	return strings.Join(parts, ", ")
}
