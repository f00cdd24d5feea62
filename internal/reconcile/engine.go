package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/marketpulse/internal/globaltime"
	"horse.fit/marketpulse/internal/tagging"
)

// maxAttempts bounds duplicate-key recovery: the first pass, one retry
// without the colliding ids, and a last pass without every id collided so far.
const maxAttempts = 3

// Tagger decides the creation-time tags of one item.
type Tagger interface {
	Tag(bodyText string, parent *tagging.Tags, defaultRegion string) tagging.Outcome
}

type EngineOptions struct {
	// DetectLanguage returns an ISO 639-1 code for an item's text. Optional.
	DetectLanguage func(text string) string
	// Now stamps comments of batches without an observation time.
	Now func() time.Time
}

// Engine merges fetched batches into the store. It holds no per-batch state and
// is safe for concurrent use if the store is.
type Engine struct {
	store          Store
	tagger         Tagger
	logger         zerolog.Logger
	detectLanguage func(string) string
	now            func() time.Time
}

func NewEngine(store Store, tagger Tagger, logger zerolog.Logger, opts EngineOptions) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tagger == nil {
		return nil, fmt.Errorf("tagger is required")
	}
	now := opts.Now
	if now == nil {
		now = globaltime.UTC
	}
	return &Engine{
		store:          store,
		tagger:         tagger,
		logger:         logger,
		detectLanguage: opts.DetectLanguage,
		now:            now,
	}, nil
}

// unit is a well-formed top-level record with its screened children.
type unit struct {
	post     PostRecord
	children []CommentRecord
}

// Reconcile merges batch into the store inside one transaction.
//
// A uniqueness violation rolls the transaction back and the batch is retried
// without the ids the store now holds; those ids are reported as skipped
// together with the children of a skipped post. If the retry collides again,
// one last pass runs without every id collided so far so the rest of the batch
// still commits. Should that pass collide too, nothing is written, every unit
// is counted as skipped or failed and an error wrapping ErrDuplicateKey is
// returned. Any other store failure rolls back and returns an error wrapping
// ErrStoreUnavailable.
func (e *Engine) Reconcile(ctx context.Context, batch Batch) (Result, error) {
	observedAt := batch.ObservedAt
	if observedAt.IsZero() {
		observedAt = e.now()
	}
	observedAt = observedAt.UTC()

	logger := e.logger.With().Str("source", batch.Source).Logger()

	units, screened := e.screen(batch, logger)
	excluded := make(map[string]struct{})
	var collided []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p := &pass{Engine: e, excluded: excluded, observedAt: observedAt, logger: logger}
		err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			p.tx = tx
			p.res = Result{}
			p.planned = p.planned[:0]
			return p.apply(ctx, units)
		})
		if err == nil {
			res := p.res
			res.Add(screened)
			res.Attempts = attempt
			logger.Info().
				Int("inserted", res.Inserted).
				Int("updated", res.Updated).
				Int("skipped", res.Skipped).
				Int("malformed", res.Malformed).
				Int("unresolved", res.Unresolved).
				Int("children_inserted", res.ChildrenInserted).
				Int("children_updated", res.ChildrenUpdated).
				Int("attempts", attempt).
				Msg("batch reconciled")
			return res, nil
		}

		if !errors.Is(err, ErrDuplicateKey) {
			failed := screened
			failed.Failed = len(units)
			failed.Attempts = attempt
			logger.Error().Err(err).Int("failed", failed.Failed).Msg("batch rolled back")
			return failed, fmt.Errorf("reconcile batch from %q: %w: %w", batch.Source, ErrStoreUnavailable, err)
		}

		collisions, lookupErr := e.collisions(ctx, p.planned)
		if lookupErr != nil {
			failed := screened
			failed.Failed = len(units)
			failed.Attempts = attempt
			return failed, fmt.Errorf("look up colliding ids: %w: %w", ErrStoreUnavailable, lookupErr)
		}

		logger.Warn().
			Int("attempt", attempt).
			Strs("colliding_ids", collisions).
			Msg("duplicate key during reconcile; rolled back")

		for _, id := range collisions {
			if _, dup := excluded[id]; dup {
				continue
			}
			excluded[id] = struct{}{}
			collided = append(collided, id)
		}
	}

	out := screened
	out.Attempts = maxAttempts
	out.Skipped += len(collided)
	out.SkippedIDs = append(out.SkippedIDs, collided...)
	for _, u := range units {
		if _, skip := excluded[u.post.ID]; !skip {
			out.Failed++
		}
	}
	logger.Error().
		Strs("colliding_ids", collided).
		Int("failed", out.Failed).
		Msg("batch kept colliding; rolled back")
	return out, fmt.Errorf("reconcile batch from %q after %d attempts: %w", batch.Source, maxAttempts, ErrDuplicateKey)
}

// collisions reports which of the planned inserts the store now holds.
func (e *Engine) collisions(ctx context.Context, planned []string) ([]string, error) {
	if len(planned) == 0 {
		return nil, nil
	}
	var out []string
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ExistingIDs(ctx, planned)
		if err != nil {
			return err
		}
		for _, id := range planned {
			if _, ok := existing[id]; ok {
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}

// screen drops malformed records and in-batch duplicates. The first occurrence
// of an id wins.
func (e *Engine) screen(batch Batch, logger zerolog.Logger) ([]unit, Result) {
	var res Result
	seen := make(map[string]struct{})
	units := make([]unit, 0, len(batch.Posts))

	for _, post := range batch.Posts {
		post.ID = strings.TrimSpace(post.ID)
		if post.Defect != "" || post.ID == "" || post.Text() == "" {
			res.Malformed++
			logger.Debug().Str("id", post.ID).Str("defect", post.Defect).Msg("skipping malformed post")
			continue
		}
		if _, dup := seen[post.ID]; dup {
			res.Skipped++
			res.SkippedIDs = append(res.SkippedIDs, post.ID)
			continue
		}
		seen[post.ID] = struct{}{}

		u := unit{post: post}
		for _, child := range post.Children {
			child.ID = strings.TrimSpace(child.ID)
			child.ParentID = strings.TrimSpace(child.ParentID)
			if child.Defect != "" || child.ID == "" || strings.TrimSpace(child.Body) == "" {
				res.Malformed++
				logger.Debug().Str("id", child.ID).Str("root_id", post.ID).Str("defect", child.Defect).Msg("skipping malformed comment")
				continue
			}
			if _, dup := seen[child.ID]; dup {
				res.Skipped++
				res.SkippedIDs = append(res.SkippedIDs, child.ID)
				continue
			}
			seen[child.ID] = struct{}{}
			u.children = append(u.children, child)
		}
		u.post.Children = nil
		units = append(units, u)
	}
	return units, res
}

// pass is one transactional attempt over the screened units.
type pass struct {
	*Engine
	tx         Tx
	excluded   map[string]struct{}
	observedAt time.Time
	logger     zerolog.Logger
	res        Result
	// planned lists every id this attempt tried to insert.
	planned []string
}

func (p *pass) skip(id string) {
	p.res.Skipped++
	p.res.SkippedIDs = append(p.res.SkippedIDs, id)
}

// skipUnit skips a post together with the children that hang off it.
func (p *pass) skipUnit(u unit) {
	p.skip(u.post.ID)
	for _, child := range u.children {
		p.skip(child.ID)
	}
}

func (p *pass) apply(ctx context.Context, units []unit) error {
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, skip := p.excluded[u.post.ID]; skip {
			p.skipUnit(u)
			continue
		}

		stored, found, err := p.tx.GetItem(ctx, u.post.ID)
		if err != nil {
			return fmt.Errorf("get item %s: %w", u.post.ID, err)
		}

		if found {
			if stored.Kind != KindPost {
				p.logger.Warn().Str("id", u.post.ID).Msg("top-level id already stored as a comment; skipping")
				p.skipUnit(u)
				continue
			}
			if err := p.mergeExisting(ctx, u, stored); err != nil {
				return err
			}
			p.res.Updated++
			continue
		}

		if err := p.insertNew(ctx, u); err != nil {
			return err
		}
		p.res.Inserted++
	}
	return nil
}

func (p *pass) mergeExisting(ctx context.Context, u unit, root Item) error {
	replyCount := u.post.ReplyCount
	if err := p.tx.UpdateEngagement(ctx, root.ID, u.post.EngagementScore, &replyCount); err != nil {
		return fmt.Errorf("update engagement for %s: %w", root.ID, err)
	}

	stored, err := p.tx.ListThread(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("list thread %s: %w", root.ID, err)
	}
	return p.mergeChildren(ctx, u, root, stored)
}

func (p *pass) insertNew(ctx context.Context, u unit) error {
	post := u.post
	text := post.Text()
	outcome := p.tagger.Tag(text, nil, post.RegionDefault)
	p.noteScore(outcome, post.ID)

	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.observedAt
	}
	replyCount := post.ReplyCount

	root := Item{
		ID:               post.ID,
		RootID:           post.ID,
		Kind:             KindPost,
		SourceChannel:    strings.TrimSpace(post.SourceChannel),
		Author:           post.Author,
		Title:            strings.TrimSpace(post.Title),
		URL:              post.URL,
		BodyText:         text,
		EngagementScore:  post.EngagementScore,
		ReplyCount:       &replyCount,
		InstrumentSymbol: outcome.Symbol,
		Region:           outcome.Region,
		SentimentScore:   outcome.Sentiment,
		Language:         p.language(text),
		CreatedAt:        createdAt.UTC(),
	}

	p.planned = append(p.planned, root.ID)
	if err := p.tx.InsertItem(ctx, root); err != nil {
		return fmt.Errorf("insert post %s: %w", root.ID, err)
	}
	return p.mergeChildren(ctx, u, root, nil)
}

// mergeChildren updates comments already stored under root and inserts the rest
// breadth-first, each tagged from its immediate parent's tags.
func (p *pass) mergeChildren(ctx context.Context, u unit, root Item, stored []Item) error {
	if len(u.children) == 0 {
		return nil
	}

	tags := make(map[string]tagging.Tags, len(stored)+len(u.children)+1)
	tags[root.ID] = root.Tags()
	seeds := make([]string, 0, len(stored)+1)
	seeds = append(seeds, root.ID)
	for _, item := range stored {
		tags[item.ID] = item.Tags()
		seeds = append(seeds, item.ID)
	}

	fresh := make([]CommentRecord, 0, len(u.children))
	for _, child := range u.children {
		if _, known := tags[child.ID]; known {
			if err := p.tx.UpdateEngagement(ctx, child.ID, child.EngagementScore, nil); err != nil {
				return fmt.Errorf("update engagement for %s: %w", child.ID, err)
			}
			p.res.ChildrenUpdated++
			continue
		}
		if _, skip := p.excluded[child.ID]; skip {
			p.skip(child.ID)
			continue
		}
		fresh = append(fresh, child)
	}
	if len(fresh) == 0 {
		return nil
	}

	ids := make([]string, 0, len(fresh))
	for _, child := range fresh {
		ids = append(ids, child.ID)
	}
	elsewhere, err := p.tx.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("check existing comment ids for %s: %w", root.ID, err)
	}
	if len(elsewhere) > 0 {
		kept := fresh[:0]
		for _, child := range fresh {
			if otherRoot, ok := elsewhere[child.ID]; ok {
				p.logger.Warn().
					Str("id", child.ID).
					Str("root_id", root.ID).
					Str("stored_root_id", otherRoot).
					Msg("comment id already stored in another thread; skipping")
				p.skip(child.ID)
				continue
			}
			kept = append(kept, child)
		}
		fresh = kept
	}

	arena := newThread(root.ID, fresh)
	unreached, err := arena.walk(seeds, func(rec CommentRecord, parentID string) (bool, error) {
		parentTags := tags[parentID]
		outcome := p.tagger.Tag(rec.Body, &parentTags, u.post.RegionDefault)
		p.noteScore(outcome, rec.ID)

		parent := parentID
		item := Item{
			ID:               rec.ID,
			ParentID:         &parent,
			RootID:           root.ID,
			Kind:             KindComment,
			SourceChannel:    root.SourceChannel,
			Author:           rec.Author,
			BodyText:         rec.Body,
			EngagementScore:  rec.EngagementScore,
			InstrumentSymbol: outcome.Symbol,
			Region:           outcome.Region,
			SentimentScore:   outcome.Sentiment,
			Language:         p.language(rec.Body),
			CreatedAt:        p.observedAt,
		}

		p.planned = append(p.planned, item.ID)
		if err := p.tx.InsertItem(ctx, item); err != nil {
			return false, fmt.Errorf("insert comment %s: %w", item.ID, err)
		}
		tags[item.ID] = outcome.Tags
		p.res.ChildrenInserted++
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, rec := range unreached {
		p.logger.Warn().
			Str("id", rec.ID).
			Str("parent_id", rec.ParentID).
			Str("root_id", root.ID).
			Msg("unresolved parent reference; comment not inserted")
		p.res.Unresolved++
	}
	return nil
}

func (p *pass) noteScore(outcome tagging.Outcome, id string) {
	if !outcome.ScoreFailed {
		return
	}
	p.res.ScoreFailures++
	p.logger.Warn().Err(outcome.ScoreErr).Str("id", id).Msg("sentiment scoring failed; storing null sentiment")
}

func (e *Engine) language(text string) string {
	if e.detectLanguage == nil {
		return ""
	}
	return e.detectLanguage(text)
}
