package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"horse.fit/marketpulse/internal/catalog"
	"horse.fit/marketpulse/internal/sentiment"
	"horse.fit/marketpulse/internal/tagging"
)

var observed = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type stubScorer struct {
	scores map[string]float64
	fail   map[string]bool
}

func (s *stubScorer) Score(text string) (float64, error) {
	if s.fail[text] {
		return 0, errors.New("scoring backend unavailable")
	}
	return s.scores[text], nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Instrument{
		{Symbol: "GME", Region: "US", Aliases: []string{"GameStop", "GME"}},
		{Symbol: "EQNR", Region: "NO", Aliases: []string{"Equinor"}},
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func newTestEngine(t *testing.T, store Store, scorer sentiment.Scorer) *Engine {
	t.Helper()
	policy, err := tagging.NewPolicy(testCatalog(t), scorer)
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	engine, err := NewEngine(store, policy, zerolog.Nop(), EngineOptions{
		DetectLanguage: func(string) string { return "en" },
		Now:            func() time.Time { return observed },
	})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return engine
}

func mustItem(t *testing.T, store *MemoryStore, id string) Item {
	t.Helper()
	item, ok := store.Get(id)
	if !ok {
		t.Fatalf("expected item %s to be stored", id)
	}
	return item
}

func symbolOf(item Item) string {
	if item.InstrumentSymbol == nil {
		return ""
	}
	return *item.InstrumentSymbol
}

func flatBatch(n int) Batch {
	posts := make([]PostRecord, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, PostRecord{
			ID:              fmt.Sprintf("p%d", i+1),
			SourceChannel:   "wallstreetbets",
			RegionDefault:   "US",
			Title:           fmt.Sprintf("Post %d about GameStop", i+1),
			EngagementScore: 10 * (i + 1),
			ReplyCount:      i,
			CreatedAt:       observed.Add(-time.Hour),
		})
	}
	return Batch{Source: "test", ObservedAt: observed, Posts: posts}
}

func TestReconcile_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{})
	batch := flatBatch(3)

	first, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Inserted != 3 || first.Updated != 0 {
		t.Fatalf("expected inserted=3 updated=0, got %+v", first)
	}

	second, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 3 {
		t.Fatalf("expected inserted=0 updated=3, got %+v", second)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 stored items, got %d", store.Len())
	}
}

func TestReconcile_GameStopThread(t *testing.T) {
	t.Parallel()

	scorer, err := sentiment.Load("")
	if err != nil {
		t.Fatalf("load lexicon: %v", err)
	}
	store := NewMemoryStore()
	engine := newTestEngine(t, store, scorer)

	batch := Batch{
		Source:     "test",
		ObservedAt: observed,
		Posts: []PostRecord{{
			ID:              "p1",
			SourceChannel:   "wallstreetbets",
			RegionDefault:   "US",
			Title:           "GameStop to the moon",
			EngagementScore: 100,
			ReplyCount:      2,
			CreatedAt:       observed.Add(-2 * time.Hour),
			Children: []CommentRecord{
				{ID: "c1", Author: "a", Body: "I agree, GME is great", EngagementScore: 10},
				{ID: "c2", ParentID: "c1", Author: "b", Body: "lol", EngagementScore: 2},
			},
		}},
	}

	res, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := Result{Inserted: 1, ChildrenInserted: 2, Attempts: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}

	p1 := mustItem(t, store, "p1")
	c1 := mustItem(t, store, "c1")
	c2 := mustItem(t, store, "c2")

	for _, item := range []Item{p1, c1, c2} {
		if symbolOf(item) != "GME" {
			t.Fatalf("expected %s tagged GME, got %q", item.ID, symbolOf(item))
		}
		if item.SentimentScore == nil {
			t.Fatalf("expected %s to carry its own sentiment", item.ID)
		}
		if item.Region != "US" {
			t.Fatalf("expected %s region US, got %q", item.ID, item.Region)
		}
	}
	if *c2.SentimentScore == *c1.SentimentScore {
		t.Fatalf("expected c2 sentiment scored from its own text, got parent's %v", *c1.SentimentScore)
	}
	lol, _ := scorer.Score("lol")
	if *c2.SentimentScore != lol {
		t.Fatalf("expected c2 sentiment %v, got %v", lol, *c2.SentimentScore)
	}

	if p1.ParentID != nil || p1.RootID != "p1" || p1.Kind != KindPost {
		t.Fatalf("unexpected top-level linkage: %+v", p1)
	}
	if c1.ParentID == nil || *c1.ParentID != "p1" || c1.RootID != "p1" {
		t.Fatalf("expected c1 under p1, got parent=%v root=%s", c1.ParentID, c1.RootID)
	}
	if c2.ParentID == nil || *c2.ParentID != "c1" || c2.RootID != "p1" {
		t.Fatalf("expected c2 under c1, got parent=%v root=%s", c2.ParentID, c2.RootID)
	}
	if !c2.CreatedAt.Equal(observed) {
		t.Fatalf("expected comment timestamp from batch observation, got %v", c2.CreatedAt)
	}
	if p1.Language != "en" {
		t.Fatalf("expected detected language on insert, got %q", p1.Language)
	}
}

func TestReconcile_ChildrenOutOfOrderStillInherit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{scores: map[string]float64{"deep": 0.1}})

	batch := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{{
		ID:            "p1",
		RegionDefault: "US",
		Title:         "Equinor results",
		Children: []CommentRecord{
			{ID: "c3", ParentID: "c2", Body: "deep"},
			{ID: "c2", ParentID: "c1", Body: "middle"},
			{ID: "c1", Body: "top"},
		},
	}}}

	res, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.ChildrenInserted != 3 || res.Unresolved != 0 {
		t.Fatalf("expected all children inserted, got %+v", res)
	}
	c3 := mustItem(t, store, "c3")
	if symbolOf(c3) != "EQNR" || c3.Region != "NO" {
		t.Fatalf("expected inherited EQNR/NO down the chain, got %q/%q", symbolOf(c3), c3.Region)
	}
	if c3.SentimentScore == nil || *c3.SentimentScore != 0.1 {
		t.Fatalf("expected own sentiment 0.1, got %v", c3.SentimentScore)
	}
}

func TestReconcile_ExistingItemKeepsTags(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{scores: map[string]float64{
		"GameStop squeeze":      0.5,
		"Equinor is the future": -0.3,
	}})

	first := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{{
		ID:              "p1",
		RegionDefault:   "US",
		Title:           "GameStop squeeze",
		EngagementScore: 5,
		ReplyCount:      1,
		Children:        []CommentRecord{{ID: "c1", Body: "nice", EngagementScore: 1}},
	}}}
	if _, err := engine.Reconcile(context.Background(), first); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	second := Batch{Source: "test", ObservedAt: observed.Add(time.Hour), Posts: []PostRecord{{
		ID:              "p1",
		RegionDefault:   "US",
		Title:           "Equinor is the future",
		EngagementScore: 50,
		ReplyCount:      7,
		Children: []CommentRecord{
			{ID: "c1", Body: "edited completely", EngagementScore: 9},
			{ID: "c2", ParentID: "c1", Body: "late reply", EngagementScore: 3},
		},
	}}}
	res, err := engine.Reconcile(context.Background(), second)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	want := Result{Updated: 1, ChildrenUpdated: 1, ChildrenInserted: 1, Attempts: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}

	p1 := mustItem(t, store, "p1")
	if symbolOf(p1) != "GME" || p1.SentimentScore == nil || *p1.SentimentScore != 0.5 {
		t.Fatalf("expected original tags to survive, got %q %v", symbolOf(p1), p1.SentimentScore)
	}
	if p1.BodyText != "GameStop squeeze" {
		t.Fatalf("expected stored text untouched, got %q", p1.BodyText)
	}
	if p1.EngagementScore != 50 || p1.ReplyCount == nil || *p1.ReplyCount != 7 {
		t.Fatalf("expected engagement 50 and reply count 7, got %d %v", p1.EngagementScore, p1.ReplyCount)
	}

	c1 := mustItem(t, store, "c1")
	if c1.EngagementScore != 9 || c1.BodyText != "nice" {
		t.Fatalf("expected engagement-only update for c1, got %+v", c1)
	}
	c2 := mustItem(t, store, "c2")
	if c2.ParentID == nil || *c2.ParentID != "c1" || symbolOf(c2) != "GME" {
		t.Fatalf("expected c2 linked to stored c1 and inheriting GME, got %+v", c2)
	}
}

func TestReconcile_UnresolvedParent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{})

	batch := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{{
		ID:            "p1",
		RegionDefault: "US",
		Title:         "GME",
		Children: []CommentRecord{
			{ID: "c1", Body: "sibling"},
			{ID: "orphan", ParentID: "missing", Body: "who am I replying to"},
			{ID: "orphan-child", ParentID: "orphan", Body: "me too"},
			{ID: "loop-a", ParentID: "loop-b", Body: "a"},
			{ID: "loop-b", ParentID: "loop-a", Body: "b"},
		},
	}}}

	res, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Inserted != 1 || res.ChildrenInserted != 1 || res.Unresolved != 4 {
		t.Fatalf("expected sibling inserted and four unresolved, got %+v", res)
	}
	for _, id := range []string{"orphan", "orphan-child", "loop-a", "loop-b"} {
		if _, ok := store.Get(id); ok {
			t.Fatalf("expected %s not to be stored", id)
		}
	}
	mustItem(t, store, "c1")
}

func TestReconcile_MalformedAndDuplicateRecords(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{})

	batch := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{
		{ID: "", Title: "no id"},
		{ID: "p-blank", Title: "  ", Body: ""},
		{ID: "p1", Title: "GME", Children: []CommentRecord{
			{ID: "", Body: "no id"},
			{ID: "c-empty", Body: "   "},
			{ID: "c1", Body: "fine"},
			{ID: "c1", Body: "again"},
		}},
		{ID: "p1", Title: "GME again"},
	}}

	res, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := Result{
		Inserted:         1,
		Skipped:          2,
		Malformed:        4,
		ChildrenInserted: 1,
		Attempts:         1,
		SkippedIDs:       []string{"c1", "p1"},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	if store.Len() != 2 {
		t.Fatalf("expected p1 and c1 stored, got %d items", store.Len())
	}
}

func TestReconcile_ScorerFailureStoresNullSentiment(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{fail: map[string]bool{"GameStop": true}})

	batch := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{{ID: "p1", Title: "GameStop"}}}
	res, err := engine.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Inserted != 1 || res.ScoreFailures != 1 {
		t.Fatalf("expected insert with one score failure, got %+v", res)
	}
	p1 := mustItem(t, store, "p1")
	if symbolOf(p1) != "GME" || p1.SentimentScore != nil {
		t.Fatalf("expected GME with null sentiment, got %q %v", symbolOf(p1), p1.SentimentScore)
	}
}

func TestReconcile_DefaultRegionWithoutSymbol(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := newTestEngine(t, store, &stubScorer{})

	batch := Batch{Source: "test", ObservedAt: observed, Posts: []PostRecord{{
		ID:            "p1",
		RegionDefault: "NO",
		Title:         "Market open thread",
		Children:      []CommentRecord{{ID: "c1", Body: "morning"}},
	}}}
	if _, err := engine.Reconcile(context.Background(), batch); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	for _, id := range []string{"p1", "c1"} {
		item := mustItem(t, store, id)
		if item.InstrumentSymbol != nil || item.SentimentScore != nil || item.Region != "NO" {
			t.Fatalf("expected untagged %s with default region, got %+v", id, item)
		}
	}
}

// failingStore fails every insert of one id with a non-uniqueness error.
type failingStore struct {
	inner  *MemoryStore
	failOn string
}

func (s *failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.inner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	Tx
	failOn string
}

func (t *failingTx) InsertItem(ctx context.Context, item Item) error {
	if item.ID == t.failOn {
		return errors.New("connection reset by peer")
	}
	return t.Tx.InsertItem(ctx, item)
}

func TestReconcile_StoreFailureRollsBackWholeBatch(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	engine := newTestEngine(t, &failingStore{inner: inner, failOn: "p3"}, &stubScorer{})

	batch := flatBatch(3)
	batch.Posts = append(batch.Posts, PostRecord{ID: ""})

	res, err := engine.Reconcile(context.Background(), batch)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if res.Failed != 3 || res.Malformed != 1 || res.Inserted != 0 {
		t.Fatalf("expected failed=3 malformed=1 inserted=0, got %+v", res)
	}
	if inner.Len() != 0 {
		t.Fatalf("expected no partial rows, got %d", inner.Len())
	}
}

// racingStore simulates another writer committing rows while a transaction is
// open. Each entry of races is published during the matching attempt.
type racingStore struct {
	inner   *MemoryStore
	races   [][]Item
	attempt int
}

func (s *racingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.inner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if mt, ok := tx.(*memoryTx); ok && len(mt.order) > 0 {
			if s.attempt < len(s.races) {
				for _, item := range s.races[s.attempt] {
					s.inner.Put(item)
				}
			}
			s.attempt++
		}
		return nil
	})
}

func racedPost(id string) Item {
	return Item{ID: id, RootID: id, Kind: KindPost, BodyText: "written elsewhere", Region: "US"}
}

func TestReconcile_DuplicateKeyRetriesWithoutCollisions(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	store := &racingStore{inner: inner, races: [][]Item{{racedPost("p2")}}}
	engine := newTestEngine(t, store, &stubScorer{})

	res, err := engine.Reconcile(context.Background(), flatBatch(3))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := Result{Inserted: 2, Skipped: 1, Attempts: 2, SkippedIDs: []string{"p2"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	if got := mustItem(t, inner, "p2"); got.BodyText != "written elsewhere" {
		t.Fatalf("expected the concurrent writer's row to win, got %+v", got)
	}
	if inner.Len() != 3 {
		t.Fatalf("expected 3 stored items, got %d", inner.Len())
	}
}

func TestReconcile_RecurringDuplicateCommitsTheRest(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	store := &racingStore{inner: inner, races: [][]Item{{racedPost("p2")}, {racedPost("p1")}}}
	engine := newTestEngine(t, store, &stubScorer{})

	res, err := engine.Reconcile(context.Background(), flatBatch(3))
	if err != nil {
		t.Fatalf("expected recurring duplicate not to be an error, got %v", err)
	}
	want := Result{Inserted: 1, Skipped: 2, Attempts: 3, SkippedIDs: []string{"p1", "p2"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	if got := mustItem(t, inner, "p3"); got.EngagementScore != 30 {
		t.Fatalf("expected p3 committed by the last pass, got %+v", got)
	}
	for _, id := range []string{"p1", "p2"} {
		if got := mustItem(t, inner, id); got.BodyText != "written elsewhere" {
			t.Fatalf("expected the concurrent writer's %s to win, got %+v", id, got)
		}
	}
}

func TestReconcile_DuplicateKeyGivesUpAfterLastPass(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	store := &racingStore{inner: inner, races: [][]Item{{racedPost("p2")}, {racedPost("p1")}, {racedPost("p3")}}}
	engine := newTestEngine(t, store, &stubScorer{})

	res, err := engine.Reconcile(context.Background(), flatBatch(4))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	want := Result{Skipped: 3, Failed: 1, Attempts: 3, SkippedIDs: []string{"p2", "p1", "p3"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	if _, ok := inner.Get("p4"); ok {
		t.Fatalf("expected the last pass rolled back, found p4")
	}
}

func TestReconcile_SkipsIdsOwnedElsewhere(t *testing.T) {
	t.Parallel()

	comment := func(id, rootID string) Item {
		parent := rootID
		return Item{ID: id, ParentID: &parent, RootID: rootID, Kind: KindComment, BodyText: "stored reply", EngagementScore: 7, Region: "US"}
	}

	tests := []struct {
		name   string
		seed   []Item
		races  [][]Item
		batch  []PostRecord
		want   Result
		absent []string
		owner  map[string]string
	}{
		{
			name: "fresh comment stored under another root",
			seed: []Item{racedPost("p9"), comment("c1", "p9")},
			batch: []PostRecord{{ID: "p1", Title: "GME", Children: []CommentRecord{
				{ID: "c1", Body: "moved?"},
				{ID: "c2", Body: "fine"},
			}}},
			want:  Result{Inserted: 1, Skipped: 1, ChildrenInserted: 1, Attempts: 1, SkippedIDs: []string{"c1"}},
			owner: map[string]string{"c1": "p9", "c2": "p1"},
		},
		{
			name:   "top-level id stored as a comment",
			seed:   []Item{racedPost("p9"), comment("x1", "p9")},
			batch:  []PostRecord{{ID: "x1", Title: "GME", EngagementScore: 500, Children: []CommentRecord{{ID: "c3", Body: "hi"}}}},
			want:   Result{Skipped: 2, Attempts: 1, SkippedIDs: []string{"x1", "c3"}},
			absent: []string{"c3"},
			owner:  map[string]string{"x1": "p9"},
		},
		{
			name:  "post excluded on retry takes its new children along",
			races: [][]Item{{racedPost("p1")}},
			batch: []PostRecord{
				{ID: "p1", Title: "GME", Children: []CommentRecord{
					{ID: "c1", Body: "first"},
					{ID: "c2", ParentID: "c1", Body: "second"},
				}},
				{ID: "p2", Title: "Equinor"},
			},
			want:   Result{Inserted: 1, Skipped: 3, Attempts: 2, SkippedIDs: []string{"p1", "c1", "c2"}},
			absent: []string{"c1", "c2"},
			owner:  map[string]string{"p1": "p1", "p2": "p2"},
		},
		{
			name: "records the decoder flagged",
			batch: []PostRecord{
				{ID: "p1", Title: "GME", Defect: "items[0]: /created_at: not a date-time"},
				{ID: "p2", Title: "GME", Children: []CommentRecord{
					{ID: "c1", Body: "typed wrong", Defect: "items[1].children[0]: /engagement_score: expected integer"},
				}},
			},
			want:   Result{Inserted: 1, Malformed: 2, Attempts: 1},
			absent: []string{"p1", "c1"},
			owner:  map[string]string{"p2": "p2"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			inner := NewMemoryStore()
			for _, item := range tc.seed {
				inner.Put(item)
			}
			before := inner.Len()
			engine := newTestEngine(t, &racingStore{inner: inner, races: tc.races}, &stubScorer{})

			res, err := engine.Reconcile(context.Background(), Batch{Source: "test", ObservedAt: observed, Posts: tc.batch})
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if diff := cmp.Diff(tc.want, res); diff != "" {
				t.Fatalf("unexpected result (-want +got):\n%s", diff)
			}
			for _, id := range tc.absent {
				if _, ok := inner.Get(id); ok {
					t.Fatalf("expected %s not to be stored", id)
				}
			}
			for id, root := range tc.owner {
				if got := mustItem(t, inner, id); got.RootID != root {
					t.Fatalf("expected %s under %s, got %+v", id, root, got)
				}
			}
			written := res.Inserted + res.ChildrenInserted
			for _, race := range tc.races {
				written += len(race)
			}
			if inner.Len() != before+written {
				t.Fatalf("expected %d rows, got %d", before+written, inner.Len())
			}
		})
	}
}

func TestMemoryStore_RejectsDanglingParent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	missing := "nowhere"
	err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertItem(ctx, Item{ID: "c1", ParentID: &missing, RootID: "p1", Kind: KindComment})
	})
	if err == nil {
		t.Fatalf("expected dangling parent to be rejected")
	}
	if store.Len() != 0 {
		t.Fatalf("expected rollback, got %d items", store.Len())
	}
}

func TestMemoryStore_TransactionsReadTheirOwnSnapshot(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	opened := make(chan struct{})
	proceed := make(chan struct{})
	type outcome struct {
		sawB bool
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		var sawB bool
		err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			close(opened)
			<-proceed
			_, found, err := tx.GetItem(ctx, "b")
			if err != nil {
				return err
			}
			sawB = found
			return tx.InsertItem(ctx, Item{ID: "b", RootID: "b", Kind: KindPost})
		})
		done <- outcome{sawB: sawB, err: err}
	}()

	<-opened
	err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertItem(ctx, Item{ID: "b", RootID: "b", Kind: KindPost, BodyText: "first"})
	})
	if err != nil {
		t.Fatalf("second transaction should commit while the first is open: %v", err)
	}
	close(proceed)

	got := <-done
	if got.sawB {
		t.Fatalf("expected the open transaction not to see a later commit")
	}
	if !errors.Is(got.err, ErrDuplicateKey) {
		t.Fatalf("expected the late insert to collide on commit, got %v", got.err)
	}
	if item := mustItem(t, store, "b"); item.BodyText != "first" {
		t.Fatalf("expected the first commit to win, got %+v", item)
	}
}
