package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same transaction contract as the
// database store: writes are staged privately and published only on commit.
// It backs dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Item
	seq   map[string]int64
	next  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Item),
		seq:   make(map[string]int64),
	}
}

// Put stores item directly, outside any transaction, replacing an existing row.
func (s *MemoryStore) Put(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		s.next++
		s.seq[item.ID] = s.next
	}
	s.items[item.ID] = cloneItem(item)
}

// Get returns a committed item.
func (s *MemoryStore) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(item), true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns committed items in insertion order.
func (s *MemoryStore) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneItem(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

// InTx runs fn against a snapshot of the committed items taken when the
// transaction opens, so fn never observes another transaction's commit.
// Transactions do not block each other. Commit fails with ErrDuplicateKey when
// an item fn inserted was committed by someone else in the meantime; engagement
// updates are last writer wins.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := make(map[string]Item, len(s.items))
	for id, item := range s.items {
		snapshot[id] = item
	}
	s.mu.Unlock()

	tx := &memoryTx{
		base:   snapshot,
		staged: make(map[string]Item),
		order:  make([]string, 0, 16),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.order {
		if _, exists := s.items[id]; exists {
			return fmt.Errorf("commit item %s: %w", id, ErrDuplicateKey)
		}
	}
	for _, id := range tx.order {
		s.next++
		s.seq[id] = s.next
	}
	for id, item := range tx.staged {
		s.items[id] = item
	}
	return nil
}

type memoryTx struct {
	base   map[string]Item
	staged map[string]Item
	order  []string
}

func (t *memoryTx) lookup(id string) (Item, bool) {
	if item, ok := t.staged[id]; ok {
		return item, true
	}
	item, ok := t.base[id]
	return item, ok
}

func (t *memoryTx) GetItem(_ context.Context, id string) (Item, bool, error) {
	item, ok := t.lookup(id)
	if !ok {
		return Item{}, false, nil
	}
	return cloneItem(item), true, nil
}

func (t *memoryTx) ListThread(_ context.Context, rootID string) ([]Item, error) {
	seen := make(map[string]struct{})
	var out []Item
	collect := func(items map[string]Item) {
		for id, item := range items {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if item.Kind == KindComment && item.RootID == rootID {
				out = append(out, cloneItem(item))
			}
		}
	}
	collect(t.staged)
	collect(t.base)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) ExistingIDs(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if item, ok := t.lookup(id); ok {
			out[id] = item.RootID
		}
	}
	return out, nil
}

func (t *memoryTx) InsertItem(_ context.Context, item Item) error {
	if _, exists := t.lookup(item.ID); exists {
		return fmt.Errorf("insert item %s: %w", item.ID, ErrDuplicateKey)
	}
	if item.ParentID != nil {
		if _, ok := t.lookup(*item.ParentID); !ok {
			return fmt.Errorf("insert item %s: parent %s does not exist", item.ID, *item.ParentID)
		}
	}
	t.staged[item.ID] = cloneItem(item)
	t.order = append(t.order, item.ID)
	return nil
}

func (t *memoryTx) UpdateEngagement(_ context.Context, id string, engagementScore int, replyCount *int) error {
	item, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("update engagement for %s: item does not exist", id)
	}
	item = cloneItem(item)
	item.EngagementScore = engagementScore
	if replyCount != nil {
		rc := *replyCount
		item.ReplyCount = &rc
	}
	t.staged[id] = item
	return nil
}

func cloneItem(item Item) Item {
	out := item
	if item.ParentID != nil {
		v := *item.ParentID
		out.ParentID = &v
	}
	if item.ReplyCount != nil {
		v := *item.ReplyCount
		out.ReplyCount = &v
	}
	if item.InstrumentSymbol != nil {
		v := *item.InstrumentSymbol
		out.InstrumentSymbol = &v
	}
	if item.SentimentScore != nil {
		v := *item.SentimentScore
		out.SentimentScore = &v
	}
	return out
}
