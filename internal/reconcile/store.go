package reconcile

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateKey marks a uniqueness violation reported by the store.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStoreUnavailable wraps any other store failure; the batch is rolled back.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store runs fn inside one transaction. A nil return commits, anything else
// rolls back and is returned.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-batch view of the store. Reads observe the transaction's own
// writes.
type Tx interface {
	// GetItem returns found=false with a nil error when id is unknown.
	GetItem(ctx context.Context, id string) (item Item, found bool, err error)
	// ListThread returns every stored comment whose root is rootID.
	ListThread(ctx context.Context, rootID string) ([]Item, error)
	// ExistingIDs maps each already stored id among ids to its root id.
	ExistingIDs(ctx context.Context, ids []string) (map[string]string, error)
	InsertItem(ctx context.Context, item Item) error
	// UpdateEngagement writes mutable metrics only. A nil replyCount leaves
	// reply_count untouched.
	UpdateEngagement(ctx context.Context, id string, engagementScore int, replyCount *int) error
}
