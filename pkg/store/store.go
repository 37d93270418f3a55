// Package store defines the Store contract: the append/lookup/mutate/
// iterate surface a Log needs from its persistence layer. memstore is
// the reference in-memory implementation; a persistent Store is any
// other type satisfying this interface with the same observable
// behavior, verified by the shared conformance suite in
// pkg/store/storetest.
package store

import (
	"context"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
)

// Order selects the iteration order for Get.
type Order int

const (
	// OrderAdded iterates by descending `added` (the default).
	OrderAdded Order = iota
	// OrderCreated iterates by descending id (isFirstOlder).
	OrderCreated
)

// Entry pairs a stored action with its metadata.
type Entry struct {
	Action action.Action
	Meta   action.Meta
}

// Page is a lazy, single-directional page of entries. Next is nil on the
// last page.
type Page struct {
	Entries []Entry
	Next    func(ctx context.Context) (Page, error)
}

// Criteria filters which entries RemoveReason considers, all optional
// (a zero value field means "no bound").
type Criteria struct {
	MinAdded    int64
	MaxAdded    int64
	OlderThan   *id.ID
	YoungerThan *id.ID
}

// Matches reports whether m satisfies the criteria.
func (c Criteria) Matches(m action.Meta) bool {
	if c.MinAdded != 0 && m.Added < c.MinAdded {
		return false
	}
	if c.MaxAdded != 0 && m.Added > c.MaxAdded {
		return false
	}
	if c.OlderThan != nil && !id.IsFirstOlder(&m.ID, c.OlderThan) {
		return false
	}
	if c.YoungerThan != nil && !id.IsFirstOlder(c.YoungerThan, &m.ID) {
		return false
	}
	return true
}

// Cursor is a per-peer sync watermark pair in `added` space.
type Cursor struct {
	Sent     int64
	Received int64
}

// Store is the logical mapping id -> (action, meta) a Log persists into.
type Store interface {
	// Add persists (a, m); m.ID must already be set. It returns the
	// assigned meta (with Added populated) and true, or the zero Meta
	// and false if m.ID is already present.
	Add(ctx context.Context, a action.Action, m action.Meta) (action.Meta, bool, error)

	// Get returns the first page of all persisted entries in the given
	// order.
	Get(ctx context.Context, order Order) (Page, error)

	// ByID looks up a single entry.
	ByID(ctx context.Context, i id.ID) (action.Action, action.Meta, bool, error)

	// Has reports whether i is currently persisted.
	Has(ctx context.Context, i id.ID) (bool, error)

	// Remove deletes the entry for i, if present.
	Remove(ctx context.Context, i id.ID) error

	// ChangeMeta merges diff into the stored meta for i. It returns false
	// if i is not present. diff must not contain "id" or "added".
	ChangeMeta(ctx context.Context, i id.ID, diff map[string]any) (bool, error)

	// RemoveReason visits every entry carrying reason and matching
	// criteria, dropping reason from each. An entry for which reason was
	// its only reason is deleted entirely and reported to cb; an entry
	// that keeps other reasons is merely de-reasoned and not reported.
	RemoveReason(ctx context.Context, reason string, criteria Criteria, cb func(action.Action, action.Meta)) error

	// LastAdded returns the highest `added` value ever assigned, or 0 if
	// the store is empty.
	LastAdded(ctx context.Context) (int64, error)

	// GetLastSynced returns the sync cursor recorded for peer.
	GetLastSynced(ctx context.Context, peer string) (Cursor, error)

	// SetLastSynced merges c into the cursor recorded for peer: fields
	// left at zero in c do not overwrite the stored value.
	SetLastSynced(ctx context.Context, peer string, c Cursor) error
}

// ReservedMetaFields are the Meta fields ChangeMeta must reject in diff.
var ReservedMetaFields = map[string]bool{"id": true, "added": true}
