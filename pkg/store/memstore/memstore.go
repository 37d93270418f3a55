// Package memstore is the reference in-memory Store implementation:
// one mutex-guarded slice of (action, meta) records ordered by
// descending `added`, kept in order by prepending on every Add,
// generalized to the full Store contract.
package memstore

import (
	"context"
	"sort"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/store"
)

// pageSize bounds how many entries a single Get page carries before
// Next must be called; callers that just want everything can drain via
// Next until it returns a nil continuation.
const pageSize = 256

type record struct {
	action action.Action
	meta   action.Meta
}

// Store is a mutex-guarded, slice-backed Store, ordered by descending
// Added at all times.
type Store struct {
	mu      sync.RWMutex
	added   int64
	byAdded []record // kept sorted, descending Added
	byID    map[id.ID]int
	cursors map[string]store.Cursor
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[id.ID]int),
		cursors: make(map[string]store.Cursor),
	}
}

func (s *Store) Add(_ context.Context, a action.Action, m action.Meta) (action.Meta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[m.ID]; exists {
		return action.Meta{}, false, nil
	}

	s.added++
	m = m.Clone()
	m.Added = s.added

	// Prepend: the new entry has the highest Added, so it leads the
	// descending-Added slice.
	rec := record{action: a.Clone(), meta: m}
	s.byAdded = append(s.byAdded, record{})
	copy(s.byAdded[1:], s.byAdded)
	s.byAdded[0] = rec
	s.reindex()

	return m.Clone(), true, nil
}

// reindex rebuilds the id->position map after byAdded is mutated.
func (s *Store) reindex() {
	for i := range s.byID {
		delete(s.byID, i)
	}
	for i, r := range s.byAdded {
		s.byID[r.meta.ID] = i
	}
}

func (s *Store) Get(_ context.Context, order store.Order) (store.Page, error) {
	s.mu.RLock()
	snapshot := make([]record, len(s.byAdded))
	copy(snapshot, s.byAdded)
	s.mu.RUnlock()

	if order == store.OrderCreated {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return id.Less(snapshot[j].meta.ID, snapshot[i].meta.ID) // descending
		})
	}
	return pageFrom(snapshot, 0), nil
}

func pageFrom(all []record, offset int) store.Page {
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	entries := make([]store.Entry, 0, end-offset)
	for _, r := range all[offset:end] {
		entries = append(entries, store.Entry{Action: r.action.Clone(), Meta: r.meta.Clone()})
	}
	var next func(ctx context.Context) (store.Page, error)
	if end < len(all) {
		next = func(ctx context.Context) (store.Page, error) {
			return pageFrom(all, end), nil
		}
	}
	return store.Page{Entries: entries, Next: next}
}

func (s *Store) ByID(_ context.Context, i id.ID) (action.Action, action.Meta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[i]
	if !ok {
		return nil, action.Meta{}, false, nil
	}
	r := s.byAdded[idx]
	return r.action.Clone(), r.meta.Clone(), true, nil
}

func (s *Store) Has(ctx context.Context, i id.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[i]
	return ok, nil
}

func (s *Store) Remove(_ context.Context, i id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[i]
	if !ok {
		return nil
	}
	s.byAdded = append(s.byAdded[:idx:idx], s.byAdded[idx+1:]...)
	s.reindex()
	return nil
}

func (s *Store) ChangeMeta(_ context.Context, i id.ID, diff map[string]any) (bool, error) {
	for f := range diff {
		if store.ReservedMetaFields[f] {
			return false, errors.Errorf("changeMeta: field %q is reserved", f)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[i]
	if !ok {
		return false, nil
	}
	m := s.byAdded[idx].meta
	for k, v := range diff {
		switch k {
		case "time":
			if t, ok := v.(int64); ok {
				m.Time = t
			}
		case "reasons":
			if r, ok := v.([]string); ok {
				m.Reasons = r
			}
		default:
			m.SetExtra(k, v)
		}
	}
	s.byAdded[idx].meta = m
	return true, nil
}

func (s *Store) RemoveReason(_ context.Context, reason string, criteria store.Criteria, cb func(action.Action, action.Meta)) error {
	s.mu.Lock()

	var toDelete []id.ID
	var toDrop []id.ID
	var toReport []record

	for _, r := range s.byAdded {
		if !r.meta.HasReason(reason) || !criteria.Matches(r.meta) {
			continue
		}
		if len(r.meta.Reasons) == 1 {
			toDelete = append(toDelete, r.meta.ID)
			toReport = append(toReport, r)
		} else {
			toDrop = append(toDrop, r.meta.ID)
		}
	}

	var errs *multierror.Error
	for _, i := range toDelete {
		idx, ok := s.byID[i]
		if !ok {
			continue
		}
		s.byAdded = append(s.byAdded[:idx:idx], s.byAdded[idx+1:]...)
		s.reindex()
	}
	for _, i := range toDrop {
		idx, ok := s.byID[i]
		if !ok {
			errs = multierror.Append(errs, errors.Errorf("removeReason: entry %s vanished mid-pass", i))
			continue
		}
		m := s.byAdded[idx].meta
		m.RemoveReason(reason)
		s.byAdded[idx].meta = m
	}

	s.mu.Unlock()

	for _, r := range toReport {
		cb(r.action.Clone(), r.meta.Clone())
	}
	return errs.ErrorOrNil()
}

func (s *Store) LastAdded(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.added, nil
}

func (s *Store) GetLastSynced(_ context.Context, peer string) (store.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[peer], nil
}

func (s *Store) SetLastSynced(_ context.Context, peer string, c store.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cursors[peer]
	if c.Sent != 0 {
		cur.Sent = c.Sent
	}
	if c.Received != 0 {
		cur.Received = c.Received
	}
	s.cursors[peer] = cur
	return nil
}

var _ store.Store = (*Store)(nil)
