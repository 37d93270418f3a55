// Package log implements the append-only action log: id assignment,
// reason-based retention, and the before/add/clean/changeMeta event
// stream a Node observes to decide what to synchronize.
package log

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/emitter"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/store"
)

// maxSequence bounds how far Sequence can run within one millisecond
// before GenerateID forces lastTime forward. Monotonicity is kept by
// reuse of lastTime on a backward clock jump, but a long backward jump
// must not let Sequence grow without bound.
const maxSequence = 1 << 20

// Entry pairs an action with its metadata, the payload of add/clean
// events. Before is a pointer variant so listeners can mutate Meta.
type Entry struct {
	Action action.Action
	Meta   action.Meta
}

// ChangeMetaEvent is the payload of a changeMeta event.
type ChangeMetaEvent struct {
	Action action.Action
	Meta   action.Meta
	Diff   map[string]any
}

// Option configures a Log at construction.
type Option func(*Log)

// WithTimer overrides the millisecond clock GenerateID reads from. Tests
// use this to make id generation deterministic.
func WithTimer(fn func() int64) Option {
	return func(l *Log) { l.timer = fn }
}

// WithLogger attaches structured logging (defaults to a disabled logger).
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Log is the append-only, totally-ordered action log for one nodeId,
// backed by one Store.
type Log struct {
	nodeID string
	store  store.Store
	timer  func() int64
	logger zerolog.Logger

	mu       sync.Mutex
	lastTime int64
	sequence int64

	before     *emitter.Emitter[*Entry]
	add        *emitter.Emitter[Entry]
	clean      *emitter.Emitter[Entry]
	changeMeta *emitter.Emitter[ChangeMetaEvent]
}

// New constructs a Log for nodeID backed by st.
func New(nodeID string, st store.Store, opts ...Option) (*Log, error) {
	if nodeID == "" {
		return nil, errors.New("log: nodeID must not be empty")
	}
	if st == nil {
		return nil, errors.New("log: store must not be nil")
	}
	l := &Log{
		nodeID:     nodeID,
		store:      st,
		timer:      func() int64 { return time.Now().UnixMilli() },
		logger:     zerolog.Nop(),
		before:     emitter.New[*Entry](),
		add:        emitter.New[Entry](),
		clean:      emitter.New[Entry](),
		changeMeta: emitter.New[ChangeMetaEvent](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NodeID returns the log's owning node id.
func (l *Log) NodeID() string { return l.nodeID }

// Store returns the backing Store.
func (l *Log) Store() store.Store { return l.store }

// GenerateID returns a strictly increasing id on every call. It is safe
// for concurrent use.
func (l *Log) GenerateID() id.ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timer()
	if now <= l.lastTime {
		l.sequence++
		if l.sequence > maxSequence {
			l.logger.Warn().
				Int64("lastTime", l.lastTime).
				Msg("log: id sequence overflowed within one tick; advancing clock to stay monotone")
			l.lastTime++
			l.sequence = 0
		}
	} else {
		l.lastTime = now
		l.sequence = 0
	}
	return id.New(l.lastTime, l.nodeID, l.sequence)
}

func isUnsetID(i id.ID) bool {
	return i.NodeID == "" && i.Time == 0 && i.Sequence == 0
}

// Add assigns identity if missing, runs the synchronous "before" hook,
// then either broadcasts a reasonless action or persists a reasoned one.
func (l *Log) Add(ctx context.Context, a action.Action, m action.Meta) (action.Meta, bool, error) {
	if _, ok := a.Type(); !ok {
		return action.Meta{}, false, errors.New("log: action must have a \"type\" field")
	}

	idSupplied := !isUnsetID(m.ID)
	if !idSupplied {
		m.ID = l.GenerateID()
	}
	if m.Time == 0 {
		m.Time = m.ID.Time
	}
	if m.Reasons == nil {
		m.Reasons = []string{}
	}

	entry := &Entry{Action: a, Meta: m}
	l.before.Emit(entry)
	m = entry.Meta

	if len(m.Reasons) == 0 {
		if !idSupplied {
			l.add.Emit(Entry{Action: a, Meta: m})
			return m, true, nil
		}
		has, err := l.store.Has(ctx, m.ID)
		if err != nil {
			return action.Meta{}, false, errors.Wrap(err, "log: checking existing id")
		}
		if has {
			return action.Meta{}, false, nil
		}
		l.add.Emit(Entry{Action: a, Meta: m})
		return m, true, nil
	}

	stored, ok, err := l.store.Add(ctx, a, m)
	if err != nil {
		return action.Meta{}, false, errors.Wrap(err, "log: store add")
	}
	if !ok {
		return action.Meta{}, false, nil
	}
	l.add.Emit(Entry{Action: a, Meta: stored})
	return stored, true, nil
}

// ChangeMeta merges diff into the stored meta for i, rejecting attempts
// to touch "id" or "added".
func (l *Log) ChangeMeta(ctx context.Context, i id.ID, diff map[string]any) (bool, error) {
	for f := range diff {
		if store.ReservedMetaFields[f] {
			return false, errors.Errorf("log: changeMeta: field %q is reserved", f)
		}
	}
	ok, err := l.store.ChangeMeta(ctx, i, diff)
	if err != nil {
		return false, errors.Wrap(err, "log: store changeMeta")
	}
	if ok {
		a, m, found, err := l.store.ByID(ctx, i)
		if err == nil && found {
			l.changeMeta.Emit(ChangeMetaEvent{Action: a, Meta: m, Diff: diff})
		}
	}
	return ok, nil
}

// RemoveReason drops reason from every matching entry, deleting entries
// for which it was the last reason, and emits "clean" for each.
func (l *Log) RemoveReason(ctx context.Context, reason string, criteria store.Criteria) error {
	err := l.store.RemoveReason(ctx, reason, criteria, func(a action.Action, m action.Meta) {
		l.clean.Emit(Entry{Action: a, Meta: m})
	})
	if err != nil {
		return errors.Wrap(err, "log: removeReason")
	}
	return nil
}

// Each paginates the store in order, invoking cb for every entry until
// it returns false or entries are exhausted.
func (l *Log) Each(ctx context.Context, order store.Order, cb func(action.Action, action.Meta) bool) error {
	page, err := l.store.Get(ctx, order)
	if err != nil {
		return errors.Wrap(err, "log: each: store get")
	}
	for {
		for _, e := range page.Entries {
			if !cb(e.Action, e.Meta) {
				return nil
			}
		}
		if page.Next == nil {
			return nil
		}
		page, err = page.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "log: each: next page")
		}
	}
}

// OnBefore registers a listener that may mutate meta (typically Reasons)
// before Add decides whether to persist it.
func (l *Log) OnBefore(fn func(*Entry)) (unbind func()) { return l.before.On(fn) }

// OnAdd registers a listener notified after an action is admitted,
// whether or not it was persisted.
func (l *Log) OnAdd(fn func(Entry)) (unbind func()) { return l.add.On(fn) }

// OnceAdd registers a one-shot Add listener.
func (l *Log) OnceAdd(fn func(Entry)) (unbind func()) { return l.add.Once(fn) }

// OnClean registers a listener notified for every action RemoveReason
// deletes outright (its removed reason was its only one); an entry
// that merely loses one of several reasons is not reported.
func (l *Log) OnClean(fn func(Entry)) (unbind func()) { return l.clean.On(fn) }

// OnChangeMeta registers a listener notified after a successful
// ChangeMeta.
func (l *Log) OnChangeMeta(fn func(ChangeMetaEvent)) (unbind func()) { return l.changeMeta.On(fn) }
