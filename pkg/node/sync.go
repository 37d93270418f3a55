package node

import (
	"context"
	"sort"

	"github.com/juanpablocruz/actionsync/pkg/action"
	logpkg "github.com/juanpablocruz/actionsync/pkg/log"
	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/wire"
)

// startSync sends every locally-persisted entry the peer hasn't seen
// yet (per the resume cursor), then subscribes to future log adds so
// new entries stream out live for the rest of the connected interval.
func (n *Node) startSync() {
	ctx, cancel := context.WithCancel(context.Background())

	go n.sendBacklog(ctx)

	unbind := n.log.OnAdd(func(e logpkg.Entry) {
		n.streamOne(e.Action, e.Meta)
	})
	n.syncCancel = func() {
		cancel()
		unbind()
	}
}

func (n *Node) stopSync() {
	if n.syncCancel != nil {
		n.syncCancel()
		n.syncCancel = nil
	}
}

func (n *Node) sendBacklog(ctx context.Context) {
	since := n.cursor(ctx).Sent

	var pending []wire.Pair
	err := n.log.Each(ctx, store.OrderAdded, func(a action.Action, m action.Meta) bool {
		if m.Added <= since {
			return false // OrderAdded is descending; once we're at/before since, the rest is older still
		}
		if n.isFromPeer(m) {
			return true // arrived from this same connection: don't echo it back
		}
		if n.opts.OutFilter != nil && !n.opts.OutFilter(a, m) {
			return true
		}
		if n.opts.OutMap != nil {
			a, m = n.opts.OutMap(a, m)
		}
		pending = append(pending, wire.Pair{Action: a, Meta: m})
		return true
	})
	if err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
		return
	}
	if len(pending) == 0 {
		return
	}
	// Each/Get walks newest-first; the wire batch should read oldest-first.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Meta.Added < pending[j].Meta.Added
	})
	n.sendSync(pending)
}

func (n *Node) streamOne(a action.Action, m action.Meta) {
	if m.Added == 0 {
		return // reasonless, non-persisted action: nothing to sync
	}
	if n.isFromPeer(m) {
		return // arrived from this same connection: don't echo it back
	}
	if n.opts.OutFilter != nil && !n.opts.OutFilter(a, m) {
		return
	}
	if n.opts.OutMap != nil {
		a, m = n.opts.OutMap(a, m)
	}
	n.sendSync([]wire.Pair{{Action: a, Meta: m}})
}

// isFromPeer reports whether m was synced in from this Node's own
// remote connection, per the origin tag handleSync attaches.
func (n *Node) isFromPeer(m action.Meta) bool {
	v, ok := m.GetExtra(action.OriginExtraKey)
	if !ok {
		return false
	}
	origin, _ := v.(string)
	return origin != "" && origin == n.remoteNodeIDSafe()
}

// sendSync applies the estimated clock offset to every outgoing entry's
// Meta.Time, so a peer with FixTime reads timestamps normalized to its
// own clock rather than the sender's.
func (n *Node) sendSync(entries []wire.Pair) {
	if offset := n.TimeOffset(); offset != 0 {
		for i := range entries {
			entries[i].Meta.Time -= offset
		}
	}
	highest := entries[len(entries)-1].Meta.Added
	msg := wire.SyncMessage{Synced: highest, Entries: entries}
	if err := n.send(msg); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
		return
	}
	n.mu.Lock()
	n.syncing++
	n.mu.Unlock()
	n.emit(EventSync, map[string]any{"count": len(entries), "synced": highest})
}

func (n *Node) handleSync(m wire.SyncMessage) {
	ctx := context.Background()
	offset := n.TimeOffset()
	origin := n.remoteNodeIDSafe()
	for _, pair := range m.Entries {
		a, meta := pair.Action, pair.Meta
		if offset != 0 {
			meta.Time += offset
		}
		if n.opts.InFilter != nil && !n.opts.InFilter(a, meta) {
			continue
		}
		if n.opts.InMap != nil {
			a, meta = n.opts.InMap(a, meta)
		}
		// The sender's Added is its own bookkeeping value, not ours; our
		// Log/Store assigns its own on persist.
		meta.Added = 0
		meta.SetExtra(action.OriginExtraKey, origin)
		if _, _, err := n.log.Add(ctx, a, meta); err != nil {
			n.emit(EventWarn, map[string]any{"err": err.Error()})
		}
	}

	n.setCursor(ctx, store.Cursor{Received: m.Synced})
	if err := n.send(wire.SyncedMessage{Synced: m.Synced}); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
	}
}

func (n *Node) handleSynced(m wire.SyncedMessage) {
	n.setCursor(context.Background(), store.Cursor{Sent: m.Synced})
	n.mu.Lock()
	if n.syncing > 0 {
		n.syncing--
	}
	drained := n.syncing == 0
	n.mu.Unlock()
	if drained {
		n.emit(EventSynced, map[string]any{"synced": m.Synced})
	}
}
