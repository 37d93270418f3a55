// Package action defines the Action and Meta data model: an opaque,
// application-typed event and the metadata a Log and Store attach to it.
package action

import (
	"github.com/juanpablocruz/actionsync/pkg/id"
)

// TypeField is the mandatory discriminator key every Action must carry.
const TypeField = "type"

// OriginExtraKey tags a synced-in Meta's Extra with the connection it
// arrived on, so node can skip echoing the entry straight back down the
// same connection. It is stripped before encoding and never crosses
// the wire.
const OriginExtraKey = "_origin"

// Action is an opaque application payload. Its only contractual field is
// TypeField ("type"); everything else is untouched by the core.
type Action map[string]any

// Type returns the action's "type" discriminator, and whether it was
// present and a string.
func (a Action) Type() (string, bool) {
	v, ok := a[TypeField]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy of the action, so a listener that received
// it cannot mutate the caller's copy.
func (a Action) Clone() Action {
	out := make(Action, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Meta carries per-action metadata: identity, timing, persistence
// bookkeeping, and reason-based retention, plus arbitrary extra fields
// that are carried through transparently.
type Meta struct {
	ID    id.ID
	Time  int64
	Added int64 // 0 means "not yet persisted"

	// Reasons is the set of opaque tags keeping the action resident in a
	// Store. An action with zero reasons is not stored.
	Reasons []string

	// Extra carries any additional fields transparently (e.g. "channel",
	// "subprotocol", peer-tagging used internally by node to suppress
	// re-broadcast).
	Extra map[string]any
}

// Clone returns a deep-enough copy of Meta: Reasons and Extra are copied
// so mutating the clone never affects the original.
func (m Meta) Clone() Meta {
	out := m
	if m.Reasons != nil {
		out.Reasons = append([]string(nil), m.Reasons...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HasReason reports whether reason is present in m.Reasons.
func (m Meta) HasReason(reason string) bool {
	for _, r := range m.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// AddReason appends reason if not already present.
func (m *Meta) AddReason(reason string) {
	if m.HasReason(reason) {
		return
	}
	m.Reasons = append(m.Reasons, reason)
}

// RemoveReason drops exactly the named reason, keeping the rest. It
// returns whether the reason was present.
func (m *Meta) RemoveReason(reason string) bool {
	for i, r := range m.Reasons {
		if r == reason {
			m.Reasons = append(m.Reasons[:i:i], m.Reasons[i+1:]...)
			return true
		}
	}
	return false
}

// GetExtra reads a value out of Extra, tolerating a nil map.
func (m Meta) GetExtra(key string) (any, bool) {
	if m.Extra == nil {
		return nil, false
	}
	v, ok := m.Extra[key]
	return v, ok
}

// SetExtra writes a value into Extra, allocating the map on first use.
func (m *Meta) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}
