// Package id implements the total order on action identifiers used by
// the log and the sync protocol: a triple of (time, nodeId, sequence)
// compared lexicographically, with the nodeId itself split at its last
// ':' so that same-machine ids sharing a prefix are ordered numerically
// on their suffix when possible.
package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a single action within a log. It is not wall-clock
// correct across machines but is deterministic given two ids.
type ID struct {
	Time     int64
	NodeID   string
	Sequence int64
}

// New builds an ID from its three parts.
func New(t int64, nodeID string, seq int64) ID {
	return ID{Time: t, NodeID: nodeID, Sequence: seq}
}

// NewNodeID mints a fresh, globally unique node identifier for a log
// that isn't handed one explicitly (e.g. a throwaway client).
func NewNodeID() string {
	return uuid.NewString()
}

// String renders the id as "time nodeId sequence", the canonical
// human-readable and wire form.
func (a ID) String() string {
	return fmt.Sprintf("%d %s %d", a.Time, a.NodeID, a.Sequence)
}

// splitNodeID splits nodeId at its last ':' into (prefix, suffix). If
// there is no ':', the whole string is the suffix and the prefix is empty.
func splitNodeID(nodeID string) (prefix, suffix string) {
	i := strings.LastIndex(nodeID, ":")
	if i < 0 {
		return "", nodeID
	}
	return nodeID[:i], nodeID[i+1:]
}

// compareNodeID compares two nodeId strings by (prefix, suffix), where
// suffix is compared numerically when both sides parse as integers and
// lexicographically otherwise.
func compareNodeID(a, b string) int {
	if a == b {
		return 0
	}
	pa, sa := splitNodeID(a)
	pb, sb := splitNodeID(b)
	if pa != pb {
		return strings.Compare(pa, pb)
	}
	na, erra := strconv.ParseInt(sa, 10, 64)
	nb, errb := strconv.ParseInt(sb, 10, 64)
	if erra == nil && errb == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(sa, sb)
}

// Compare returns -1 if a sorts before b, 1 if after, 0 if equal, under
// the total order (time, nodeId-split, sequence).
func Compare(a, b ID) int {
	switch {
	case a.Time < b.Time:
		return -1
	case a.Time > b.Time:
		return 1
	}
	if c := compareNodeID(a.NodeID, b.NodeID); c != 0 {
		return c
	}
	switch {
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b.
func Less(a, b ID) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b are the same id.
func Equal(a, b ID) bool { return Compare(a, b) == 0 }

// IsFirstOlder reports whether a is older than b (a < b), treating a nil
// pointer as negative infinity: a nil a is older than any real id, a nil
// b makes any real a not older, and two nils are not "older" (equal).
func IsFirstOlder(a, b *ID) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	default:
		return Less(*a, *b)
	}
}
