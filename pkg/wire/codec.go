package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/synerr"
)

// FormatError reports a malformed frame: wrong arity or wrong element
// types for the tag's grammar row. Node turns this into an outbound
// `error wrong-format` message.
type FormatError struct {
	Raw json.RawMessage
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("wire: malformed message %s: %v", e.Raw, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Encode serializes msg into one JSON-array wire frame.
func Encode(msg Message) ([]byte, error) {
	var arr []any
	switch m := msg.(type) {
	case ConnectMessage:
		arr = []any{Connect, protocolArr(m.Protocol), m.NodeID, m.Synced}
		if m.Opts != nil {
			arr = append(arr, optsMap(m.Opts))
		}
	case ConnectedMessage:
		arr = []any{Connected, protocolArr(m.Protocol), m.NodeID, []any{m.Start, m.End}}
		if m.Opts != nil {
			arr = append(arr, optsMap(m.Opts))
		}
	case PingMessage:
		arr = []any{Ping, m.Synced}
	case PongMessage:
		arr = []any{Pong, m.Synced}
	case SyncMessage:
		arr = []any{Sync, m.Synced}
		for _, p := range m.Entries {
			arr = append(arr, map[string]any(p.Action), encodeMeta(p.Meta))
		}
	case SyncedMessage:
		arr = []any{Synced, m.Synced}
	case ErrorMessage:
		arr = []any{Error, string(m.Kind)}
		if m.Detail != "" {
			arr = append(arr, m.Detail)
		}
	case DebugMessage:
		arr = []any{Debug, m.Type, m.Data}
	default:
		return nil, errors.Errorf("wire: unknown message type %T", msg)
	}
	return json.Marshal(arr)
}

// Decode parses one JSON-array wire frame into a Message, validating
// arity and element types against the grammar table. Any violation is
// returned as a *FormatError wrapping the raw frame for the caller to
// echo back in an `error wrong-format` reply.
func Decode(frame []byte) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, &FormatError{Raw: frame, Err: err}
	}
	if len(raw) == 0 {
		return nil, &FormatError{Raw: frame, Err: errors.New("empty message")}
	}
	var tag string
	if err := json.Unmarshal(raw[0], &tag); err != nil {
		return nil, &FormatError{Raw: frame, Err: errors.New("first element must be a string tag")}
	}

	msg, err := decodeByTag(Command(tag), raw)
	if err != nil {
		return nil, &FormatError{Raw: frame, Err: err}
	}
	return msg, nil
}

func decodeByTag(tag Command, raw []json.RawMessage) (Message, error) {
	switch tag {
	case Connect:
		return decodeConnect(raw)
	case Connected:
		return decodeConnected(raw)
	case Ping:
		return decodePingPong(raw, true)
	case Pong:
		return decodePingPong(raw, false)
	case Sync:
		return decodeSync(raw)
	case Synced:
		return decodeSynced(raw)
	case Error:
		return decodeError(raw)
	case Debug:
		return decodeDebug(raw)
	default:
		return nil, errors.Errorf("unknown command %q", tag)
	}
}

func decodeConnect(raw []json.RawMessage) (Message, error) {
	if len(raw) < 4 || len(raw) > 5 {
		return nil, errors.Errorf("connect: expected 4 or 5 elements, got %d", len(raw))
	}
	proto, err := decodeProtocol(raw[1])
	if err != nil {
		return nil, err
	}
	var nodeID string
	if err := json.Unmarshal(raw[2], &nodeID); err != nil {
		return nil, errors.Wrap(err, "connect: nodeId must be a string")
	}
	synced, err := decodeInt(raw[3])
	if err != nil {
		return nil, errors.Wrap(err, "connect: synced must be an integer")
	}
	msg := ConnectMessage{Protocol: proto, NodeID: nodeID, Synced: synced}
	if len(raw) == 5 {
		opts, err := decodeOpts(raw[4])
		if err != nil {
			return nil, err
		}
		msg.Opts = opts
	}
	return msg, nil
}

func decodeConnected(raw []json.RawMessage) (Message, error) {
	if len(raw) < 4 || len(raw) > 5 {
		return nil, errors.Errorf("connected: expected 4 or 5 elements, got %d", len(raw))
	}
	proto, err := decodeProtocol(raw[1])
	if err != nil {
		return nil, err
	}
	var nodeID string
	if err := json.Unmarshal(raw[2], &nodeID); err != nil {
		return nil, errors.Wrap(err, "connected: nodeId must be a string")
	}
	var window []json.RawMessage
	if err := json.Unmarshal(raw[3], &window); err != nil || len(window) != 2 {
		return nil, errors.New("connected: third element must be a [start, end] pair")
	}
	start, err := decodeInt(window[0])
	if err != nil {
		return nil, errors.Wrap(err, "connected: start must be an integer")
	}
	end, err := decodeInt(window[1])
	if err != nil {
		return nil, errors.Wrap(err, "connected: end must be an integer")
	}
	msg := ConnectedMessage{Protocol: proto, NodeID: nodeID, Start: start, End: end}
	if len(raw) == 5 {
		opts, err := decodeOpts(raw[4])
		if err != nil {
			return nil, err
		}
		msg.Opts = opts
	}
	return msg, nil
}

func decodePingPong(raw []json.RawMessage, isPing bool) (Message, error) {
	if len(raw) != 2 {
		return nil, errors.Errorf("ping/pong: expected 2 elements, got %d", len(raw))
	}
	synced, err := decodeInt(raw[1])
	if err != nil {
		return nil, errors.Wrap(err, "ping/pong: synced must be an integer")
	}
	if isPing {
		return PingMessage{Synced: synced}, nil
	}
	return PongMessage{Synced: synced}, nil
}

func decodeSync(raw []json.RawMessage) (Message, error) {
	if len(raw) < 2 {
		return nil, errors.Errorf("sync: expected at least 2 elements, got %d", len(raw))
	}
	synced, err := decodeInt(raw[1])
	if err != nil {
		return nil, errors.Wrap(err, "sync: synced must be an integer")
	}
	rest := raw[2:]
	if len(rest)%2 != 0 {
		return nil, errors.New("sync: action/meta pairs must be balanced")
	}
	msg := SyncMessage{Synced: synced}
	for i := 0; i < len(rest); i += 2 {
		var a map[string]any
		if err := json.Unmarshal(rest[i], &a); err != nil {
			return nil, errors.Wrap(err, "sync: action must be an object")
		}
		if _, ok := a["type"].(string); !ok {
			return nil, errors.New("sync: action must have a string \"type\"")
		}
		var rawMeta map[string]any
		if err := json.Unmarshal(rest[i+1], &rawMeta); err != nil {
			return nil, errors.Wrap(err, "sync: meta must be an object")
		}
		meta, err := decodeMeta(rawMeta)
		if err != nil {
			return nil, err
		}
		msg.Entries = append(msg.Entries, Pair{Action: action.Action(a), Meta: meta})
	}
	return msg, nil
}

func decodeSynced(raw []json.RawMessage) (Message, error) {
	if len(raw) != 2 {
		return nil, errors.Errorf("synced: expected 2 elements, got %d", len(raw))
	}
	synced, err := decodeInt(raw[1])
	if err != nil {
		return nil, errors.Wrap(err, "synced: synced must be an integer")
	}
	return SyncedMessage{Synced: synced}, nil
}

func decodeError(raw []json.RawMessage) (Message, error) {
	if len(raw) < 2 || len(raw) > 3 {
		return nil, errors.Errorf("error: expected 2 or 3 elements, got %d", len(raw))
	}
	var kind string
	if err := json.Unmarshal(raw[1], &kind); err != nil {
		return nil, errors.Wrap(err, "error: kind must be a string")
	}
	msg := ErrorMessage{Kind: synerr.Kind(kind)}
	if len(raw) == 3 {
		if err := json.Unmarshal(raw[2], &msg.Detail); err != nil {
			return nil, errors.Wrap(err, "error: detail must be a string")
		}
	}
	return msg, nil
}

func decodeDebug(raw []json.RawMessage) (Message, error) {
	if len(raw) != 3 {
		return nil, errors.Errorf("debug: expected 3 elements, got %d", len(raw))
	}
	var typ string
	if err := json.Unmarshal(raw[1], &typ); err != nil {
		return nil, errors.Wrap(err, "debug: type must be a string")
	}
	var data any
	if err := json.Unmarshal(raw[2], &data); err != nil {
		return nil, errors.Wrap(err, "debug: data must be valid JSON")
	}
	return DebugMessage{Type: typ, Data: data}, nil
}

func decodeProtocol(raw json.RawMessage) (Protocol, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return Protocol{}, errors.New("protocol must be a [major, minor] pair")
	}
	major, err := decodeInt(pair[0])
	if err != nil {
		return Protocol{}, errors.Wrap(err, "protocol major must be an integer")
	}
	minor, err := decodeInt(pair[1])
	if err != nil {
		return Protocol{}, errors.Wrap(err, "protocol minor must be an integer")
	}
	return Protocol{Major: int(major), Minor: int(minor)}, nil
}

func decodeOpts(raw json.RawMessage) (*Opts, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "opts must be an object")
	}
	opts := &Opts{}
	if v, ok := m["credentials"]; ok {
		opts.Credentials = v
	}
	if v, ok := m["subprotocol"].(string); ok {
		opts.Subprotocol = v
	}
	return opts, nil
}

func protocolArr(p Protocol) []any { return []any{p.Major, p.Minor} }

func optsMap(o *Opts) map[string]any {
	m := map[string]any{}
	if o.Credentials != nil {
		m["credentials"] = o.Credentials
	}
	if o.Subprotocol != "" {
		m["subprotocol"] = o.Subprotocol
	}
	return m
}

func decodeInt(raw json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return int64(f), nil
}

func encodeMeta(m action.Meta) map[string]any {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		if k == action.OriginExtraKey {
			continue
		}
		out[k] = v
	}
	out["id"] = []any{m.ID.Time, m.ID.NodeID, m.ID.Sequence}
	out["time"] = m.Time
	if m.Added != 0 {
		out["added"] = m.Added
	}
	if len(m.Reasons) > 0 {
		out["reasons"] = m.Reasons
	}
	return out
}

func decodeMeta(raw map[string]any) (action.Meta, error) {
	idRaw, ok := raw["id"].([]any)
	if !ok || len(idRaw) != 3 {
		return action.Meta{}, errors.New("meta.id must be a [time, nodeId, sequence] triple")
	}
	t, err := toInt64(idRaw[0])
	if err != nil {
		return action.Meta{}, errors.Wrap(err, "meta.id[0] (time) must be numeric")
	}
	nodeID, ok := idRaw[1].(string)
	if !ok {
		return action.Meta{}, errors.New("meta.id[1] (nodeId) must be a string")
	}
	seq, err := toInt64(idRaw[2])
	if err != nil {
		return action.Meta{}, errors.Wrap(err, "meta.id[2] (sequence) must be numeric")
	}

	m := action.Meta{ID: id.New(t, nodeID, seq)}
	if v, ok := raw["time"]; ok {
		m.Time, _ = toInt64(v)
	}
	if v, ok := raw["added"]; ok {
		m.Added, _ = toInt64(v)
	}
	if v, ok := raw["reasons"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				m.Reasons = append(m.Reasons, s)
			}
		}
	}
	for k, v := range raw {
		switch k {
		case "id", "time", "added", "reasons", action.OriginExtraKey:
			continue
		default:
			m.SetExtra(k, v)
		}
	}
	return m, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Errorf("expected a number, got %T", v)
	}
}
