// Package node implements the sync-node finite-state machine: handshake
// and auth, NTP-style clock offset estimation, backlog streaming with
// in/out filter and map hooks, ping/pong heartbeat, and error taxonomy
// propagation, driven by any transport.Connection and any log.Log.
//
// A Node is an event-emitting struct with a background recv loop and
// heartbeat loop wired to a transport endpoint, driving a
// handshake/sync/heartbeat wire grammar.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/juanpablocruz/actionsync/pkg/emitter"
	logpkg "github.com/juanpablocruz/actionsync/pkg/log"
	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/synerr"
	"github.com/juanpablocruz/actionsync/pkg/transport"
	"github.com/juanpablocruz/actionsync/pkg/wire"
)

// CurrentProtocol is the (major, minor) version this package speaks.
// A peer with a different Major is rejected as wrong-protocol.
var CurrentProtocol = wire.Protocol{Major: 1, Minor: 0}

// Node drives one Connection through handshake, sync, and heartbeat on
// behalf of one Log. Node is not safe to Connect concurrently from
// multiple goroutines, but its event callbacks and public accessors are.
type Node struct {
	role Role
	id   string
	log  *logpkg.Log
	conn transport.Connection
	opts Options

	mu            sync.Mutex
	state         State
	remoteNodeID  string
	timeOffset    int64
	connectSentAt int64
	destroyed     bool
	syncing       int

	timeoutTimer *time.Timer
	pingTimer    *time.Timer
	hbActive     bool
	lastActivity time.Time

	syncCancel context.CancelFunc

	unbind []func()
	events *emitter.Emitter[Event]
}

func newNode(role Role, l *logpkg.Log, conn transport.Connection, opts ...Option) (*Node, error) {
	if l == nil {
		return nil, errors.New("node: log must not be nil")
	}
	if conn == nil {
		return nil, errors.New("node: connection must not be nil")
	}
	o, err := buildOptions(opts...)
	if err != nil {
		return nil, err
	}

	n := &Node{
		role:   role,
		id:     l.NodeID(),
		log:    l,
		conn:   conn,
		opts:   o,
		state:  StateDisconnected,
		events: emitter.New[Event](),
	}

	n.unbind = append(n.unbind,
		conn.OnConnecting(n.onTransportConnecting),
		conn.OnConnect(n.onTransportConnect),
		conn.OnMessage(n.onTransportMessage),
		conn.OnDisconnect(n.onTransportDisconnect),
		conn.OnError(n.onTransportError),
	)

	if conn.Connected() {
		// Server nodes are commonly handed an already-accepted connection.
		go n.onTransportConnect()
	}

	return n, nil
}

// NewClient builds a Node that initiates the handshake once connected.
func NewClient(l *logpkg.Log, conn transport.Connection, opts ...Option) (*Node, error) {
	return newNode(RoleClient, l, conn, opts...)
}

// NewServer builds a Node that waits for the peer's connect message.
func NewServer(l *logpkg.Log, conn transport.Connection, opts ...Option) (*Node, error) {
	return newNode(RoleServer, l, conn, opts...)
}

// Connect opens the underlying transport. For a server Node, whose
// connection is normally already established, this is a no-op.
func (n *Node) Connect(ctx context.Context) error {
	return n.conn.Connect(ctx)
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// RemoteNodeID returns the peer's node id, empty until past handshake.
func (n *Node) RemoteNodeID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteNodeID
}

// TimeOffset returns the estimated remote-minus-local clock offset in
// milliseconds, valid once FixTime has run.
func (n *Node) TimeOffset() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timeOffset
}

// Syncing returns the number of outbound sync batches sent but not yet
// acknowledged by a synced message from the peer.
func (n *Node) Syncing() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.syncing
}

// On subscribes to the node's diagnostic event stream.
func (n *Node) On(fn func(Event)) (unbind func()) { return n.events.On(fn) }

func (n *Node) emit(t EventType, fields map[string]any) {
	n.events.Emit(Event{Time: time.Now(), NodeID: n.id, Type: t, Fields: fields})
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
	n.emit(EventStateChange, map[string]any{"state": s.String()})
}

func (n *Node) onTransportConnecting() {
	n.setState(StateDisconnected)
	n.emit(EventConnecting, nil)
}

func (n *Node) onTransportConnect() {
	n.setState(StateHandshaking)
	n.emit(EventConnect, nil)
	if n.role == RoleClient {
		n.sendConnect()
	}
}

func (n *Node) onTransportDisconnect(e transport.DisconnectEvent) {
	n.stopHeartbeat()
	n.stopSync()
	n.setState(StateDisconnected)
	n.emit(EventDisconnect, map[string]any{"reason": string(e.Reason)})
}

func (n *Node) onTransportError(e transport.ErrorEvent) {
	n.emit(EventWarn, map[string]any{"err": e.Err.Error()})
}

func (n *Node) onTransportMessage(e transport.MessageEvent) {
	msg, err := wire.Decode(e.Data)
	if err != nil {
		n.failLocal(synerr.WrongFormat, string(e.Data))
		return
	}
	n.emit(EventReceive, map[string]any{"command": string(msg.Command())})
	n.dispatch(msg)
}

func (n *Node) dispatch(msg wire.Message) {
	switch m := msg.(type) {
	case wire.ConnectMessage:
		n.handleConnect(m)
	case wire.ConnectedMessage:
		n.handleConnected(m)
	case wire.PingMessage:
		n.handlePing(m)
	case wire.PongMessage:
		n.handlePong(m)
	case wire.SyncMessage:
		n.handleSync(m)
	case wire.SyncedMessage:
		n.handleSynced(m)
	case wire.ErrorMessage:
		n.handleError(m)
	case wire.DebugMessage:
		n.emit(EventReceive, map[string]any{"debug_type": m.Type})
	default:
		n.failLocal(synerr.UnknownMessage, "unhandled message type")
	}
}

// send frames msg and writes it to the transport, returning any encode
// or write error; callers report such failures on the event stream
// rather than propagating them further.
func (n *Node) send(msg wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return errors.Wrap(err, "node: encode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.conn.Send(ctx, frame); err != nil {
		return errors.Wrap(err, "node: send")
	}
	n.markActivity()
	n.emit(EventSend, map[string]any{"command": string(msg.Command())})
	return nil
}

// markActivity records outbound traffic so the heartbeat loop can
// schedule its next ping relative to the last time we actually wrote to
// the connection, not on a fixed tick.
func (n *Node) markActivity() {
	n.mu.Lock()
	n.lastActivity = time.Now()
	n.mu.Unlock()
}

// fail sends an error message to the peer, then disconnects locally.
func (n *Node) fail(kind synerr.Kind, detail string) {
	_ = n.send(wire.ErrorMessage{Kind: kind, Detail: detail})
	n.disconnectFor(kind)
}

// failLocal reports a locally-detected violation without necessarily
// having a well-formed peer to notify (e.g. undecodable frame); it
// still best-effort notifies since most local failures are about a
// single malformed message on an otherwise-alive connection.
func (n *Node) failLocal(kind synerr.Kind, detail string) {
	n.emit(EventWarn, map[string]any{"kind": string(kind), "detail": detail})
	n.fail(kind, detail)
}

func (n *Node) disconnectFor(kind synerr.Kind) {
	reason := transport.ReasonError
	switch {
	case kind.IsTerminal():
		reason = transport.ReasonProtocol
	case kind == synerr.Timeout:
		reason = transport.ReasonTimeout
	}
	_ = n.conn.Disconnect(reason)
}

func (n *Node) handleError(m wire.ErrorMessage) {
	n.emit(EventWarn, map[string]any{"remote_kind": string(m.Kind), "detail": m.Detail})
	reason := transport.ReasonRemote
	if m.Kind.IsTerminal() {
		reason = transport.ReasonProtocol
	}
	_ = n.conn.Disconnect(reason)
}

func (n *Node) cursor(ctx context.Context) store.Cursor {
	if n.remoteNodeIDSafe() == "" {
		return store.Cursor{}
	}
	c, err := n.log.Store().GetLastSynced(ctx, n.remoteNodeIDSafe())
	if err != nil {
		return store.Cursor{}
	}
	return c
}

func (n *Node) remoteNodeIDSafe() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteNodeID
}

func (n *Node) setCursor(ctx context.Context, c store.Cursor) {
	peer := n.remoteNodeIDSafe()
	if peer == "" {
		return
	}
	_ = n.log.Store().SetLastSynced(ctx, peer, c)
}

// Destroy tears down the connection and unbinds every listener the Node
// registered, on the transport and on the log. Safe to call more than
// once.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.mu.Unlock()

	n.stopHeartbeat()
	n.stopSync()
	for _, u := range n.unbind {
		u()
	}
	n.conn.Destroy()
}
