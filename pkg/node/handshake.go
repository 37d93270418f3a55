package node

import (
	"context"
	"time"

	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/synerr"
	"github.com/juanpablocruz/actionsync/pkg/wire"
)

// sendConnect is the client-side handshake opener: connect, then wait
// for connected. connectSentAt is recorded to compute the clock offset
// once the round trip completes.
func (n *Node) sendConnect() {
	ctx := context.Background()
	n.mu.Lock()
	n.connectSentAt = n.opts.Timer()
	n.mu.Unlock()

	msg := wire.ConnectMessage{
		Protocol: CurrentProtocol,
		NodeID:   n.id,
		Synced:   n.cursor(ctx).Received,
	}
	if n.opts.Credentials != nil || n.opts.Subprotocol != "" {
		msg.Opts = &wire.Opts{Credentials: n.opts.Credentials, Subprotocol: n.opts.Subprotocol}
	}
	if err := n.send(msg); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
	}
}

// handleConnect is the server side: validate protocol/subprotocol/auth,
// then reply connected and move to synchronized.
func (n *Node) handleConnect(m wire.ConnectMessage) {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	if state != StateHandshaking {
		n.fail(synerr.WrongFormat, "unexpected connect outside handshake")
		return
	}

	if m.Protocol.Major != CurrentProtocol.Major {
		n.fail(synerr.WrongProtocol, "unsupported protocol major version")
		return
	}
	if n.opts.SubprotocolMatcher != nil {
		remote := ""
		if m.Opts != nil {
			remote = m.Opts.Subprotocol
		}
		if !n.opts.SubprotocolMatcher(remote) {
			n.fail(synerr.WrongSubprotocol, "subprotocol mismatch")
			return
		}
	}

	start := n.opts.Timer()

	if n.opts.Auth != nil {
		var creds any
		if m.Opts != nil {
			creds = m.Opts.Credentials
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ok, err := n.opts.Auth(ctx, creds, m.NodeID)
		cancel()
		if err != nil || !ok {
			n.fail(synerr.WrongCredentials, "authentication failed")
			return
		}
	}

	n.mu.Lock()
	n.remoteNodeID = m.NodeID
	n.mu.Unlock()
	// The peer's Synced value is what it already has of OUR log: our
	// outbound watermark, so backlog streaming can resume past it.
	n.setCursor(context.Background(), store.Cursor{Sent: m.Synced})

	end := n.opts.Timer()
	reply := wire.ConnectedMessage{Protocol: CurrentProtocol, NodeID: n.id, Start: start, End: end}
	if err := n.send(reply); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
		return
	}

	n.onHandshakeComplete()
}

// handleConnected is the client side: validate protocol, optionally
// compute the clock offset from the round-trip timestamps, and move to
// synchronized.
func (n *Node) handleConnected(m wire.ConnectedMessage) {
	n.mu.Lock()
	state := n.state
	sentAt := n.connectSentAt
	n.mu.Unlock()
	if state != StateHandshaking {
		n.fail(synerr.WrongFormat, "unexpected connected outside handshake")
		return
	}
	if m.Protocol.Major != CurrentProtocol.Major {
		n.fail(synerr.WrongProtocol, "unsupported protocol major version")
		return
	}

	n.mu.Lock()
	n.remoteNodeID = m.NodeID
	n.mu.Unlock()

	if n.opts.FixTime {
		now := n.opts.Timer()
		offset := (m.Start+m.End)/2 - (sentAt+now)/2
		n.mu.Lock()
		n.timeOffset = offset
		n.mu.Unlock()
		n.emit(EventTimeFix, map[string]any{"offset_ms": offset})
	}

	n.onHandshakeComplete()
}

func (n *Node) onHandshakeComplete() {
	n.setState(StateSynchronized)
	n.startHeartbeat()
	n.startSync()
}
