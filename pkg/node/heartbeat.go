package node

import (
	"context"
	"time"

	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/synerr"
	"github.com/juanpablocruz/actionsync/pkg/wire"
)

// startHeartbeat begins the ping/pong loop once past handshake. Ping==0
// disables heartbeats entirely (buildOptions already rejected Ping>0
// with Timeout<=0). The next ping is always scheduled Ping after the
// last outbound activity on the connection rather than on a fixed tick,
// so an otherwise-busy connection isn't pinged redundantly.
func (n *Node) startHeartbeat() {
	if n.opts.Ping <= 0 {
		return
	}
	n.mu.Lock()
	n.hbActive = true
	n.lastActivity = time.Now()
	n.mu.Unlock()
	n.scheduleNextPing(n.opts.Ping)
}

func (n *Node) stopHeartbeat() {
	n.mu.Lock()
	n.hbActive = false
	if n.pingTimer != nil {
		n.pingTimer.Stop()
		n.pingTimer = nil
	}
	if n.timeoutTimer != nil {
		n.timeoutTimer.Stop()
		n.timeoutTimer = nil
	}
	n.mu.Unlock()
}

func (n *Node) scheduleNextPing(d time.Duration) {
	n.mu.Lock()
	if !n.hbActive {
		n.mu.Unlock()
		return
	}
	n.pingTimer = time.AfterFunc(d, n.onPingTimer)
	n.mu.Unlock()
}

// onPingTimer fires every time a ping might be due. If activity since
// the last check hasn't left a full Ping interval of silence yet, it
// just reschedules for the remainder instead of pinging early.
func (n *Node) onPingTimer() {
	n.mu.Lock()
	if !n.hbActive {
		n.mu.Unlock()
		return
	}
	idle := time.Since(n.lastActivity)
	n.mu.Unlock()

	if idle < n.opts.Ping {
		n.scheduleNextPing(n.opts.Ping - idle)
		return
	}
	n.sendPing()
	n.scheduleNextPing(n.opts.Ping)
}

// sendPing is a no-op while a previous ping's pong is still outstanding:
// its own timeout will fire and disconnect rather than being pushed out
// by a second ping arming a fresh one.
func (n *Node) sendPing() {
	n.mu.Lock()
	outstanding := n.timeoutTimer != nil
	n.mu.Unlock()
	if outstanding {
		return
	}

	ctx := context.Background()
	msg := wire.PingMessage{Synced: n.cursor(ctx).Received}
	if err := n.send(msg); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
		return
	}
	n.emit(EventHB, map[string]any{"dir": "->"})
	n.armTimeout()
}

func (n *Node) armTimeout() {
	n.mu.Lock()
	n.timeoutTimer = time.AfterFunc(n.opts.Timeout, n.onHeartbeatTimeout)
	n.mu.Unlock()
}

func (n *Node) disarmTimeout() {
	n.mu.Lock()
	if n.timeoutTimer != nil {
		n.timeoutTimer.Stop()
		n.timeoutTimer = nil
	}
	n.mu.Unlock()
}

func (n *Node) onHeartbeatTimeout() {
	n.emit(EventWarn, map[string]any{"kind": "heartbeat_timeout"})
	n.fail(synerr.Timeout, "no pong within timeout")
}

func (n *Node) handlePing(m wire.PingMessage) {
	n.emit(EventHB, map[string]any{"dir": "<-ping"})
	n.setCursor(context.Background(), store.Cursor{Sent: m.Synced})
	reply := wire.PongMessage{Synced: n.cursor(context.Background()).Received}
	if err := n.send(reply); err != nil {
		n.emit(EventWarn, map[string]any{"err": err.Error()})
	}
}

func (n *Node) handlePong(m wire.PongMessage) {
	n.emit(EventHB, map[string]any{"dir": "<-pong"})
	n.disarmTimeout()
	n.setCursor(context.Background(), store.Cursor{Sent: m.Synced})
}
