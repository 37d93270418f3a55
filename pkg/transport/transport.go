// Package transport defines the connection-agnostic transport contract a
// Node drives: a minimal, ordered, duplex byte-frame channel with
// synchronous, ordered event emission, satisfied by any concrete
// carrier (loopback, TCP, WebSocket) implementing the same small
// surface.
package transport

import (
	"context"

	"github.com/juanpablocruz/actionsync/pkg/emitter"
)

// Reason describes why a connection ended, echoed to the disconnect
// event and to any reconnect supervisor deciding whether to retry.
type Reason string

const (
	ReasonError     Reason = "error"
	ReasonTimeout   Reason = "timeout"
	ReasonDestroy   Reason = "destroy"
	ReasonRemote    Reason = "remote"
	ReasonReconnect Reason = "reconnect"
	// ReasonProtocol marks a disconnect triggered by a terminal error
	// kind (ours or the peer's) that forbids automatic reconnection.
	ReasonProtocol Reason = "protocol"
	// ReasonFreeze marks a disconnect requested by a host environment
	// signal (e.g. process suspend) rather than the transport itself.
	ReasonFreeze Reason = "freeze"
)

// DisconnectEvent is the payload of the disconnect event.
type DisconnectEvent struct{ Reason Reason }

// ErrorEvent is the payload of the error event.
type ErrorEvent struct{ Err error }

// MessageEvent is the payload of the message event: one already-framed,
// already-delivered-in-order unit of data.
type MessageEvent struct{ Data []byte }

// Connection is the minimal duplex transport surface a Node needs.
// Implementations must guarantee, for each connected interval between a
// connect event and the following disconnect event, that Send'd frames
// arrive at the peer in order and without duplication, and that
// received frames are delivered to message listeners in the order the
// peer sent them.
type Connection interface {
	// Connected reports whether the connection is currently usable.
	Connected() bool

	// Connect establishes the connection. It must emit "connecting"
	// synchronously before attempting the dial and either "connect" on
	// success or "error" (with "disconnect" following) on failure.
	Connect(ctx context.Context) error

	// Disconnect tears down an established connection, emitting
	// "disconnect" with reason once torn down. Calling Disconnect on an
	// already-disconnected Connection is a no-op.
	Disconnect(reason Reason) error

	// Send writes one frame. It must return an error rather than block
	// forever if the connection is not Connected.
	Send(ctx context.Context, frame []byte) error

	// Destroy releases all resources and listeners; the Connection must
	// not be reused afterward.
	Destroy()

	OnConnecting(fn func()) (unbind func())
	OnConnect(fn func()) (unbind func())
	OnMessage(fn func(MessageEvent)) (unbind func())
	OnDisconnect(fn func(DisconnectEvent)) (unbind func())
	OnError(fn func(ErrorEvent)) (unbind func())
}

// Emitters bundles the five event streams every Connection
// implementation needs; concrete adapters embed it instead of
// reimplementing the emitter wiring.
type Emitters struct {
	Connecting *emitter.Emitter[struct{}]
	Connect    *emitter.Emitter[struct{}]
	Message    *emitter.Emitter[MessageEvent]
	Disconnect *emitter.Emitter[DisconnectEvent]
	Error      *emitter.Emitter[ErrorEvent]
}

// NewEmitters allocates a ready-to-use Emitters bundle.
func NewEmitters() Emitters {
	return Emitters{
		Connecting: emitter.New[struct{}](),
		Connect:    emitter.New[struct{}](),
		Message:    emitter.New[MessageEvent](),
		Disconnect: emitter.New[DisconnectEvent](),
		Error:      emitter.New[ErrorEvent](),
	}
}

func (e Emitters) OnConnecting(fn func()) func()             { return e.Connecting.On(func(struct{}) { fn() }) }
func (e Emitters) OnConnect(fn func()) func()                { return e.Connect.On(func(struct{}) { fn() }) }
func (e Emitters) OnMessage(fn func(MessageEvent)) func()    { return e.Message.On(fn) }
func (e Emitters) OnDisconnect(fn func(DisconnectEvent)) func() { return e.Disconnect.On(fn) }
func (e Emitters) OnError(fn func(ErrorEvent)) func()        { return e.Error.On(fn) }

func (e Emitters) EmitConnecting()                { e.Connecting.Emit(struct{}{}) }
func (e Emitters) EmitConnect()                   { e.Connect.Emit(struct{}{}) }
func (e Emitters) EmitMessage(data []byte)        { e.Message.Emit(MessageEvent{Data: data}) }
func (e Emitters) EmitDisconnect(reason Reason)   { e.Disconnect.Emit(DisconnectEvent{Reason: reason}) }
func (e Emitters) EmitError(err error)            { e.Error.Emit(ErrorEvent{Err: err}) }
