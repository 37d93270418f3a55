// Package wire implements the fixed sync-node message grammar and one
// concrete wire encoding for it: JSON arrays whose first element is the
// command tag, a self-describing, peer-agreed encoding rather than a
// private binary layout, since the protocol here crosses arbitrary
// transports rather than one program's own sockets.
package wire

import (
	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/synerr"
)

// Command is the first element of every wire message.
type Command string

const (
	Connect   Command = "connect"
	Connected Command = "connected"
	Ping      Command = "ping"
	Pong      Command = "pong"
	Sync      Command = "sync"
	Synced    Command = "synced"
	Error     Command = "error"
	Debug     Command = "debug"
)

// Protocol is the (major, minor) version pair negotiated at handshake.
type Protocol struct {
	Major int
	Minor int
}

// Opts is the recognized, optional handshake option bag.
type Opts struct {
	Credentials any
	Subprotocol string
}

// Message is any of the eight wire commands.
type Message interface {
	Command() Command
}

// ConnectMessage: initiator -> responder.
type ConnectMessage struct {
	Protocol Protocol
	NodeID   string
	Synced   int64
	Opts     *Opts
}

func (ConnectMessage) Command() Command { return Connect }

// ConnectedMessage: responder -> initiator.
type ConnectedMessage struct {
	Protocol Protocol
	NodeID   string
	Start    int64
	End      int64
	Opts     *Opts
}

func (ConnectedMessage) Command() Command { return Connected }

// PingMessage carries the sender's Received cursor for the peer (the
// highest of the peer's own Added values the sender has acknowledged),
// not the sender's own lastAdded.
type PingMessage struct{ Synced int64 }

func (PingMessage) Command() Command { return Ping }

// PongMessage is the reply to PingMessage.
type PongMessage struct{ Synced int64 }

func (PongMessage) Command() Command { return Pong }

// Pair is one (action, meta) unit inside a sync message.
type Pair struct {
	Action action.Action
	Meta   action.Meta
}

// SyncMessage carries a batch of new entries and the sender's watermark.
type SyncMessage struct {
	Synced  int64
	Entries []Pair
}

func (SyncMessage) Command() Command { return Sync }

// SyncedMessage acknowledges a SyncMessage up to (and including) Synced.
type SyncedMessage struct{ Synced int64 }

func (SyncedMessage) Command() Command { return Synced }

// ErrorMessage carries a domain error kind and optional human detail.
type ErrorMessage struct {
	Kind   synerr.Kind
	Detail string
}

func (ErrorMessage) Command() Command { return Error }

// DebugMessage is an out-of-band diagnostic message.
type DebugMessage struct {
	Type string
	Data any
}

func (DebugMessage) Command() Command { return Debug }
