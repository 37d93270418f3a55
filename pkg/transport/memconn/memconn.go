// Package memconn is an in-process Connection implementation used for
// tests and for wiring two Nodes in the same process without a real
// socket. Two ends are always created together as a pair, each wrapping
// one end of a pair of buffered channels in the Connection contract.
package memconn

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

// Pair returns two linked Connections; frames sent on one arrive as
// message events on the other, in order, once both sides are Connect'd.
func Pair() (a, b *Conn) {
	chA := make(chan []byte, 128)
	chB := make(chan []byte, 128)
	a = &Conn{out: chB, in: chA, Emitters: transport.NewEmitters()}
	b = &Conn{out: chA, in: chB, Emitters: transport.NewEmitters()}
	return a, b
}

// Conn is one end of an in-memory connection pair.
type Conn struct {
	transport.Emitters

	mu        sync.Mutex
	connected bool
	destroyed bool

	out chan []byte // frames this end writes land here for the peer
	in  chan []byte // frames the peer writes land here for this end

	cancel context.CancelFunc
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect marks the endpoint usable and starts its receive loop. Since
// memconn has no real dial step, connecting and connect fire back to
// back on the calling goroutine.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("memconn: connection destroyed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.connected = true
	c.mu.Unlock()

	c.EmitConnecting()
	go c.recvLoop(loopCtx)
	c.EmitConnect()
	return nil
}

func (c *Conn) recvLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.in:
			if !ok {
				return
			}
			c.EmitMessage(frame)
		}
	}
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return errors.New("memconn: not connected")
	}
	c.mu.Unlock()

	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Disconnect(reason transport.Reason) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.EmitDisconnect(reason)
	return nil
}

func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	wasConnected := c.connected
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if wasConnected {
		c.EmitDisconnect(transport.ReasonDestroy)
	}
}

var _ transport.Connection = (*Conn)(nil)
