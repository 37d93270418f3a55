// Package tcpconn implements transport.Connection over a single raw TCP
// socket, framing each message with a 4-byte big-endian length prefix.
// Unlike an address-keyed multi-peer switch fanning one endpoint out to
// many dialed/accepted peers, this package hands back one Conn per
// peer, since a Node owns exactly one Connection per session rather
// than routing by address.
package tcpconn

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

const maxFrameSize = 1 << 20 // 1 MiB

func writeFrame(w io.Writer, p []byte) error {
	if len(p) > maxFrameSize {
		return fmt.Errorf("tcpconn: frame too large: %d > %d", len(p), maxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	hdr, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > maxFrameSize {
		return nil, fmt.Errorf("tcpconn: frame too large: %d > %d", n, maxFrameSize)
	}
	if _, err := r.Discard(4); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Conn is a transport.Connection over one net.Conn, either dialed
// (client) or accepted from a net.Listener (server).
type Conn struct {
	transport.Emitters

	addr string

	mu     sync.Mutex
	nc     net.Conn
	r      *bufio.Reader
	writeMu sync.Mutex

	connected bool
	destroyed bool
}

// Accept wraps an already-accepted net.Conn (from a net.Listener) as a
// server-side Connection, already connected.
func Accept(nc net.Conn) *Conn {
	c := &Conn{Emitters: transport.NewEmitters(), addr: nc.RemoteAddr().String(), nc: nc, r: bufio.NewReader(nc), connected: true}
	go c.recvLoop()
	return c
}

// Dial builds a client-side Connection that dials addr when Connect is
// called.
func Dial(addr string) *Conn {
	return &Conn{Emitters: transport.NewEmitters(), addr: addr}
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.EmitConnecting()

	d := net.Dialer{}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	nc, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		c.EmitError(err)
		c.Emitters.EmitDisconnect(transport.ReasonError)
		return err
	}

	c.mu.Lock()
	c.nc = nc
	c.r = bufio.NewReader(nc)
	c.connected = true
	c.mu.Unlock()

	go c.recvLoop()
	c.EmitConnect()
	return nil
}

func (c *Conn) recvLoop() {
	for {
		c.mu.Lock()
		r := c.r
		c.mu.Unlock()
		if r == nil {
			return
		}
		frame, err := readFrame(r)
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()
			if wasConnected {
				c.Emitters.EmitDisconnect(transport.ReasonError)
			}
			return
		}
		c.EmitMessage(frame)
	}
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	nc := c.nc
	connected := c.connected
	c.mu.Unlock()
	if !connected || nc == nil {
		return fmt.Errorf("tcpconn: not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetWriteDeadline(deadline)
	} else {
		_ = nc.SetWriteDeadline(time.Time{})
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(nc, frame)
}

func (c *Conn) Disconnect(reason transport.Reason) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	nc := c.nc
	c.mu.Unlock()
	var err error
	if nc != nil {
		err = nc.Close()
	}
	c.Emitters.EmitDisconnect(reason)
	return err
}

func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	connected := c.connected
	c.connected = false
	nc := c.nc
	c.mu.Unlock()
	if nc != nil {
		_ = nc.Close()
	}
	if connected {
		c.Emitters.EmitDisconnect(transport.ReasonDestroy)
	}
}

var _ transport.Connection = (*Conn)(nil)
