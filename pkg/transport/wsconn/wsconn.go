// Package wsconn implements the Connection contract over a WebSocket,
// using gorilla/websocket the way the pack's collaborative-editing
// server does: one Upgrader on the accept side, one Dialer on the
// connect side, and a per-connection read loop translating
// ReadMessage/WriteMessage into the emitter-based event contract.
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a *websocket.Conn to the Connection contract. It can be
// built two ways: Accept wraps an already-upgraded server-side
// connection, Dial opens a new client-side one.
type Conn struct {
	transport.Emitters

	url    string
	logger zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	destroyed bool
	writeMu   sync.Mutex
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger attaches structured logging (defaults to a disabled logger).
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// Accept upgrades an inbound HTTP request to a WebSocket connection and
// wraps it, already Connect'd (there is no separate dial step on the
// server side).
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "wsconn: upgrade")
	}
	c := &Conn{Emitters: transport.NewEmitters(), logger: zerolog.Nop(), ws: ws, connected: true}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	c.EmitConnect()
	return c, nil
}

// Dial returns a Conn that connects lazily on Connect.
func Dial(url string, opts ...Option) *Conn {
	c := &Conn{Emitters: transport.NewEmitters(), logger: zerolog.Nop(), url: url}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("wsconn: connection destroyed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.EmitConnecting()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.EmitError(errors.Wrap(err, "wsconn: dial"))
		c.EmitDisconnect(transport.ReasonError)
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	go c.recvLoop()
	c.EmitConnect()
	return nil
}

func (c *Conn) recvLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()
			if wasConnected {
				c.logger.Debug().Err(err).Msg("wsconn: read loop ended")
				c.EmitDisconnect(reasonForReadError(err))
			}
			return
		}
		c.EmitMessage(data)
	}
}

func reasonForReadError(err error) transport.Reason {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return transport.ReasonRemote
	}
	return transport.ReasonError
}

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return errors.New("wsconn: not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(err, "wsconn: write")
	}
	return nil
}

func (c *Conn) Disconnect(reason transport.Reason) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	ws := c.ws
	c.connected = false
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}
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
	ws := c.ws
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if wasConnected {
		c.EmitDisconnect(transport.ReasonDestroy)
	}
}

var _ transport.Connection = (*Conn)(nil)
