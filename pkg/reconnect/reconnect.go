// Package reconnect implements the supervised-reconnection wrapper: it
// takes any transport.Connection and re-exposes the same Connection
// contract, transparently retrying with exponential backoff after any
// disconnect that isn't a deliberate teardown or a terminal protocol
// error, via a backoff loop rearmed on every failure.
package reconnect

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

// Default backoff bounds. A bare Options{} does not apply these
// automatically: MinDelay/MaxDelay of 0 are explicit values (a zero
// base and a zero ceiling), not "use the default." Pass these
// explicitly for the package's usual bounds.
const (
	DefaultMinDelay = time.Second
	DefaultMaxDelay = 5 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	// Attempts caps the number of Connect calls the supervisor will make
	// on behalf of one Start before giving up permanently. Zero means
	// unlimited.
	Attempts int

	// MinDelay and MaxDelay bound the backoff formula NextDelay computes.
	// Zero is an explicit value, not "unset": MinDelay 0 means no floor,
	// MaxDelay 0 means no cap, so Options{} with both left at zero
	// produces immediate zero-delay retries. Use DefaultMinDelay and
	// DefaultMaxDelay for the package's usual bounds.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Rand supplies backoff jitter. Nil defaults to a time-seeded source;
	// tests inject a seeded *rand.Rand for deterministic delays.
	Rand *rand.Rand

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Supervisor wraps a transport.Connection, retrying failed or dropped
// connections with exponential backoff until told to stop.
//
// Its own attempt counter counts every Connect call it makes, the
// initial one included: an Options{Attempts: 3} supervisor whose
// wrapped connection fails immediately every time is dialed exactly
// three times in total, not three times in addition to the first dial.
type Supervisor struct {
	transport.Emitters

	conn transport.Connection
	opts Options

	mu           sync.Mutex
	reconnecting bool
	connected    bool
	terminal     bool
	paused       bool
	attemptsMade int
	lastCtx      context.Context
	timer        *time.Timer
	destroyed    bool

	unbind []func()
}

// New wraps conn with a reconnection Supervisor. It does not connect;
// call Connect to begin the first attempt and enable automatic retry.
func New(conn transport.Connection, opts Options) *Supervisor {
	s := &Supervisor{
		Emitters: transport.NewEmitters(),
		conn:     conn,
		opts:     opts.withDefaults(),
		lastCtx:  context.Background(),
	}
	s.unbind = append(s.unbind,
		conn.OnConnecting(s.EmitConnecting),
		conn.OnConnect(s.onUnderlyingConnect),
		conn.OnMessage(func(e transport.MessageEvent) { s.EmitMessage(e.Data) }),
		conn.OnError(func(e transport.ErrorEvent) { s.EmitError(e.Err) }),
		conn.OnDisconnect(s.onUnderlyingDisconnect),
	)
	return s
}

// NextDelay implements spec's backoff formula:
// min(maxDelay, minDelay*2^attempts + jitter), jitter uniform on
// [0, attempts*200ms]. Exported so tests can assert its shape directly
// against the seeded Rand.
func (s *Supervisor) NextDelay(attempts int) time.Duration {
	base := float64(s.opts.MinDelay) * math.Pow(2, float64(attempts))
	jitterCeil := float64(attempts) * float64(200*time.Millisecond)
	var jitter float64
	if jitterCeil > 0 {
		jitter = s.opts.Rand.Float64() * jitterCeil
	}
	d := base + jitter
	if max := float64(s.opts.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Connected reports the wrapped connection's current state.
func (s *Supervisor) Connected() bool { return s.conn.Connected() }

// Connect enables automatic reconnection, resets the attempt counter,
// and makes the first attempt.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.reconnecting = true
	s.terminal = false
	s.attemptsMade = 0
	s.paused = false
	s.mu.Unlock()
	return s.doConnect(ctx)
}

func (s *Supervisor) doConnect(ctx context.Context) error {
	s.mu.Lock()
	s.attemptsMade++
	s.lastCtx = ctx
	n := s.attemptsMade
	s.mu.Unlock()
	s.opts.Logger.Debug().Int("attempt", n).Msg("reconnect: dialing")
	return s.conn.Connect(ctx)
}

func (s *Supervisor) onUnderlyingConnect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.EmitConnect()
}

// Disconnect tears the wrapped connection down. A caller-initiated
// destroy or protocol disconnect permanently disables reconnection, per
// the same rule the underlying disconnect handler applies.
func (s *Supervisor) Disconnect(reason transport.Reason) error {
	if reason == transport.ReasonDestroy || reason == transport.ReasonProtocol {
		s.mu.Lock()
		s.reconnecting = false
		s.stopTimerLocked()
		s.mu.Unlock()
	}
	return s.conn.Disconnect(reason)
}

func (s *Supervisor) onUnderlyingDisconnect(e transport.DisconnectEvent) {
	s.mu.Lock()
	s.connected = false
	wasReconnecting := s.reconnecting
	attempts := s.attemptsMade
	terminal := e.Reason == transport.ReasonDestroy || e.Reason == transport.ReasonProtocol
	if terminal {
		s.reconnecting = false
		if e.Reason == transport.ReasonProtocol {
			s.terminal = true
		}
	}
	s.mu.Unlock()

	s.Emitters.EmitDisconnect(e.Reason)

	if terminal || !wasReconnecting {
		return
	}
	if s.opts.Attempts > 0 && attempts >= s.opts.Attempts {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		s.opts.Logger.Warn().Int("attempts", attempts).Msg("reconnect: attempt cap reached, giving up")
		return
	}
	s.scheduleReconnect(attempts)
}

func (s *Supervisor) scheduleReconnect(attempts int) {
	delay := s.NextDelay(attempts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.destroyed {
		return
	}
	s.stopTimerLocked()
	ctx := s.lastCtx
	s.timer = time.AfterFunc(delay, func() { _ = s.doConnect(ctx) })
	s.opts.Logger.Debug().Dur("delay", delay).Msg("reconnect: scheduled retry")
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Send writes through to the wrapped connection.
func (s *Supervisor) Send(ctx context.Context, frame []byte) error {
	return s.conn.Send(ctx, frame)
}

// Destroy stops any pending retry, unbinds every listener registered on
// the wrapped connection, and destroys it.
func (s *Supervisor) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.reconnecting = false
	s.stopTimerLocked()
	s.mu.Unlock()

	for _, u := range s.unbind {
		u()
	}
	s.conn.Destroy()
}

// Reconnecting reports whether the supervisor will retry after the next
// unexpected disconnect.
func (s *Supervisor) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnecting
}

// Attempts reports the number of dials made since the last call to
// Connect, that call's own dial included.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptsMade
}

var _ transport.Connection = (*Supervisor)(nil)
