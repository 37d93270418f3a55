package reconnect

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

// fakeConn is a controllable transport.Connection: Connect either
// succeeds and stays up, or succeeds-then-immediately-disconnects,
// depending on failImmediately.
type fakeConn struct {
	transport.Emitters

	mu              sync.Mutex
	connected       bool
	connectAttempts int
	failImmediately bool
}

func newFakeConn(failImmediately bool) *fakeConn {
	return &fakeConn{Emitters: transport.NewEmitters(), failImmediately: failImmediately}
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectAttempts
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectAttempts++
	fail := f.failImmediately
	f.mu.Unlock()

	f.EmitConnecting()
	if fail {
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
		f.Emitters.EmitDisconnect(transport.ReasonError)
		return nil
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.EmitConnect()
	return nil
}

func (f *fakeConn) Disconnect(reason transport.Reason) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.Emitters.EmitDisconnect(reason)
	return nil
}

func (f *fakeConn) Send(ctx context.Context, frame []byte) error { return nil }
func (f *fakeConn) Destroy()                                     {}

var _ transport.Connection = (*fakeConn)(nil)

func waitUntil(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never became true within %v", timeout)
}

func TestNextDelayMatchesFormulaBounds(t *testing.T) {
	sup := New(newFakeConn(false), Options{
		MinDelay: time.Second,
		MaxDelay: 5 * time.Second,
		Rand:     rand.New(rand.NewSource(42)),
	})

	for k := 0; k < 3; k++ {
		want := time.Duration(float64(time.Second) * float64(int64(1)<<uint(k)))
		got := sup.NextDelay(k)
		tolerance := time.Duration(k) * 200 * time.Millisecond
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, tolerance, "attempt %d: nextDelay=%v want~%v", k, got, want)
	}
}

func TestNextDelaySaturatesAtMaxDelay(t *testing.T) {
	sup := New(newFakeConn(false), Options{
		MinDelay: time.Second,
		MaxDelay: 5 * time.Second,
		Rand:     rand.New(rand.NewSource(1)),
	})
	assert.Equal(t, 5*time.Second, sup.NextDelay(10))
}

func TestAttemptCapDialsExactlyNTimes(t *testing.T) {
	fc := newFakeConn(true)
	sup := New(fc, Options{Attempts: 3, MinDelay: 0, MaxDelay: 0, Rand: rand.New(rand.NewSource(1))})

	require.NoError(t, sup.Connect(context.Background()))
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 3 && !sup.Reconnecting() })
	assert.Equal(t, 3, fc.attempts())
	assert.False(t, sup.Reconnecting())

	// no further dials after the cap
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, fc.attempts())
}

func TestDestroyReasonDisablesReconnect(t *testing.T) {
	fc := newFakeConn(false)
	sup := New(fc, Options{MinDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, sup.Connect(context.Background()))
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 1 })

	require.NoError(t, sup.Disconnect(transport.ReasonDestroy))
	assert.False(t, sup.Reconnecting())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fc.attempts(), "destroy must not trigger a reconnect dial")
}

func TestProtocolDisconnectDisablesReconnect(t *testing.T) {
	fc := newFakeConn(false)
	sup := New(fc, Options{MinDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, sup.Connect(context.Background()))
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 1 })

	// simulate a terminal error surfacing as a protocol disconnect
	fc.Emitters.EmitDisconnect(transport.ReasonProtocol)

	waitUntil(t, time.Second, func() bool { return !sup.Reconnecting() })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fc.attempts(), "a terminal protocol error must not trigger a reconnect dial")
}

func TestHiddenSignalPausesAndVisibleResumes(t *testing.T) {
	fc := newFakeConn(true)
	sup := New(fc, Options{MinDelay: 200 * time.Millisecond, MaxDelay: 200 * time.Millisecond})

	require.NoError(t, sup.Connect(context.Background()))
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 1 })

	// a retry is now pending ~200ms out; hide before it fires
	sup.Signal(SignalHidden)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, fc.attempts(), "hidden must pause the pending retry")

	sup.Signal(SignalVisible)
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 2 })
}

func TestFreezeDisconnectsAndPauses(t *testing.T) {
	fc := newFakeConn(false)
	sup := New(fc, Options{MinDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, sup.Connect(context.Background()))
	waitUntil(t, time.Second, func() bool { return fc.Connected() })

	sup.Signal(SignalFreeze)
	waitUntil(t, time.Second, func() bool { return !fc.Connected() })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fc.attempts(), "freeze must not itself trigger a reconnect dial")

	sup.Signal(SignalOnline)
	waitUntil(t, time.Second, func() bool { return fc.attempts() == 2 })
}
