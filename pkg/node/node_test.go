package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/action"
	logpkg "github.com/juanpablocruz/actionsync/pkg/log"
	"github.com/juanpablocruz/actionsync/pkg/store/memstore"
	"github.com/juanpablocruz/actionsync/pkg/transport"
	"github.com/juanpablocruz/actionsync/pkg/transport/memconn"
	"github.com/juanpablocruz/actionsync/pkg/wire"
)

func newPair(t *testing.T, clientOpts, serverOpts []Option) (*Node, *Node, *logpkg.Log, *logpkg.Log) {
	t.Helper()
	cl, err := logpkg.New("client", memstore.New())
	require.NoError(t, err)
	sl, err := logpkg.New("server", memstore.New())
	require.NoError(t, err)

	ca, sa := memconn.Pair()
	client, err := NewClient(cl, ca, clientOpts...)
	require.NoError(t, err)
	server, err := NewServer(sl, sa, serverOpts...)
	require.NoError(t, err)

	require.NoError(t, server.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))

	return client, server, cl, sl
}

func waitState(t *testing.T, n *Node, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node never reached state %v, stuck at %v", want, n.State())
}

func TestHandshakeReachesSynchronized(t *testing.T) {
	client, server, _, _ := newPair(t, nil, nil)
	defer client.Destroy()
	defer server.Destroy()

	waitState(t, client, StateSynchronized)
	waitState(t, server, StateSynchronized)
	assert.Equal(t, "server", client.RemoteNodeID())
	assert.Equal(t, "client", server.RemoteNodeID())
}

func TestHandshakeRejectsWrongProtocolMajor(t *testing.T) {
	sl, err := logpkg.New("server", memstore.New())
	require.NoError(t, err)
	probe, sa := memconn.Pair()
	server, err := NewServer(sl, sa)
	require.NoError(t, err)
	defer server.Destroy()

	require.NoError(t, server.Connect(context.Background()))
	require.NoError(t, probe.Connect(context.Background()))

	var gotError bool
	probe.OnMessage(func(e transport.MessageEvent) {
		msg, err := wire.Decode(e.Data)
		if err == nil {
			if _, ok := msg.(wire.ErrorMessage); ok {
				gotError = true
			}
		}
	})

	frame, err := wire.Encode(wire.ConnectMessage{
		Protocol: wire.Protocol{Major: 99, Minor: 0},
		NodeID:   "probe",
	})
	require.NoError(t, err)
	require.NoError(t, probe.Send(context.Background(), frame))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !gotError {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, gotError, "server should have replied with an error frame")
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	client, server, _, _ := newPair(t, []Option{WithPing(20 * time.Millisecond), WithTimeout(200 * time.Millisecond)}, nil)
	defer client.Destroy()
	defer server.Destroy()

	waitState(t, client, StateSynchronized)

	var disconnected bool
	client.On(func(e Event) {
		if e.Type == EventDisconnect {
			disconnected = true
		}
	})
	time.Sleep(150 * time.Millisecond)
	assert.False(t, disconnected)
}

func TestReasonedActionSyncsToPeer(t *testing.T) {
	client, server, cl, sl := newPair(t, nil, nil)
	defer client.Destroy()
	defer server.Destroy()
	waitState(t, client, StateSynchronized)
	waitState(t, server, StateSynchronized)

	_, ok, err := cl.Add(context.Background(), action.Action{"type": "greet", "text": "hi"}, action.Meta{Reasons: []string{"t"}})
	require.NoError(t, err)
	require.True(t, ok)

	deadline := time.Now().Add(2 * time.Second)
	var seen bool
	for time.Now().Before(deadline) {
		_ = sl.Each(context.Background(), 0, func(a action.Action, m action.Meta) bool {
			if a["text"] == "hi" {
				seen = true
			}
			return true
		})
		if seen {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, seen, "server never received synced action")
}

func TestTimeFixAppliesClockOffsetToSyncedActions(t *testing.T) {
	const skew = int64(5000)
	clientTimer := func() int64 { return 1_000_000 }
	serverTimer := func() int64 { return 1_000_000 + skew }

	cl, err := logpkg.New("client", memstore.New())
	require.NoError(t, err)
	sl, err := logpkg.New("server", memstore.New())
	require.NoError(t, err)

	ca, sa := memconn.Pair()
	client, err := NewClient(cl, ca, WithFixTime(true), WithTimer(clientTimer))
	require.NoError(t, err)
	server, err := NewServer(sl, sa, WithTimer(serverTimer))
	require.NoError(t, err)
	defer client.Destroy()
	defer server.Destroy()

	require.NoError(t, server.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))

	waitState(t, client, StateSynchronized)
	waitState(t, server, StateSynchronized)

	require.Equal(t, skew, client.TimeOffset())
	require.Equal(t, int64(0), server.TimeOffset())

	sent, ok, err := cl.Add(context.Background(), action.Action{"type": "greet"}, action.Meta{Time: 42, Reasons: []string{"t"}})
	require.NoError(t, err)
	require.True(t, ok)

	var got action.Meta
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = sl.Each(context.Background(), 0, func(a action.Action, m action.Meta) bool {
			if v, _ := a["type"].(string); v == "greet" {
				got = m
			}
			return true
		})
		if got.ID.NodeID != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, got.ID.NodeID, "server never received synced action")
	assert.Equal(t, sent.Time-skew, got.Time, "incoming meta.time should be corrected by the sender's clock offset")
}

func TestWrongFormatFrameDisconnects(t *testing.T) {
	client, server, _, _ := newPair(t, nil, nil)
	defer client.Destroy()
	defer server.Destroy()
	waitState(t, client, StateSynchronized)
	waitState(t, server, StateSynchronized)

	disconnected := make(chan struct{}, 1)
	server.On(func(e Event) {
		if e.Type == EventDisconnect {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})

	ctx := context.Background()
	// client's underlying connection speaks raw frames; send a malformed one.
	require.NoError(t, client.conn.Send(ctx, []byte(`["ping"]`)))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never disconnected on malformed frame")
	}
}
