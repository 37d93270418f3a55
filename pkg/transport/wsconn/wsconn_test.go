package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

func newTestServer(t *testing.T, handle func(*Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r)
		require.NoError(t, err)
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientServerRoundTrip(t *testing.T) {
	serverGotConnect := make(chan struct{}, 1)
	serverGot := make(chan []byte, 1)
	var server *Conn
	srv := newTestServer(t, func(c *Conn) {
		server = c
		c.OnConnect(func() { serverGotConnect <- struct{}{} })
		c.OnMessage(func(e transport.MessageEvent) { serverGot <- e.Data })
	})

	client := Dial(wsURL(srv))
	clientGot := make(chan []byte, 1)
	client.OnMessage(func(e transport.MessageEvent) { clientGot <- e.Data })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	require.True(t, client.Connected())

	require.NoError(t, client.Send(ctx, []byte("hello")))
	select {
	case data := <-serverGot:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received message")
	}

	require.NotNil(t, server)
	require.NoError(t, server.Send(ctx, []byte("world")))
	select {
	case data := <-clientGot:
		assert.Equal(t, "world", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("client never received message")
	}

	client.Destroy()
	server.Destroy()
}

func TestDialToUnreachableAddrErrors(t *testing.T) {
	client := Dial("ws://127.0.0.1:1/nope")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.Connect(ctx)
	assert.Error(t, err)
	assert.False(t, client.Connected())
}
