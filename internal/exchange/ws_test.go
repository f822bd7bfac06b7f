package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer is a scriptable upstream: it records subscribe/unsubscribe
// commands and lets tests push frames down each accepted connection.
type wsServer struct {
	t  *testing.T
	up websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	commands []wsCommand
	dropNext bool
}

func newWSServer(t *testing.T) (*wsServer, string) {
	t.Helper()
	s := &wsServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	drop := s.dropNext
	s.dropNext = false
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	if drop {
		_ = conn.Close()
		return
	}

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()
	}
}

func (s *wsServer) push(channel, data string) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	err := conn.WriteJSON(map[string]any{"channel": channel, "data": json.RawMessage(data)})
	require.NoError(s.t, err)
}

func (s *wsServer) waitCommands(method string, n int) []wsCommand {
	deadline := time.Now().Add(3 * time.Second)
	for {
		s.mu.Lock()
		var got []wsCommand
		for _, c := range s.commands {
			if c.Method == method {
				got = append(got, c)
			}
		}
		s.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			s.t.Fatalf("expected %d %q commands", n, method)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *wsServer) dropCurrentConn() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	_ = conn.Close()
}

func dialTest(t *testing.T, url string) *Transport {
	t.Helper()
	tr := NewTransport(url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	tr.Dial(ctx)
	require.NoError(t, tr.WaitReady(ctx))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTransportSubscribeAndDeliver(t *testing.T) {
	srv, url := newWSServer(t)
	tr := dialTest(t, url)
	assert.True(t, tr.Connected())

	var mu sync.Mutex
	var got []string
	_, err := tr.Subscribe(Subscription{Type: SubAllMids}, func(data json.RawMessage) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})
	require.NoError(t, err)
	srv.waitCommands("subscribe", 1)

	srv.push(SubAllMids, `{"mids":{"BTC":"50000"}}`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 1 }, "event not delivered")

	mu.Lock()
	assert.JSONEq(t, `{"mids":{"BTC":"50000"}}`, got[0])
	mu.Unlock()
}

func TestTransportCoinScopedDispatch(t *testing.T) {
	srv, url := newWSServer(t)
	tr := dialTest(t, url)

	var mu sync.Mutex
	counts := map[string]int{}
	for _, coin := range []string{"BTC", "ETH"} {
		coin := coin
		_, err := tr.Subscribe(Subscription{Type: SubL2Book, Coin: coin}, func(json.RawMessage) {
			mu.Lock()
			counts[coin]++
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	srv.waitCommands("subscribe", 2)

	srv.push(SubL2Book, `{"coin":"BTC","levels":[[],[]],"time":1}`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return counts["BTC"] == 1 }, "BTC book not delivered")

	mu.Lock()
	assert.Zero(t, counts["ETH"], "ETH subscription must not see BTC frames")
	mu.Unlock()
}

func TestTransportHandlerPanicIsolated(t *testing.T) {
	srv, url := newWSServer(t)
	tr := dialTest(t, url)

	_, err := tr.Subscribe(Subscription{Type: SubAllMids}, func(json.RawMessage) {
		panic("handler bug")
	})
	require.NoError(t, err)

	var mu sync.Mutex
	delivered := 0
	_, err = tr.Subscribe(Subscription{Type: SubOrderUpdates, User: "0xabc"}, func(json.RawMessage) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)
	srv.waitCommands("subscribe", 2)

	srv.push(SubAllMids, `{"mids":{}}`)
	srv.push(SubOrderUpdates, `[]`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return delivered == 1 },
		"panicking handler killed the read loop")
}

func TestTransportUnsubscribe(t *testing.T) {
	srv, url := newWSServer(t)
	tr := dialTest(t, url)

	h, err := tr.Subscribe(Subscription{Type: SubAllMids}, func(json.RawMessage) {})
	require.NoError(t, err)
	srv.waitCommands("subscribe", 1)

	require.NoError(t, h.Unsubscribe())
	require.NoError(t, h.Unsubscribe(), "unsubscribe is idempotent")
	cmds := srv.waitCommands("unsubscribe", 1)
	assert.Equal(t, SubAllMids, cmds[0].Subscription.Type)
}

func TestTransportReconnectReplaysSubscriptions(t *testing.T) {
	srv, url := newWSServer(t)

	var reconnects int
	var mu sync.Mutex
	tr := NewTransport(url)
	tr.OnReconnect = func() { mu.Lock(); reconnects++; mu.Unlock() }
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	tr.Dial(ctx)
	require.NoError(t, tr.WaitReady(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	_, err := tr.Subscribe(Subscription{Type: SubAllMids}, func(json.RawMessage) {})
	require.NoError(t, err)
	srv.waitCommands("subscribe", 1)

	srv.dropCurrentConn()
	// The transport redials with backoff and replays the subscription.
	srv.waitCommands("subscribe", 2)
	waitFor(t, func() bool { return tr.Connected() }, "transport did not reconnect")
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return reconnects >= 1 }, "reconnect hook not fired")
}

func TestTransportCloseIdempotent(t *testing.T) {
	_, url := newWSServer(t)
	tr := dialTest(t, url)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())

	_, err := tr.Subscribe(Subscription{Type: SubAllMids}, func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrClosed)
}
