package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Subscription identifies one upstream push feed.
type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
}

// Feed type names understood by the upstream.
const (
	SubAllMids              = "allMids"
	SubAllDexsAssetCtxs     = "allDexsAssetCtxs"
	SubL2Book               = "l2Book"
	SubAllDexsClearinghouse = "allDexsClearinghouseState"
	SubOrderUpdates         = "orderUpdates"
	SubActiveAssetData      = "activeAssetData"
)

func (s Subscription) key() string {
	return s.Type + "|" + s.Coin + "|" + s.User
}

// Handler receives the data payload of one inbound push event. Handlers run
// on the transport's read goroutine; a panic inside a handler is recovered
// so it cannot kill the subscription.
type Handler func(data json.RawMessage)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport is a reconnecting websocket client. Dial starts a connect loop
// that re-establishes the connection with backoff and replays every active
// subscription after each reconnect. The transport is single-owner: the
// daemon's subscription manager or one watcher.
type Transport struct {
	url string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]*SubHandle

	writeMu   sync.Mutex
	readyOnce sync.Once
	readyCh   chan struct{}
	closeOnce sync.Once
	closeCh   chan struct{}

	// OnReconnect is invoked after each successful re-dial (not the first).
	OnReconnect func()
}

// NewTransport creates a transport for the given websocket URL. Dial must be
// called before any subscription traffic flows.
func NewTransport(url string) *Transport {
	return &Transport{
		url:     url,
		subs:    make(map[string]*SubHandle),
		readyCh: make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// NewTransportForNetwork creates a transport for mainnet or testnet.
func NewTransportForNetwork(testnet bool) *Transport {
	return NewTransport(WSURL(testnet))
}

// Dial starts the connect loop. It returns immediately; use WaitReady to
// block until the first connection is up.
func (t *Transport) Dial(ctx context.Context) {
	go t.run(ctx)
}

// WaitReady blocks until the transport has connected at least once, the
// context is done, or the transport is closed.
func (t *Transport) WaitReady(ctx context.Context) error {
	select {
	case <-t.readyCh:
		return nil
	case <-t.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the underlying socket is currently open.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Subscribe registers a handler for a feed and sends the subscribe message
// if the socket is up. The subscription is replayed after every reconnect
// until the returned handle is unsubscribed.
func (t *Transport) Subscribe(sub Subscription, handler Handler) (*SubHandle, error) {
	select {
	case <-t.closeCh:
		return nil, ErrClosed
	default:
	}

	h := &SubHandle{t: t, sub: sub, handler: handler}
	t.mu.Lock()
	t.subs[sub.key()] = h
	connected := t.connected
	t.mu.Unlock()

	if connected {
		if err := t.send(wsCommand{Method: "subscribe", Subscription: &sub}); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", sub.Type, err)
		}
	}
	return h, nil
}

// Close tears down the connection and stops the connect loop. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.connected = false
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

// SubHandle is the cancellation token for one active subscription.
type SubHandle struct {
	t       *Transport
	sub     Subscription
	handler Handler
	once    sync.Once
}

// Unsubscribe removes the handler and tells the upstream to stop the feed.
// Safe to call more than once.
func (h *SubHandle) Unsubscribe() error {
	var err error
	h.once.Do(func() {
		h.t.mu.Lock()
		delete(h.t.subs, h.sub.key())
		connected := h.t.connected
		h.t.mu.Unlock()
		if connected {
			err = h.t.send(wsCommand{Method: "unsubscribe", Subscription: &h.sub})
		}
	})
	return err
}

type wsCommand struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (t *Transport) send(cmd wsCommand) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(cmd)
}

func (t *Transport) run(ctx context.Context) {
	backoff := time.Second
	first := true

	for {
		select {
		case <-ctx.Done():
			_ = t.Close()
			return
		case <-t.closeCh:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
		conn, _, err := dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			log.Warn().Err(err).Str("url", t.url).Dur("backoff", backoff).Msg("websocket dial failed")
			select {
			case <-time.After(backoff):
			case <-t.closeCh:
				return
			case <-ctx.Done():
				_ = t.Close()
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		t.mu.Lock()
		t.conn = conn
		t.connected = true
		subs := make([]Subscription, 0, len(t.subs))
		for _, h := range t.subs {
			subs = append(subs, h.sub)
		}
		t.mu.Unlock()

		t.readyOnce.Do(func() { close(t.readyCh) })
		if !first && t.OnReconnect != nil {
			t.OnReconnect()
		}
		log.Info().Str("url", t.url).Int("subscriptions", len(subs)).Msg("websocket connected")

		for _, sub := range subs {
			if err := t.send(wsCommand{Method: "subscribe", Subscription: &sub}); err != nil {
				log.Error().Err(err).Str("type", sub.Type).Msg("replaying subscription failed")
			}
		}

		pingDone := make(chan struct{})
		go t.pingLoop(conn, pingDone)
		t.readLoop(conn)
		close(pingDone)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.connected = false
		}
		t.mu.Unlock()
		_ = conn.Close()
		first = false
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closeCh:
			default:
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("dropping unparseable websocket frame")
			continue
		}
		switch msg.Channel {
		case "", "pong", "subscriptionResponse":
			continue
		}
		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg wsMessage) {
	// Coin-scoped feeds carry the coin inside the payload; match it so two
	// book subscriptions on one transport stay separate.
	var scope struct {
		Coin string `json:"coin"`
	}
	_ = json.Unmarshal(msg.Data, &scope)

	t.mu.RLock()
	var targets []*SubHandle
	for _, h := range t.subs {
		if h.sub.Type != msg.Channel {
			continue
		}
		if h.sub.Coin != "" && scope.Coin != "" && h.sub.Coin != scope.Coin {
			continue
		}
		targets = append(targets, h)
	}
	t.mu.RUnlock()

	for _, h := range targets {
		t.deliver(h, msg.Data)
	}
}

// deliver isolates handler faults: a panicking handler must not take down
// the read loop and with it every other subscription.
func (t *Transport) deliver(h *SubHandle, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("type", h.sub.Type).Msg("subscription handler panic")
		}
	}()
	h.handler(data)
}

func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteJSON(wsCommand{Method: "ping"})
			t.writeMu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}
