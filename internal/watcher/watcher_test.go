package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperdrift/hl/internal/exchange"
)

type fakeHandle struct {
	mu    sync.Mutex
	count int
	err   error
}

func (h *fakeHandle) Unsubscribe() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return h.err
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]exchange.Handler
	handle   *fakeHandle
	closed   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]exchange.Handler), handle: &fakeHandle{}}
}

func (t *fakeTransport) Dial(context.Context) {}

func (t *fakeTransport) WaitReady(context.Context) error { return nil }

func (t *fakeTransport) Subscribe(sub exchange.Subscription, h exchange.Handler) (unsubscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[sub.Type] = h
	return t.handle, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) deliver(feed, data string) {
	t.mu.Lock()
	h := t.handlers[feed]
	t.mu.Unlock()
	if h != nil {
		h(json.RawMessage(data))
	}
}

func fakeDial(t *fakeTransport) func(bool) transport {
	return func(bool) transport { return t }
}

func TestPriceWatcherDirectPush(t *testing.T) {
	tr := newFakeTransport()
	var mu sync.Mutex
	var got []PriceUpdate

	w := NewPriceWatcher("btc", false,
		func(u PriceUpdate) { mu.Lock(); got = append(got, u); mu.Unlock() },
		func(error) {})
	w.socket = "/nonexistent/hl.sock"
	w.dial = fakeDial(tr)

	require.NoError(t, w.Start(context.Background()))
	tr.deliver(exchange.SubAllMids, `{"mids":{"BTC":"50000","ETH":"3000"}}`)
	tr.deliver(exchange.SubAllMids, `{"mids":{"ETH":"3001"}}`)

	mu.Lock()
	require.Len(t, got, 1, "only the watched coin is forwarded")
	assert.Equal(t, "BTC", got[0].Coin)
	assert.Equal(t, "50000", got[0].Price)
	mu.Unlock()

	w.Stop()
	assert.Equal(t, 1, tr.handle.count)
	assert.Equal(t, 1, tr.closed)
}

func TestPriceWatcherStartIdempotent(t *testing.T) {
	tr := newFakeTransport()
	w := NewPriceWatcher("btc", false, func(PriceUpdate) {}, func(error) {})
	w.socket = "/nonexistent/hl.sock"
	w.dial = fakeDial(tr)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	w := NewPriceWatcher("btc", false, func(PriceUpdate) {}, func(error) {})
	w.Stop()
	w.Stop()
	// A sealed watcher must refuse to start.
	require.NoError(t, w.Start(context.Background()))
	assert.Nil(t, w.sub)
}

func TestStopIdempotentAndSwallowsTeardownErrors(t *testing.T) {
	tr := newFakeTransport()
	tr.handle.err = errors.New("unsubscribe failed")

	w := NewBookWatcher("BTC", false, func(BookUpdate) {}, func(error) {})
	w.dial = fakeDial(tr)

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
	assert.Equal(t, 1, tr.handle.count)
	assert.Equal(t, 1, tr.closed)
}

func TestBookWatcherNormalizesLevels(t *testing.T) {
	tr := newFakeTransport()
	var mu sync.Mutex
	var got []BookUpdate

	w := NewBookWatcher("BTC", false,
		func(u BookUpdate) { mu.Lock(); got = append(got, u); mu.Unlock() },
		func(error) {})
	w.dial = fakeDial(tr)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	tr.deliver(exchange.SubL2Book,
		`{"coin":"BTC","time":1700000000000,"levels":[[{"px":"49999","sz":"1.5","n":3}],[{"px":"50001","sz":"2","n":1}]]}`)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "49999", got[0].Bids[0].Px)
	assert.Equal(t, "50001", got[0].Asks[0].Px)
	assert.Equal(t, int64(1700000000000), got[0].Time)
}

type fakeOrders struct {
	mu     sync.Mutex
	orders []exchange.OpenOrder
	err    error
	calls  int
}

func (f *fakeOrders) OpenOrders(context.Context, string) ([]exchange.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.orders, f.err
}

func TestOrdersWatcherPullsOnStartAndOnPush(t *testing.T) {
	tr := newFakeTransport()
	src := &fakeOrders{orders: []exchange.OpenOrder{{Coin: "BTC", Oid: 7, Sz: "1"}}}

	var mu sync.Mutex
	var snapshots [][]exchange.OpenOrder
	w := NewOrdersWatcher("0xabc", false,
		func(o []exchange.OpenOrder) { mu.Lock(); snapshots = append(snapshots, o); mu.Unlock() },
		func(error) {})
	w.dial = fakeDial(tr)
	w.info = src

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	mu.Lock()
	require.Len(t, snapshots, 1, "initial snapshot before any push")
	mu.Unlock()

	src.mu.Lock()
	src.orders = append(src.orders, exchange.OpenOrder{Coin: "ETH", Oid: 8, Sz: "2"})
	src.mu.Unlock()

	// The push payload itself is ignored; the pull is authoritative.
	tr.deliver(exchange.SubOrderUpdates, `[{"whatever":"delta"}]`)

	mu.Lock()
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 2)
	mu.Unlock()
	assert.Equal(t, 2, src.calls)
}

func TestOrdersWatcherPullErrorKeepsSubscription(t *testing.T) {
	tr := newFakeTransport()
	src := &fakeOrders{err: errors.New("http 500")}

	var mu sync.Mutex
	var errs []error
	var snapshots int
	w := NewOrdersWatcher("0xabc", false,
		func([]exchange.OpenOrder) { mu.Lock(); snapshots++; mu.Unlock() },
		func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() })
	w.dial = fakeDial(tr)
	w.info = src

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	mu.Lock()
	assert.Len(t, errs, 1)
	assert.Zero(t, snapshots)
	mu.Unlock()

	// Recovery: the next push pulls successfully.
	src.mu.Lock()
	src.err = nil
	src.orders = []exchange.OpenOrder{{Coin: "BTC", Oid: 1, Sz: "1"}}
	src.mu.Unlock()

	tr.deliver(exchange.SubOrderUpdates, `[]`)
	mu.Lock()
	assert.Equal(t, 1, snapshots)
	mu.Unlock()
}

type fakeSpot struct {
	mu    sync.Mutex
	state json.RawMessage
	err   error
}

func (f *fakeSpot) SpotClearinghouseState(context.Context, string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func TestBalanceWatcherRetainsSpotOnPullFailure(t *testing.T) {
	tr := newFakeTransport()
	src := &fakeSpot{state: json.RawMessage(`{"balances":[{"coin":"USDC","total":"100"}]}`)}

	var mu sync.Mutex
	var got []BalanceUpdate
	var errs int
	w := NewBalanceWatcher("0xabc", false,
		func(u BalanceUpdate) { mu.Lock(); got = append(got, u); mu.Unlock() },
		func(error) { mu.Lock(); errs++; mu.Unlock() })
	w.dial = fakeDial(tr)
	w.info = src

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	tr.deliver(exchange.SubAllDexsClearinghouse, `{"marginSummary":{"accountValue":"1000"}}`)

	src.mu.Lock()
	src.err = errors.New("spot pull failed")
	src.mu.Unlock()
	tr.deliver(exchange.SubAllDexsClearinghouse, `{"marginSummary":{"accountValue":"1001"}}`)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.JSONEq(t, string(got[0].Spot), string(got[1].Spot), "previous spot snapshot retained")
	assert.Contains(t, string(got[1].Perp), "1001")
	assert.Equal(t, 1, errs)
}

func TestPositionWatcherForwardsRawState(t *testing.T) {
	tr := newFakeTransport()
	var mu sync.Mutex
	var got []json.RawMessage

	w := NewPositionWatcher("0xabc", false,
		func(s json.RawMessage) { mu.Lock(); got = append(got, s); mu.Unlock() },
		func(error) {})
	w.dial = fakeDial(tr)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	tr.deliver(exchange.SubAllDexsClearinghouse, `{"assetPositions":[]}`)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"assetPositions":[]}`, string(got[0]))
}

func TestWatchersImplementInterface(t *testing.T) {
	var _ Watcher = (*PriceWatcher)(nil)
	var _ Watcher = (*BookWatcher)(nil)
	var _ Watcher = (*OrdersWatcher)(nil)
	var _ Watcher = (*PositionWatcher)(nil)
	var _ Watcher = (*BalanceWatcher)(nil)
}

func TestPriceWatcherPollMode(t *testing.T) {
	// Covered end-to-end: a real IPC server backs the cached-polling path.
	sock, stop := startPriceServer(t, map[string]string{"BTC": "50000"})
	defer stop()

	var mu sync.Mutex
	var got []PriceUpdate
	w := NewPriceWatcher("btc", false,
		func(u PriceUpdate) { mu.Lock(); got = append(got, u); mu.Unlock() },
		func(error) {})
	w.socket = sock

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poll mode produced no update")
		}
		time.Sleep(25 * time.Millisecond)
	}

	mu.Lock()
	assert.Equal(t, "BTC", got[0].Coin)
	assert.Equal(t, "50000", got[0].Price)
	assert.Greater(t, got[0].CachedAt, int64(0))
	mu.Unlock()
}
