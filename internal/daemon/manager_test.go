package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperdrift/hl/internal/cache"
	"github.com/hyperdrift/hl/internal/exchange"
)

type fakeHandle struct {
	mu           sync.Mutex
	unsubscribed int
	err          error
}

func (h *fakeHandle) Unsubscribe() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribed++
	return h.err
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]exchange.Handler
	handles  []*fakeHandle
	closed   bool
	readyErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]exchange.Handler)}
}

func (t *fakeTransport) Dial(context.Context) {}

func (t *fakeTransport) WaitReady(context.Context) error { return t.readyErr }

func (t *fakeTransport) Subscribe(sub exchange.Subscription, h exchange.Handler) (Unsubscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[sub.Type] = h
	handle := &fakeHandle{}
	t.handles = append(t.handles, handle)
	return handle, nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) deliver(feed string, data string) {
	t.mu.Lock()
	h := t.handlers[feed]
	t.mu.Unlock()
	if h != nil {
		h(json.RawMessage(data))
	}
}

type fakeMetaSource struct {
	mu    sync.Mutex
	metas []exchange.PerpMeta
	err   error
	calls int
}

func (f *fakeMetaSource) AllPerpMetas(context.Context) ([]exchange.PerpMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.metas, f.err
}

func startTestManager(t *testing.T, tr *fakeTransport, info *fakeMetaSource) (*Manager, *cache.Cache) {
	t.Helper()
	c := cache.New()
	m := newManager(tr, info, c, nil, time.Hour)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, c
}

func TestManagerPrimesPerpMetas(t *testing.T) {
	info := &fakeMetaSource{metas: []exchange.PerpMeta{{Name: "BTC", SzDecimals: 5, MaxLeverage: 50}}}
	_, c := startTestManager(t, newFakeTransport(), info)

	v, _, ok := c.Get(cache.SlotPerpMetas)
	require.True(t, ok)
	assert.Equal(t, "BTC", v.([]exchange.PerpMeta)[0].Name)
	assert.Equal(t, 1, info.calls)
}

func TestManagerRoutesPushEventsIntoCache(t *testing.T) {
	tr := newFakeTransport()
	_, c := startTestManager(t, tr, &fakeMetaSource{})

	tr.deliver(exchange.SubAllMids, `{"mids":{"BTC":"50000"}}`)
	v, _, ok := c.Get(cache.SlotMids)
	require.True(t, ok)
	assert.Equal(t, "50000", v.(map[string]string)["BTC"])

	tr.deliver(exchange.SubAllDexsAssetCtxs, `[{"dex":"","ctxs":[{"markPx":"50000","oraclePx":"50001","dayNtlVlm":"1","funding":"0.00001","openInterest":"2","prevDayPx":"49000","dayBaseVlm":"3","midPx":"50000.5"}]}]`)
	v, _, ok = c.Get(cache.SlotAssetCtxs)
	require.True(t, ok)
	ctxs := v.([]exchange.DexAssetCtxs)
	require.Len(t, ctxs, 1)
	assert.Equal(t, "50000", ctxs[0].Ctxs[0].MarkPx)
}

func TestManagerIgnoresUnparseableEvents(t *testing.T) {
	tr := newFakeTransport()
	_, c := startTestManager(t, tr, &fakeMetaSource{})

	tr.deliver(exchange.SubAllMids, `{"mids":{"BTC":"50000"}}`)
	tr.deliver(exchange.SubAllMids, `"garbage`)

	v, _, ok := c.Get(cache.SlotMids)
	require.True(t, ok)
	assert.Equal(t, "50000", v.(map[string]string)["BTC"])
}

func TestManagerInitialMetaFailureDoesNotFailStart(t *testing.T) {
	info := &fakeMetaSource{err: errors.New("upstream down")}
	_, c := startTestManager(t, newFakeTransport(), info)

	_, _, ok := c.Get(cache.SlotPerpMetas)
	assert.False(t, ok)
}

func TestManagerStopIdempotentAndSwallowsErrors(t *testing.T) {
	tr := newFakeTransport()
	m, _ := startTestManager(t, tr, &fakeMetaSource{})

	for _, h := range tr.handles {
		h.err = errors.New("unsubscribe failed")
	}

	m.Stop()
	m.Stop()

	assert.True(t, tr.closed)
	// Unsubscribed exactly once per handle despite the double stop.
	for _, h := range tr.handles {
		assert.Equal(t, 1, h.unsubscribed)
	}
}

func TestManagerConnectedDelegatesToTransport(t *testing.T) {
	tr := newFakeTransport()
	m, _ := startTestManager(t, tr, &fakeMetaSource{})
	assert.True(t, m.Connected())
	m.Stop()
	assert.False(t, m.Connected())
}
