package watcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hyperdrift/hl/internal/exchange"
	"github.com/hyperdrift/hl/internal/ipc"
	"github.com/hyperdrift/hl/internal/paths"
)

// pricePollInterval is the cached-polling cadence when the daemon is up.
const pricePollInterval = 500 * time.Millisecond

// PriceUpdate is one observed mid price. CachedAt is 0 in direct-push mode.
type PriceUpdate struct {
	Coin     string
	Price    string
	CachedAt int64
}

// PriceWatcher emits the mid price for one coin. With a running daemon it
// polls the cache every 500ms; otherwise it holds its own push subscription
// to all mids. Exactly one mode is active per watcher; switching requires a
// new watcher.
type PriceWatcher struct {
	lifecycle
	coin     string
	testnet  bool
	onUpdate func(PriceUpdate)
	onError  func(error)

	socket string
	dial   func(testnet bool) transport

	client *ipc.Client
	tr     transport
	sub    unsubscriber
}

func NewPriceWatcher(coin string, testnet bool, onUpdate func(PriceUpdate), onError func(error)) *PriceWatcher {
	return &PriceWatcher{
		lifecycle: newLifecycle(),
		coin:      coin,
		testnet:   testnet,
		onUpdate:  onUpdate,
		onError:   onError,
		socket:    paths.Socket(),
		dial:      dialNetwork,
	}
}

func (w *PriceWatcher) Start(ctx context.Context) error {
	if !w.begin() {
		return nil
	}

	if ipc.ServerRunning(w.socket) {
		if c := ipc.TryConnect(w.socket); c != nil {
			w.client = c
			go w.pollLoop()
			return nil
		}
		// Socket exists but nobody answers; fall through to direct push.
	}

	w.tr = w.dial(w.testnet)
	if err := startTransport(ctx, w.tr); err != nil {
		return err
	}
	sub, err := w.tr.Subscribe(exchange.Subscription{Type: exchange.SubAllMids}, w.onPush)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

func (w *PriceWatcher) Stop() {
	if !w.end() {
		return
	}
	teardown(w.sub, w.tr)
	if w.client != nil {
		_ = w.client.Close()
	}
}

func (w *PriceWatcher) pollLoop() {
	ticker := time.NewTicker(pricePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			mids, cachedAt, err := w.client.GetPrices(w.coin)
			if err != nil {
				select {
				case <-w.stopCh:
					return
				default:
				}
				w.onError(err)
				continue
			}
			for symbol, px := range mids {
				w.onUpdate(PriceUpdate{Coin: symbol, Price: px, CachedAt: cachedAt})
			}
		}
	}
}

func (w *PriceWatcher) onPush(data json.RawMessage) {
	var payload exchange.AllMids
	if err := json.Unmarshal(data, &payload); err != nil {
		w.onError(err)
		return
	}
	for symbol, px := range payload.Mids {
		if strings.EqualFold(symbol, w.coin) {
			w.onUpdate(PriceUpdate{Coin: symbol, Price: px})
			return
		}
	}
}
