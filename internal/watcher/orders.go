package watcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperdrift/hl/internal/exchange"
)

// ordersSource is the pull side of the orders watcher.
type ordersSource interface {
	OpenOrders(ctx context.Context, user string) ([]exchange.OpenOrder, error)
}

// OrdersWatcher streams the full open-orders list for an address. Push
// events only announce that something changed; the HTTP pull is the
// authoritative snapshot, so every event triggers an unconditional re-pull.
// Two rapid pushes may coalesce into one emitted snapshot.
type OrdersWatcher struct {
	lifecycle
	user     string
	testnet  bool
	onUpdate func([]exchange.OpenOrder)
	onError  func(error)

	dial func(testnet bool) transport
	info ordersSource
	tr   transport
	sub  unsubscriber

	pullMu sync.Mutex
}

func NewOrdersWatcher(user string, testnet bool, onUpdate func([]exchange.OpenOrder), onError func(error)) *OrdersWatcher {
	return &OrdersWatcher{
		lifecycle: newLifecycle(),
		user:      user,
		testnet:   testnet,
		onUpdate:  onUpdate,
		onError:   onError,
		dial:      dialNetwork,
		info:      exchange.NewInfoForNetwork(testnet),
	}
}

func (w *OrdersWatcher) Start(ctx context.Context) error {
	if !w.begin() {
		return nil
	}

	w.tr = w.dial(w.testnet)
	if err := startTransport(ctx, w.tr); err != nil {
		return err
	}

	sub, err := w.tr.Subscribe(
		exchange.Subscription{Type: exchange.SubOrderUpdates, User: w.user},
		func(json.RawMessage) { w.pull() },
	)
	if err != nil {
		return err
	}
	w.sub = sub

	// Initial snapshot before the first push arrives.
	w.pull()
	return nil
}

func (w *OrdersWatcher) Stop() {
	if !w.end() {
		return
	}
	teardown(w.sub, w.tr)
}

// pull fetches and emits the current open-orders list. Pull errors surface
// through onError and never tear down the subscription.
func (w *OrdersWatcher) pull() {
	w.pullMu.Lock()
	defer w.pullMu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orders, err := w.info.OpenOrders(ctx, w.user)
	if err != nil {
		w.onError(err)
		return
	}
	w.onUpdate(orders)
}
