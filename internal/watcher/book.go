package watcher

import (
	"context"
	"encoding/json"

	"github.com/hyperdrift/hl/internal/exchange"
)

// BookUpdate is a normalized two-sided order book snapshot.
type BookUpdate struct {
	Bids []exchange.L2Level
	Asks []exchange.L2Level
	Time int64
}

// BookWatcher streams the L2 order book for one coin over a direct push
// subscription.
type BookWatcher struct {
	lifecycle
	coin     string
	testnet  bool
	onUpdate func(BookUpdate)
	onError  func(error)

	dial func(testnet bool) transport
	tr   transport
	sub  unsubscriber
}

func NewBookWatcher(coin string, testnet bool, onUpdate func(BookUpdate), onError func(error)) *BookWatcher {
	return &BookWatcher{
		lifecycle: newLifecycle(),
		coin:      coin,
		testnet:   testnet,
		onUpdate:  onUpdate,
		onError:   onError,
		dial:      dialNetwork,
	}
}

func (w *BookWatcher) Start(ctx context.Context) error {
	if !w.begin() {
		return nil
	}

	w.tr = w.dial(w.testnet)
	if err := startTransport(ctx, w.tr); err != nil {
		return err
	}

	sub, err := w.tr.Subscribe(exchange.Subscription{Type: exchange.SubL2Book, Coin: w.coin}, w.onPush)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

func (w *BookWatcher) Stop() {
	if !w.end() {
		return
	}
	teardown(w.sub, w.tr)
}

func (w *BookWatcher) onPush(data json.RawMessage) {
	var book exchange.L2Book
	if err := json.Unmarshal(data, &book); err != nil {
		w.onError(err)
		return
	}
	w.onUpdate(BookUpdate{
		Bids: book.Levels[0],
		Asks: book.Levels[1],
		Time: book.Time,
	})
}
