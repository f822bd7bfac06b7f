package watcher

import (
	"context"
	"encoding/json"

	"github.com/hyperdrift/hl/internal/exchange"
)

// PositionWatcher streams raw clearinghouse state for an address. Events
// are forwarded unchanged; rendering interprets them.
type PositionWatcher struct {
	lifecycle
	user     string
	testnet  bool
	onUpdate func(json.RawMessage)
	onError  func(error)

	dial func(testnet bool) transport
	tr   transport
	sub  unsubscriber
}

func NewPositionWatcher(user string, testnet bool, onUpdate func(json.RawMessage), onError func(error)) *PositionWatcher {
	return &PositionWatcher{
		lifecycle: newLifecycle(),
		user:      user,
		testnet:   testnet,
		onUpdate:  onUpdate,
		onError:   onError,
		dial:      dialNetwork,
	}
}

func (w *PositionWatcher) Start(ctx context.Context) error {
	if !w.begin() {
		return nil
	}

	w.tr = w.dial(w.testnet)
	if err := startTransport(ctx, w.tr); err != nil {
		return err
	}

	sub, err := w.tr.Subscribe(
		exchange.Subscription{Type: exchange.SubAllDexsClearinghouse, User: w.user},
		func(data json.RawMessage) { w.onUpdate(data) },
	)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

func (w *PositionWatcher) Stop() {
	if !w.end() {
		return
	}
	teardown(w.sub, w.tr)
}
