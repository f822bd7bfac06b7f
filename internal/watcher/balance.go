package watcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperdrift/hl/internal/exchange"
)

// spotSource is the pull side of the balance watcher.
type spotSource interface {
	SpotClearinghouseState(ctx context.Context, user string) (json.RawMessage, error)
}

// BalanceUpdate merges the pushed perp state with the latest pulled spot
// snapshot. Spot may be nil until the first successful pull.
type BalanceUpdate struct {
	Perp json.RawMessage `json:"perp"`
	Spot json.RawMessage `json:"spot,omitempty"`
}

// BalanceWatcher streams merged perp+spot account state: clearinghouse
// pushes carry the perp side and trigger a spot pull. A failed spot pull
// keeps the previous spot snapshot so the merged update still goes out.
// This variant also backs the portfolio view.
type BalanceWatcher struct {
	lifecycle
	user     string
	testnet  bool
	onUpdate func(BalanceUpdate)
	onError  func(error)

	dial func(testnet bool) transport
	info spotSource
	tr   transport
	sub  unsubscriber

	mu       sync.Mutex
	lastSpot json.RawMessage
}

func NewBalanceWatcher(user string, testnet bool, onUpdate func(BalanceUpdate), onError func(error)) *BalanceWatcher {
	w := &BalanceWatcher{
		lifecycle: newLifecycle(),
		user:      user,
		testnet:   testnet,
		onUpdate:  onUpdate,
		onError:   onError,
		dial:      dialNetwork,
		info:      exchange.NewInfoForNetwork(testnet),
	}
	return w
}

func (w *BalanceWatcher) Start(ctx context.Context) error {
	if !w.begin() {
		return nil
	}

	w.tr = w.dial(w.testnet)
	if err := startTransport(ctx, w.tr); err != nil {
		return err
	}

	sub, err := w.tr.Subscribe(
		exchange.Subscription{Type: exchange.SubAllDexsClearinghouse, User: w.user},
		w.onPush,
	)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

func (w *BalanceWatcher) Stop() {
	if !w.end() {
		return
	}
	teardown(w.sub, w.tr)
}

func (w *BalanceWatcher) onPush(perp json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	spot, err := w.info.SpotClearinghouseState(ctx, w.user)
	w.mu.Lock()
	if err != nil {
		// Retain the previous spot snapshot; the merged update still goes out.
		spot = w.lastSpot
	} else {
		w.lastSpot = spot
	}
	w.mu.Unlock()
	if err != nil {
		w.onError(err)
	}

	w.onUpdate(BalanceUpdate{Perp: perp, Spot: spot})
}
