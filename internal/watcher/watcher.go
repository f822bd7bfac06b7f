// Package watcher builds cancellable live views: each watcher fuses a push
// subscription (or cached polling) with occasional HTTP pulls and emits
// normalized updates through caller-supplied sinks.
//
// Lifecycle is new → started → stopped. Stop is safe to call at any time,
// any number of times, and never panics; restarting a stopped watcher is
// not supported. Sinks run on the transport's delivery goroutine and must
// not block indefinitely.
package watcher

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hyperdrift/hl/internal/exchange"
)

// Watcher is the two-method contract shared by every variant.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
}

// unsubscriber and transport mirror the exchange transport surface the
// watchers need, so tests can substitute fakes.
type unsubscriber interface {
	Unsubscribe() error
}

type transport interface {
	Dial(ctx context.Context)
	WaitReady(ctx context.Context) error
	Subscribe(sub exchange.Subscription, h exchange.Handler) (unsubscriber, error)
	Close() error
}

type wsTransport struct {
	*exchange.Transport
}

func (t wsTransport) Subscribe(sub exchange.Subscription, h exchange.Handler) (unsubscriber, error) {
	return t.Transport.Subscribe(sub, h)
}

func dialNetwork(testnet bool) transport {
	return wsTransport{exchange.NewTransportForNetwork(testnet)}
}

// startTransport dials with a background context so the connection outlives
// the caller's start deadline: the connect loop must keep redialing after a
// drop, and only Stop (via Close) ends it. ctx bounds the first-connect wait
// alone.
func startTransport(ctx context.Context, t transport) error {
	t.Dial(context.Background())
	return t.WaitReady(ctx)
}

// lifecycle holds the state machine every watcher embeds.
type lifecycle struct {
	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
}

func newLifecycle() lifecycle {
	return lifecycle{stopCh: make(chan struct{})}
}

// begin transitions new → started. Returns false when already started or
// already stopped, making Start idempotent.
func (l *lifecycle) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return false
	}
	l.started = true
	return true
}

// end transitions to stopped. Returns false when already stopped, making
// Stop idempotent; stop before start is also a no-op that still seals the
// watcher.
func (l *lifecycle) end() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.stopped = true
	close(l.stopCh)
	return true
}

// teardown unsubscribes first, then closes the transport, swallowing every
// error so a single failure cannot leak the rest.
func teardown(sub unsubscriber, t transport) {
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("watcher unsubscribe")
		}
	}
	if t != nil {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Msg("watcher transport close")
		}
	}
}
