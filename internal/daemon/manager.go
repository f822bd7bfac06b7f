package daemon

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperdrift/hl/internal/cache"
	"github.com/hyperdrift/hl/internal/exchange"
)

// Unsubscriber cancels one active subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Transport is the slice of the websocket transport the manager drives.
type Transport interface {
	Dial(ctx context.Context)
	WaitReady(ctx context.Context) error
	Subscribe(sub exchange.Subscription, h exchange.Handler) (Unsubscriber, error)
	Connected() bool
	Close() error
}

// MetaSource is the slice of the info client the manager needs for the
// slow-moving perp-metadata slot.
type MetaSource interface {
	AllPerpMetas(ctx context.Context) ([]exchange.PerpMeta, error)
}

// wsTransport adapts *exchange.Transport to the Transport interface.
type wsTransport struct {
	*exchange.Transport
}

func (t wsTransport) Subscribe(sub exchange.Subscription, h exchange.Handler) (Unsubscriber, error) {
	return t.Transport.Subscribe(sub, h)
}

// Manager owns the push transport: it subscribes the two live feeds into
// their cache slots and keeps the perp-metadata slot fresh over HTTP. It
// never reconnects itself; that is the transport's job.
type Manager struct {
	transport Transport
	info      MetaSource
	cache     *cache.Cache
	metrics   *Metrics
	refresh   time.Duration

	handles  []Unsubscriber
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager wires a manager around a concrete websocket transport.
func NewManager(t *exchange.Transport, info MetaSource, c *cache.Cache, m *Metrics, refresh time.Duration) *Manager {
	return newManager(wsTransport{t}, info, c, m, refresh)
}

func newManager(t Transport, info MetaSource, c *cache.Cache, m *Metrics, refresh time.Duration) *Manager {
	if refresh <= 0 {
		refresh = time.Minute
	}
	return &Manager{
		transport: t,
		info:      info,
		cache:     c,
		metrics:   m,
		refresh:   refresh,
		stopCh:    make(chan struct{}),
	}
}

// Start connects, waits for the transport to come up, subscribes the live
// feeds and primes the perp-metadata slot. Returns once the cache is being
// fed.
func (m *Manager) Start(ctx context.Context) error {
	m.transport.Dial(ctx)
	if err := m.transport.WaitReady(ctx); err != nil {
		return err
	}

	h, err := m.transport.Subscribe(exchange.Subscription{Type: exchange.SubAllMids}, m.onMids)
	if err != nil {
		return err
	}
	m.handles = append(m.handles, h)

	h, err = m.transport.Subscribe(exchange.Subscription{Type: exchange.SubAllDexsAssetCtxs}, m.onAssetCtxs)
	if err != nil {
		return err
	}
	m.handles = append(m.handles, h)

	// Prime perp metadata; a failure here is retried by the refresh loop.
	if err := m.refreshPerpMetas(ctx); err != nil {
		log.Warn().Err(err).Msg("initial perp metadata fetch failed")
	}

	m.wg.Add(1)
	go m.refreshLoop(ctx)

	log.Info().Dur("refresh", m.refresh).Msg("subscription manager started")
	return nil
}

// Stop cancels the refresh loop, unsubscribes in reverse order and closes
// the transport. Idempotent; no unsubscribe error blocks progress.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		for i := len(m.handles) - 1; i >= 0; i-- {
			if err := m.handles[i].Unsubscribe(); err != nil {
				log.Debug().Err(err).Msg("unsubscribe during stop")
			}
		}
		if err := m.transport.Close(); err != nil {
			log.Debug().Err(err).Msg("transport close during stop")
		}
		log.Info().Msg("subscription manager stopped")
	})
}

// Connected reports whether the push transport's socket is open.
func (m *Manager) Connected() bool {
	return m.transport.Connected()
}

func (m *Manager) onMids(data json.RawMessage) {
	var payload exchange.AllMids
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().Err(err).Msg("dropping unparseable mids event")
		return
	}
	m.cache.Put(cache.SlotMids, payload.Mids)
	if m.metrics != nil {
		m.metrics.CacheUpdates.WithLabelValues(string(cache.SlotMids)).Inc()
	}
}

func (m *Manager) onAssetCtxs(data json.RawMessage) {
	var payload []exchange.DexAssetCtxs
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().Err(err).Msg("dropping unparseable asset-contexts event")
		return
	}
	m.cache.Put(cache.SlotAssetCtxs, payload)
	if m.metrics != nil {
		m.metrics.CacheUpdates.WithLabelValues(string(cache.SlotAssetCtxs)).Inc()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.refreshPerpMetas(ctx); err != nil {
				// Push-driven slots stay fresh regardless.
				log.Warn().Err(err).Msg("perp metadata refresh failed")
				if m.metrics != nil {
					m.metrics.RefreshFailures.Inc()
				}
			}
		}
	}
}

func (m *Manager) refreshPerpMetas(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	metas, err := m.info.AllPerpMetas(ctx)
	if err != nil {
		return err
	}
	m.cache.Put(cache.SlotPerpMetas, metas)
	if m.metrics != nil {
		m.metrics.CacheUpdates.WithLabelValues(string(cache.SlotPerpMetas)).Inc()
	}
	return nil
}
