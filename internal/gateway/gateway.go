// Package gateway routes read operations: serve from the daemon's cache
// when a healthy daemon is reachable, otherwise issue one direct upstream
// call. Exactly one daemon attempt, at most one HTTP call, never a retry
// loop. Writes bypass the gateway entirely.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperdrift/hl/internal/exchange"
	"github.com/hyperdrift/hl/internal/ipc"
	"github.com/hyperdrift/hl/internal/paths"
)

// InfoSource is the slice of the upstream info client the gateway falls
// back to.
type InfoSource interface {
	AllMids(ctx context.Context) (map[string]string, error)
	MetaAndAssetCtxs(ctx context.Context) (*exchange.Meta, []exchange.AssetContext, error)
	AllPerpMetas(ctx context.Context) ([]exchange.PerpMeta, error)
}

// Gateway is cheap to construct per CLI invocation.
type Gateway struct {
	info   InfoSource
	socket string
}

// New wires a gateway over an explicit info source and socket path.
func New(info InfoSource, socket string) *Gateway {
	return &Gateway{info: info, socket: socket}
}

// NewForNetwork builds the production gateway for mainnet or testnet.
func NewForNetwork(testnet bool) *Gateway {
	return New(exchange.NewInfoForNetwork(testnet), paths.Socket())
}

// tryDaemon runs fn against a freshly connected client, closing it either
// way. ok=false means "fall back now".
func (g *Gateway) tryDaemon(fn func(c *ipc.Client) error) bool {
	c := ipc.TryConnect(g.socket)
	if c == nil {
		return false
	}
	defer c.Close()
	if err := fn(c); err != nil {
		log.Debug().Err(err).Msg("daemon read failed, falling back to upstream")
		return false
	}
	return true
}

// Prices returns mids, optionally filtered to one coin (case-insensitive).
// cachedAt is 0 when served directly from upstream.
func (g *Gateway) Prices(ctx context.Context, coin string) (map[string]string, int64, error) {
	var (
		mids     map[string]string
		cachedAt int64
	)
	ok := g.tryDaemon(func(c *ipc.Client) error {
		var err error
		mids, cachedAt, err = c.GetPrices(coin)
		return err
	})
	if ok {
		return mids, cachedAt, nil
	}

	all, err := g.info.AllMids(ctx)
	if err != nil {
		return nil, 0, err
	}
	if coin == "" {
		return all, 0, nil
	}
	for symbol, px := range all {
		if strings.EqualFold(symbol, coin) {
			return map[string]string{symbol: px}, 0, nil
		}
	}
	return nil, 0, fmt.Errorf("Coin not found: %s", strings.ToUpper(coin))
}

// AssetCtxs returns the per-dex asset contexts as the daemon stores them.
// The direct path serves the default dex only, which is all the upstream
// exposes over a single pull.
func (g *Gateway) AssetCtxs(ctx context.Context) (json.RawMessage, int64, error) {
	var (
		raw      json.RawMessage
		cachedAt int64
	)
	ok := g.tryDaemon(func(c *ipc.Client) error {
		var err error
		raw, cachedAt, err = c.GetAssetCtxs()
		return err
	})
	if ok {
		return raw, cachedAt, nil
	}

	_, ctxs, err := g.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, 0, err
	}
	direct, err := json.Marshal([]exchange.DexAssetCtxs{{Dex: "", Ctxs: ctxs}})
	if err != nil {
		return nil, 0, err
	}
	return direct, 0, nil
}

// PerpMetas returns perp market descriptors.
func (g *Gateway) PerpMetas(ctx context.Context) ([]exchange.PerpMeta, int64, error) {
	var (
		metas    []exchange.PerpMeta
		cachedAt int64
	)
	ok := g.tryDaemon(func(c *ipc.Client) error {
		raw, at, err := c.GetPerpMeta()
		if err != nil {
			return err
		}
		cachedAt = at
		return json.Unmarshal(raw, &metas)
	})
	if ok {
		return metas, cachedAt, nil
	}

	metas, err := g.info.AllPerpMetas(ctx)
	if err != nil {
		return nil, 0, err
	}
	return metas, 0, nil
}

// MetaAndAssetCtxs returns the perp universe with index-aligned contexts.
// The daemon path reads both cache slots over one connection; any miss
// falls back to the single combined upstream pull.
func (g *Gateway) MetaAndAssetCtxs(ctx context.Context) (*exchange.Meta, []exchange.AssetContext, error) {
	var (
		meta exchange.Meta
		ctxs []exchange.AssetContext
	)
	ok := g.tryDaemon(func(c *ipc.Client) error {
		raw, _, err := c.GetPerpMeta()
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &meta.Universe); err != nil {
			return err
		}
		raw, _, err = c.GetAssetCtxs()
		if err != nil {
			return err
		}
		var byDex []exchange.DexAssetCtxs
		if err := json.Unmarshal(raw, &byDex); err != nil {
			return err
		}
		ctxs = nil
		for _, d := range byDex {
			ctxs = append(ctxs, d.Ctxs...)
		}
		return nil
	})
	if ok {
		return &meta, ctxs, nil
	}

	return g.info.MetaAndAssetCtxs(ctx)
}
