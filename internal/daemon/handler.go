package daemon

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hyperdrift/hl/internal/cache"
	"github.com/hyperdrift/hl/internal/ipc"
)

// dispatcher maps IPC methods onto cache reads and daemon state. It holds no
// locks of its own; the cache serializes access.
type dispatcher struct {
	cache     *cache.Cache
	startedAt time.Time
	testnet   bool
	connected func() bool
	metrics   *Metrics
}

func (d *dispatcher) Handle(req ipc.Request) ipc.Response {
	if d.metrics != nil {
		d.metrics.IPCRequests.WithLabelValues(req.Method).Inc()
	}

	switch req.Method {
	case ipc.MethodGetPrices:
		return d.getPrices(req)
	case ipc.MethodGetAssetCtxs:
		return d.cacheRead(req.ID, cache.SlotAssetCtxs)
	case ipc.MethodGetPerpMeta:
		return d.cacheRead(req.ID, cache.SlotPerpMetas)
	case ipc.MethodGetStatus:
		return ipc.OK(req.ID, d.status())
	case ipc.MethodShutdown:
		return ipc.OK(req.ID, map[string]bool{"ok": true})
	default:
		return ipc.Fail(req.ID, "Unknown method: "+req.Method)
	}
}

func (d *dispatcher) getPrices(req ipc.Request) ipc.Response {
	v, at, ok := d.cache.Get(cache.SlotMids)
	if !ok {
		return ipc.Fail(req.ID, ipc.ErrMsgNoData)
	}
	mids, ok := v.(map[string]string)
	if !ok {
		// A writer put something unexpected into the slot; answer instead of
		// panicking the connection goroutine.
		return ipc.Fail(req.ID, "internal error: unexpected mids payload")
	}

	var params struct {
		Coin string `json:"coin"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.Coin == "" {
		return ipc.Cached(req.ID, mids, at.UnixMilli())
	}

	for symbol, px := range mids {
		if strings.EqualFold(symbol, params.Coin) {
			return ipc.Cached(req.ID, map[string]string{symbol: px}, at.UnixMilli())
		}
	}
	return ipc.Fail(req.ID, "Coin not found: "+strings.ToUpper(params.Coin))
}

func (d *dispatcher) cacheRead(id string, slot cache.Slot) ipc.Response {
	v, at, ok := d.cache.Get(slot)
	if !ok {
		return ipc.Fail(id, ipc.ErrMsgNoData)
	}
	return ipc.Cached(id, v, at.UnixMilli())
}

func (d *dispatcher) status() ipc.Status {
	now := time.Now()
	slots := d.cache.Status()
	return ipc.Status{
		Running:   true,
		Testnet:   d.testnet,
		Connected: d.connected(),
		StartedAt: d.startedAt.UnixMilli(),
		Uptime:    now.Sub(d.startedAt).Milliseconds(),
		Cache: ipc.CacheStatus{
			HasMids:        slots[cache.SlotMids].Present,
			HasAssetCtxs:   slots[cache.SlotAssetCtxs].Present,
			HasPerpMetas:   slots[cache.SlotPerpMetas].Present,
			MidsAgeMS:      slots[cache.SlotMids].AgeMS,
			AssetCtxsAgeMS: slots[cache.SlotAssetCtxs].AgeMS,
			PerpMetasAgeMS: slots[cache.SlotPerpMetas].AgeMS,
		},
	}
}
