// Package exchange talks to the upstream perpetual-futures exchange: an HTTP
// info client for pulls, a reconnecting websocket transport for push feeds,
// and an authenticated client for signed actions.
package exchange

import "encoding/json"

// Network endpoints. Testnet and mainnet differ only in host.
const (
	MainnetHTTPURL = "https://api.hyperliquid.xyz"
	MainnetWSURL   = "wss://api.hyperliquid.xyz/ws"
	TestnetHTTPURL = "https://api.hyperliquid-testnet.xyz"
	TestnetWSURL   = "wss://api.hyperliquid-testnet.xyz/ws"
)

// HTTPURL returns the info/exchange base URL for the chosen network.
func HTTPURL(testnet bool) string {
	if testnet {
		return TestnetHTTPURL
	}
	return MainnetHTTPURL
}

// WSURL returns the websocket URL for the chosen network.
func WSURL(testnet bool) string {
	if testnet {
		return TestnetWSURL
	}
	return MainnetWSURL
}

// AssetContext is the per-asset market snapshot reported by the exchange.
// All prices and volumes are decimal strings; converting to floats would
// silently lose exchange-reported precision.
type AssetContext struct {
	DayNtlVlm    string   `json:"dayNtlVlm"`
	Funding      string   `json:"funding"`
	ImpactPxs    []string `json:"impactPxs,omitempty"`
	MarkPx       string   `json:"markPx"`
	MidPx        *string  `json:"midPx"`
	OpenInterest string   `json:"openInterest"`
	OraclePx     string   `json:"oraclePx"`
	Premium      *string  `json:"premium"`
	PrevDayPx    string   `json:"prevDayPx"`
	DayBaseVlm   string   `json:"dayBaseVlm"`
}

// DexAssetCtxs pairs a dex (logical sub-market) name with its asset contexts,
// in upstream order.
type DexAssetCtxs struct {
	Dex  string         `json:"dex"`
	Ctxs []AssetContext `json:"ctxs"`
}

// PerpMeta describes one perpetual market.
type PerpMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
}

// Meta is the perp universe as returned by the meta endpoint.
type Meta struct {
	Universe []PerpMeta `json:"universe"`
}

// L2Level is one price level of an order book side.
type L2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// L2Book is the raw two-sided book: levels[0] bids, levels[1] asks.
type L2Book struct {
	Coin   string       `json:"coin"`
	Levels [2][]L2Level `json:"levels"`
	Time   int64        `json:"time"`
}

// OpenOrder is one resting order from the openOrders endpoint. The HTTP pull
// is authoritative; order-update push events only trigger a re-pull.
type OpenOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"`
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	OrigSz    string `json:"origSz,omitempty"`
}

// AllMids is the mids push payload: symbol to mid price.
type AllMids struct {
	Mids map[string]string `json:"mids"`
}

// ClearinghouseState is carried opaquely; the daemon and watchers forward it
// without interpreting individual fields.
type ClearinghouseState = json.RawMessage
