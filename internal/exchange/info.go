package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Info is the read-only HTTP client for the exchange's info endpoint. Every
// query is a POST of {"type": <name>, ...} to /info. Requests pass through a
// token-bucket limiter and a circuit breaker so that a flapping upstream
// fails fast instead of stacking timeouts.
type Info struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewInfo creates an info client for the given base URL (no trailing slash).
func NewInfo(baseURL string) *Info {
	return &Info{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "info",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("info circuit breaker state change")
			},
		}),
	}
}

// NewInfoForNetwork creates an info client for mainnet or testnet.
func NewInfoForNetwork(testnet bool) *Info {
	return NewInfo(HTTPURL(testnet))
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
	Dex  string `json:"dex,omitempty"`
}

func (c *Info) post(ctx context.Context, req infoRequest) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshaling info request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("info %s: %w", req.Type, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("info %s: reading response: %w", req.Type, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("info %s: status %d: %s", req.Type, resp.StatusCode, bytes.TrimSpace(data))
		}
		return json.RawMessage(data), nil
	})
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}

func (c *Info) postInto(ctx context.Context, req infoRequest, out any) error {
	raw, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("info %s: decoding response: %w", req.Type, err)
	}
	return nil
}

// AllMids returns the current mid price for every asset.
func (c *Info) AllMids(ctx context.Context) (map[string]string, error) {
	var mids map[string]string
	if err := c.postInto(ctx, infoRequest{Type: "allMids"}, &mids); err != nil {
		return nil, err
	}
	return mids, nil
}

// Meta returns the perp universe for the default dex.
func (c *Info) Meta(ctx context.Context) (*Meta, error) {
	var m Meta
	if err := c.postInto(ctx, infoRequest{Type: "meta"}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AllPerpMetas returns perp market descriptors across every dex, flattened
// in upstream order.
func (c *Info) AllPerpMetas(ctx context.Context) ([]PerpMeta, error) {
	var metas []Meta
	if err := c.postInto(ctx, infoRequest{Type: "allPerpMetas"}, &metas); err != nil {
		return nil, err
	}
	var out []PerpMeta
	for _, m := range metas {
		out = append(out, m.Universe...)
	}
	return out, nil
}

// MetaAndAssetCtxs returns the perp universe together with the per-asset
// market snapshots, index-aligned.
func (c *Info) MetaAndAssetCtxs(ctx context.Context) (*Meta, []AssetContext, error) {
	raw, err := c.post(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return nil, nil, err
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return nil, nil, fmt.Errorf("info metaAndAssetCtxs: unexpected response shape")
	}
	var m Meta
	if err := json.Unmarshal(pair[0], &m); err != nil {
		return nil, nil, fmt.Errorf("info metaAndAssetCtxs: decoding meta: %w", err)
	}
	var ctxs []AssetContext
	if err := json.Unmarshal(pair[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("info metaAndAssetCtxs: decoding contexts: %w", err)
	}
	return &m, ctxs, nil
}

// SpotMeta returns the spot universe, opaquely.
func (c *Info) SpotMeta(ctx context.Context) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "spotMeta"})
}

// ClearinghouseState returns the perp account state for an address.
func (c *Info) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	return c.post(ctx, infoRequest{Type: "clearinghouseState", User: user})
}

// SpotClearinghouseState returns the spot balances for an address.
func (c *Info) SpotClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "spotClearinghouseState", User: user})
}

// OpenOrders returns the full current open-orders list for an address.
func (c *Info) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	var orders []OpenOrder
	if err := c.postInto(ctx, infoRequest{Type: "openOrders", User: user}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// L2Book returns the current two-sided book for a coin.
func (c *Info) L2Book(ctx context.Context, coin string) (*L2Book, error) {
	var book L2Book
	if err := c.postInto(ctx, infoRequest{Type: "l2Book", Coin: coin}, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// Referral returns referral info for an address, opaquely.
func (c *Info) Referral(ctx context.Context, user string) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "referral", User: user})
}

// UserRole returns the account role for an address, opaquely.
func (c *Info) UserRole(ctx context.Context, user string) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "userRole", User: user})
}

// ExtraAgents returns the approved agent wallets for an address, opaquely.
func (c *Info) ExtraAgents(ctx context.Context, user string) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "extraAgents", User: user})
}

// ActiveAssetData returns leverage and limits for one user+coin, opaquely.
func (c *Info) ActiveAssetData(ctx context.Context, user, coin string) (json.RawMessage, error) {
	return c.post(ctx, infoRequest{Type: "activeAssetData", User: user, Coin: coin})
}
