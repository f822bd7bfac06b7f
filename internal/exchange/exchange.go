package exchange

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Exchange submits signed actions: orders, cancels, leverage updates and
// referrer registration. Reads never go through here; writes never go
// through the daemon.
type Exchange struct {
	baseURL string
	http    *http.Client
	signer  Signer
}

// NewExchange creates an authenticated client for the given network.
func NewExchange(testnet bool, signer Signer) *Exchange {
	return &Exchange{
		baseURL: HTTPURL(testnet),
		http:    &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
	}
}

// OrderRequest is one limit order. Market intent is expressed upstream of
// this type as an IOC limit priced off the mid with slippage applied.
type OrderRequest struct {
	Asset      int
	IsBuy      bool
	Px         string
	Sz         string
	ReduceOnly bool
	Tif        string // "Ioc" or "Gtc"
}

// ActionResult is the exchange's response envelope for signed actions.
type ActionResult struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

type orderWire struct {
	A int    `json:"a"`
	B bool   `json:"b"`
	P string `json:"p"`
	S string `json:"s"`
	R bool   `json:"r"`
	T struct {
		Limit struct {
			Tif string `json:"tif"`
		} `json:"limit"`
	} `json:"t"`
}

// Order places a single limit order for the given asset index.
func (e *Exchange) Order(ctx context.Context, req OrderRequest) (*ActionResult, error) {
	var o orderWire
	o.A = req.Asset
	o.B = req.IsBuy
	o.P = req.Px
	o.S = req.Sz
	o.R = req.ReduceOnly
	o.T.Limit.Tif = req.Tif
	if o.T.Limit.Tif == "" {
		o.T.Limit.Tif = "Ioc"
	}

	action := map[string]any{
		"type":     "order",
		"orders":   []orderWire{o},
		"grouping": "na",
	}
	return e.post(ctx, action)
}

// Cancel cancels one resting order by asset index and order id.
func (e *Exchange) Cancel(ctx context.Context, asset int, oid int64) (*ActionResult, error) {
	action := map[string]any{
		"type": "cancel",
		"cancels": []map[string]any{
			{"a": asset, "o": oid},
		},
	}
	return e.post(ctx, action)
}

// UpdateLeverage sets leverage for one asset.
func (e *Exchange) UpdateLeverage(ctx context.Context, asset, leverage int, cross bool) (*ActionResult, error) {
	action := map[string]any{
		"type":     "updateLeverage",
		"asset":    asset,
		"isCross":  cross,
		"leverage": leverage,
	}
	return e.post(ctx, action)
}

// SetReferrer registers a referral code for the signing account.
func (e *Exchange) SetReferrer(ctx context.Context, code string) (*ActionResult, error) {
	action := map[string]any{
		"type": "setReferrer",
		"code": code,
	}
	return e.post(ctx, action)
}

func (e *Exchange) post(ctx context.Context, action map[string]any) (*ActionResult, error) {
	if e.signer == nil {
		return nil, ErrNoSigningKey
	}

	nonce := uint64(time.Now().UnixMilli())
	sig, err := e.signAction(action, nonce)
	if err != nil {
		return nil, fmt.Errorf("signing action: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange action: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange action: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange action: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result ActionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("exchange action: decoding response: %w", err)
	}
	if result.Status != "ok" {
		return &result, fmt.Errorf("exchange rejected action: %s", bytes.TrimSpace(result.Response))
	}
	return &result, nil
}

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// signAction hashes the canonical action encoding together with the nonce
// and signs the digest with the account key.
func (e *Exchange) signAction(action map[string]any, nonce uint64) (*wireSignature, error) {
	encoded, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	digest := crypto.Keccak256(encoded, nonceBytes[:])

	raw, err := e.signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(raw))
	}
	return &wireSignature{
		R: "0x" + hex.EncodeToString(raw[:32]),
		S: "0x" + hex.EncodeToString(raw[32:64]),
		V: int(raw[64]) + 27,
	}, nil
}
