package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// RequestTimeout bounds one round-trip. A daemon that cannot answer within
// this window is treated as unhealthy by callers.
const RequestTimeout = 5 * time.Second

// Client multiplexes requests over one connection to the daemon. Ids come
// from a monotonic counter; inbound frames are matched to pending calls.
type Client struct {
	conn    net.Conn
	counter uint64

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	writeMu sync.Mutex
}

// Connect dials the daemon socket.
func Connect(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan Response),
	}
	go c.readLoop()
	return c, nil
}

// ServerRunning is a pure filesystem probe for the socket path. It says
// nothing about whether the daemon behind it is responsive.
func ServerRunning(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// TryConnect returns a connected client or nil, never an error. Used to pick
// the fast path before falling back to direct upstream calls.
func TryConnect(path string) *Client {
	if !ServerRunning(path) {
		return nil
	}
	c, err := Connect(path)
	if err != nil {
		return nil
	}
	return c
}

// Close tears down the connection; every pending call fails with
// "Connection closed". Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	// Connection gone: reject everything still in flight.
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan Response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- Fail(id, ErrMsgConnectionClosed)
	}
}

// Call sends one request and waits for its response or the timeout.
func (c *Client) Call(method string, params any) (Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, errors.New(ErrMsgConnectionClosed)
	}
	c.counter++
	id := strconv.FormatUint(c.counter, 10)
	ch := make(chan Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.abandon(id)
			return Response{}, err
		}
		req.Params = raw
	}

	data, err := json.Marshal(req)
	if err != nil {
		c.abandon(id)
		return Response{}, err
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		return Response{}, errors.New(ErrMsgConnectionClosed)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(RequestTimeout):
		c.abandon(id)
		return Response{}, errors.New(ErrMsgRequestTimeout)
	}
}

func (c *Client) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// call unwraps the response envelope, turning a wire error into a Go error.
func (c *Client) call(method string, params, out any) (int64, error) {
	resp, err := c.Call(method, params)
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, errors.New(resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return 0, fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return resp.CachedAt, nil
}

// GetPrices returns cached mids, optionally filtered to one coin
// (case-insensitive), plus the cache timestamp.
func (c *Client) GetPrices(coin string) (map[string]string, int64, error) {
	var params any
	if coin != "" {
		params = map[string]string{"coin": coin}
	}
	var mids map[string]string
	cachedAt, err := c.call(MethodGetPrices, params, &mids)
	return mids, cachedAt, err
}

// GetAssetCtxs returns the cached per-dex asset contexts.
func (c *Client) GetAssetCtxs() (json.RawMessage, int64, error) {
	var raw json.RawMessage
	cachedAt, err := c.call(MethodGetAssetCtxs, nil, &raw)
	return raw, cachedAt, err
}

// GetPerpMeta returns the cached perp market descriptors.
func (c *Client) GetPerpMeta() (json.RawMessage, int64, error) {
	var raw json.RawMessage
	cachedAt, err := c.call(MethodGetPerpMeta, nil, &raw)
	return raw, cachedAt, err
}

// Status mirrors the daemon's getStatus result.
type Status struct {
	Running   bool        `json:"running"`
	Testnet   bool        `json:"testnet"`
	Connected bool        `json:"connected"`
	StartedAt int64       `json:"startedAt"`
	Uptime    int64       `json:"uptime"`
	Cache     CacheStatus `json:"cache"`
}

// CacheStatus summarizes slot freshness for status output.
type CacheStatus struct {
	HasMids        bool   `json:"hasMids"`
	HasAssetCtxs   bool   `json:"hasAssetCtxs"`
	HasPerpMetas   bool   `json:"hasPerpMetas"`
	MidsAgeMS      *int64 `json:"midsAgeMs,omitempty"`
	AssetCtxsAgeMS *int64 `json:"assetCtxsAgeMs,omitempty"`
	PerpMetasAgeMS *int64 `json:"perpMetasAgeMs,omitempty"`
}

// GetStatus returns the daemon's status snapshot.
func (c *Client) GetStatus() (*Status, error) {
	var st Status
	if _, err := c.call(MethodGetStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Shutdown asks the daemon to stop. A successful call returns after the
// daemon has acknowledged with {ok:true}.
func (c *Client) Shutdown() error {
	var ack struct {
		OK bool `json:"ok"`
	}
	if _, err := c.call(MethodShutdown, nil, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return errors.New("daemon did not acknowledge shutdown")
	}
	return nil
}
