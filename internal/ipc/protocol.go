// Package ipc implements the daemon's local-socket protocol: newline
// delimited JSON objects over a unix stream socket. One connection carries
// arbitrarily many interleaved requests; responses are matched by id.
package ipc

import "encoding/json"

// Method names.
const (
	MethodGetPrices    = "getPrices"
	MethodGetAssetCtxs = "getAssetCtxs"
	MethodGetPerpMeta  = "getPerpMeta"
	MethodGetStatus    = "getStatus"
	MethodShutdown     = "shutdown"
)

// Error strings that cross the wire. Clients match on these verbatim.
const (
	ErrMsgNoData           = "No data available"
	ErrMsgRequestTimeout   = "Request timeout"
	ErrMsgConnectionClosed = "Connection closed"
)

// Request is one framed request. The id is chosen by the client and opaque
// to the server.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one framed response. Exactly one of Result and Error is set;
// CachedAt is present only on cache reads.
type Response struct {
	ID       string          `json:"id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	CachedAt int64           `json:"cached_at,omitempty"`
}

// OK builds a success response, marshaling the result value.
func OK(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return Fail(id, "internal error: "+err.Error())
	}
	return Response{ID: id, Result: raw}
}

// Cached builds a success response carrying the cache timestamp (epoch ms).
func Cached(id string, result any, cachedAt int64) Response {
	r := OK(id, result)
	if r.Error == "" {
		r.CachedAt = cachedAt
	}
	return r
}

// Fail builds an error response.
func Fail(id, msg string) Response {
	return Response{ID: id, Error: msg}
}
